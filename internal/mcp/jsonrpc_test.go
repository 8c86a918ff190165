package mcp

import (
	"testing"
)

func TestUnmarshalResponseRejectsWrongVersion(t *testing.T) {
	_, err := UnmarshalResponse([]byte(`{"jsonrpc":"1.0","id":"1","result":{}}`))
	if err == nil {
		t.Fatalf("expected version validation error")
	}
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected *RPCError, got %T", err)
	}
	if rpcErr.Code != InvalidRequest {
		t.Fatalf("expected InvalidRequest code, got %d", rpcErr.Code)
	}
}

func TestUnmarshalResponseRejectsInvalidJSON(t *testing.T) {
	_, err := UnmarshalResponse([]byte(`{"jsonrpc":`))
	if err == nil {
		t.Fatalf("expected parse error")
	}
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected *RPCError, got %T", err)
	}
	if rpcErr.Code != ParseError {
		t.Fatalf("expected ParseError code, got %d", rpcErr.Code)
	}
}

func TestUnmarshalRequestValidatesVersion(t *testing.T) {
	req, err := UnmarshalRequest([]byte(`{"jsonrpc":"2.0","id":"7","method":"tools/list"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Method != "tools/list" {
		t.Fatalf("unexpected method: %s", req.Method)
	}

	if _, err := UnmarshalRequest([]byte(`{"jsonrpc":"0.9","id":"7","method":"x"}`)); err == nil {
		t.Fatalf("expected version validation error")
	}
}

func TestRequestIsNotification(t *testing.T) {
	req := NewRequest("1", "tools/list", nil)
	if req.IsNotification() {
		t.Fatalf("request with ID must not be a notification")
	}
	req.ID = nil
	if !req.IsNotification() {
		t.Fatalf("request without ID must be a notification")
	}
}

func TestIDKeyNormalizesNumericAndStringIDs(t *testing.T) {
	// JSON decodes numeric ids to float64; they must match the string id the
	// client sent.
	if idKey("7") != idKey(float64(7)) {
		t.Fatalf("string %q and float64 %q keys must match", idKey("7"), idKey(float64(7)))
	}
	if idKey(float64(7)) == idKey(float64(8)) {
		t.Fatalf("distinct ids must not collide")
	}
}

func TestRequestIDGeneratorIsMonotonic(t *testing.T) {
	gen := NewRequestIDGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen.Next()
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestRPCErrorMessage(t *testing.T) {
	err := &RPCError{Code: ServerError, Message: "boom"}
	if err.Error() != "JSON-RPC error -32000: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
	err.Data = "details"
	if err.Error() != "JSON-RPC error -32000: boom (data: details)" {
		t.Fatalf("unexpected error string with data: %s", err.Error())
	}
}
