package logging

import "runtime/debug"

// Go starts fn on a new goroutine and reports a panic through the logger
// instead of crashing the process. The name tags the report so the failing
// loop shows up in the log without reading the stack.
func Go(logger Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				OrNop(logger).Error("background goroutine %s panicked: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
