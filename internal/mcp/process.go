package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"aria/internal/logging"
)

// Transport is the byte-level channel a client speaks JSON-RPC over. The
// production implementation is ServerProcess (a child process on stdio);
// tests substitute in-memory pipes.
type Transport interface {
	// Start makes the transport ready for Write and Reader.
	Start(ctx context.Context) error

	// Write sends one newline-terminated frame to the server.
	Write(data []byte) error

	// Reader exposes the server's output stream.
	Reader() io.Reader

	// Close tears the transport down. It must be safe to call more than once.
	Close() error
}

// ServerProcess runs an MCP server as a child process and exposes its stdio
// pipes as a Transport.
type ServerProcess struct {
	command  string
	args     []string
	env      []string
	process  *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	logger   logging.Logger
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	waitDone chan error
}

// ProcessConfig configures the MCP server process
type ProcessConfig struct {
	Command string            // Executable command
	Args    []string          // Command arguments
	Env     map[string]string // Environment variables
}

// NewServerProcess creates a transport that will spawn the configured command.
func NewServerProcess(config ProcessConfig) *ServerProcess {
	sp := &ServerProcess{
		command: config.Command,
		args:    config.Args,
		logger:  logging.NewComponentLogger(fmt.Sprintf("ServerProcess[%s]", config.Command)),
	}

	// Configured variables extend the parent environment rather than
	// replacing it, so the child still sees PATH and friends.
	if len(config.Env) > 0 {
		sp.env = os.Environ()
		for k, v := range config.Env {
			sp.env = append(sp.env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	return sp
}

// Start spawns the MCP server process
func (sp *ServerProcess) Start(ctx context.Context) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.running {
		return fmt.Errorf("process already running")
	}

	sp.stopChan = make(chan struct{})
	sp.waitDone = make(chan error, 1)

	sp.logger.Info("Starting MCP server: %s %v", sp.command, sp.args)

	resolved, err := resolveExecutable(sp.command)
	if err != nil {
		return err
	}

	sp.process = exec.CommandContext(ctx, resolved, sp.args...)
	sp.process.Env = sp.env

	sp.stdin, err = sp.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	sp.stdout, err = sp.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	sp.stderr, err = sp.process.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := sp.process.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	sp.running = true
	sp.logger.Info("MCP server started with PID: %d", sp.process.Process.Pid)

	// Monitor stderr in background
	logging.Go(sp.logger, "mcp.monitorStderr", func() {
		sp.monitorStderr()
	})

	// Monitor process exit
	logging.Go(sp.logger, "mcp.monitorExit", func() {
		sp.monitorExit()
	})

	return nil
}

func resolveExecutable(command string) (string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", fmt.Errorf("command is required")
	}
	if strings.Contains(trimmed, "\x00") {
		return "", fmt.Errorf("command contains invalid characters")
	}

	resolved, err := exec.LookPath(trimmed)
	if err != nil {
		return "", fmt.Errorf("command not found: %w", err)
	}

	return resolved, nil
}

// Close implements Transport. Graceful first, kill after the grace period.
func (sp *ServerProcess) Close() error {
	return sp.Stop(5 * time.Second)
}

// Stop gracefully stops the MCP server process
func (sp *ServerProcess) Stop(timeout time.Duration) error {
	sp.mu.Lock()
	if !sp.running {
		sp.mu.Unlock()
		return nil
	}

	sp.logger.Info("Stopping MCP server (timeout: %v)", timeout)
	sp.running = false

	stopChan := sp.stopChan
	waitDone := sp.waitDone
	process := sp.process
	stdin := sp.stdin
	sp.mu.Unlock()

	// Close stop channel to signal monitoring goroutines
	if stopChan != nil {
		close(stopChan)
	}

	// Try graceful shutdown first by closing stdin
	if stdin != nil {
		_ = stdin.Close()
	}

	if waitDone == nil {
		waitDone = make(chan error, 1)
		if process != nil {
			logging.Go(sp.logger, "mcp.waitProcess", func() {
				waitDone <- process.Wait()
			})
		}
	}

	// Wait for process to exit with timeout
	select {
	case err := <-waitDone:
		sp.logger.Info("Process exited gracefully: %v", err)
		return nil
	case <-time.After(timeout):
		// Timeout - force kill
		sp.logger.Warn("Graceful shutdown timeout, killing process")
		if process != nil && process.Process != nil {
			if err := process.Process.Kill(); err != nil {
				return fmt.Errorf("failed to kill process: %w", err)
			}
		}
		return nil
	}
}

// IsRunning checks if the process is currently running
func (sp *ServerProcess) IsRunning() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.running
}

// Write sends data to the process stdin
func (sp *ServerProcess) Write(data []byte) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if !sp.running {
		return fmt.Errorf("process not running")
	}

	if sp.stdin == nil {
		return fmt.Errorf("stdin not available")
	}

	n, err := sp.stdin.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write to stdin: %w", err)
	}

	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d/%d bytes", n, len(data))
	}

	return nil
}

// Reader returns the stdout reader
func (sp *ServerProcess) Reader() io.Reader {
	return sp.stdout
}

// monitorStderr logs stderr output from the process
func (sp *ServerProcess) monitorStderr() {
	if sp.stderr == nil {
		return
	}

	scanner := bufio.NewScanner(sp.stderr)
	for scanner.Scan() {
		select {
		case <-sp.stopChan:
			return
		default:
			line := scanner.Text()
			sp.logger.Debug("[STDERR] %s", line)
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		sp.logger.Error("Error reading stderr: %v", err)
	}
}

// monitorExit monitors when the process exits unexpectedly
func (sp *ServerProcess) monitorExit() {
	if sp.process == nil {
		return
	}

	err := sp.process.Wait()

	select {
	case sp.waitDone <- err:
	default:
	}

	sp.mu.Lock()
	wasRunning := sp.running
	sp.running = false
	sp.mu.Unlock()

	if wasRunning {
		if err != nil {
			sp.logger.Error("Process exited unexpectedly: %v", err)
		} else {
			sp.logger.Warn("Process exited unexpectedly (no error)")
		}
	}
}

var _ Transport = (*ServerProcess)(nil)
