package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by calls on a client whose process is gone
var ErrClosed = errors.New("ephemeris process closed")

// StdioClient talks newline-delimited JSON-RPC to a local ephemeris process.
// A reader goroutine routes each response line to the call waiting on its id.
type StdioClient struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reqID  int32
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int]chan Response
	closed  bool
	readErr error
	done    chan struct{}
}

// NewStdioClient starts command with args and connects to its stdio
func NewStdioClient(command string, args []string, logger *slog.Logger) (*StdioClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	cmd := exec.Command(command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start ephemeris process: %w", err)
	}

	client := &StdioClient{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		logger:  logger,
		pending: make(map[int]chan Response),
		done:    make(chan struct{}),
	}

	go client.readLoop()
	go client.logStderr(stderr)

	logger.Info("started ephemeris process", "command", command)
	return client, nil
}

// Call writes one request line and waits for the response with the same id.
// Cancelling ctx abandons the wait; a late response is then dropped.
func (c *StdioClient) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	id := int(atomic.AddInt32(&c.reqID, 1))
	request := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	requestJSON, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.closed || c.readErr != nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_, err = c.stdin.Write(append(requestJSON, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("failed to write request: %w", err)
	}

	select {
	case resp := <-ch:
		return decode(resp, result)
	case <-ctx.Done():
		c.forget(id)
		return fmt.Errorf("failed waiting for %s response: %w", method, ctx.Err())
	case <-c.done:
		select {
		case resp := <-ch:
			return decode(resp, result)
		default:
		}
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			return ErrClosed
		}
		return fmt.Errorf("failed to read response: %w", err)
	}
}

func (c *StdioClient) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop dispatches response lines until stdout ends
func (c *StdioClient) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var response Response
		if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
			c.logger.Warn("dropping malformed ephemeris response", "error", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[response.ID]
		delete(c.pending, response.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("dropping unmatched ephemeris response", "id", response.ID)
			continue
		}
		ch <- response
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	c.readErr = err
	c.pending = make(map[int]chan Response)
	c.mu.Unlock()
	close(c.done)
}

// Close stops the process
func (c *StdioClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.stdin.Close()

	if c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil {
			c.logger.Warn("failed to kill ephemeris process", "error", err)
		}
	}
	<-c.done
	c.cmd.Wait()

	c.logger.Info("closed ephemeris process")
	return nil
}

func (c *StdioClient) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.logger.Warn("ephemeris stderr", "message", scanner.Text())
	}
}
