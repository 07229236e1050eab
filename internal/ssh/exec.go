package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Result holds the outcome of one executed command. It is constructed once
// per execution and not mutated afterwards.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the remote process exited with status 0. Stderr
// content alone never implies failure; only the exit status is
// authoritative.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Execute runs command on a fresh logical channel and blocks until the
// remote process exits or ctx is done. Both output streams are drained to
// completion before the exit status is read, so a process that produces
// more output than the channel buffers cannot stall the status exchange.
//
// A nonzero exit status is returned as data in Result, not as an error.
// Output is buffered in memory without a fixed bound; commands expected to
// produce very large output should redirect to a remote file instead.
//
// When ctx expires, Execute requests cancellation (kill signal, channel
// close) and returns a TimeoutError, but the remote process may continue
// running detached.
func (c *Client) Execute(ctx context.Context, command string) (*Result, error) {
	if !c.IsUsable() {
		return nil, &ExecutionError{Command: command, Err: fmt.Errorf("connection not usable")}
	}

	sess, err := c.newSession()
	if err != nil {
		return nil, &ExecutionError{Command: command, Err: err}
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, &ExecutionError{Command: command, Err: err}
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return nil, &ExecutionError{Command: command, Err: err}
	}

	// Liveness can change asynchronously; re-check after the channel opened.
	if !c.IsUsable() {
		return nil, &ExecutionError{Command: command, Err: fmt.Errorf("connection became unusable")}
	}

	start := c.clock.Now()
	if err := sess.Start(command); err != nil {
		return nil, &ExecutionError{Command: command, Err: err}
	}

	var outBuf, errBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&outBuf, stdout)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&errBuf, stderr)
	}()

	// Drain both streams before blocking on exit status.
	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- sess.Wait()
	}()

	select {
	case <-ctx.Done():
		// Best effort: ask the remote to die, then tear down the channel so
		// the drain goroutines unblock.
		sess.Signal(ssh.SIGKILL)
		sess.Close()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Command: command, Elapsed: c.clock.Now().Sub(start)}
		}
		return nil, &ExecutionError{Command: command, Err: ctx.Err()}

	case waitErr := <-done:
		result := &Result{
			Stdout: outBuf.String(),
			Stderr: errBuf.String(),
		}
		if waitErr == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, &ExecutionError{Command: command, Err: waitErr}
	}
}
