package ssh

import (
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// RunInteractive runs command over a PTY-enabled channel with the given
// streams attached to the remote terminal, blocking until the remote side
// ends. Used for attaching to persistent terminal sessions. The returned
// error reflects channel or launch failure; a nonzero remote exit surfaces
// as an *ssh.ExitError for the caller to interpret.
func (c *Client) RunInteractive(command string, in io.Reader, out io.Writer, width, height int) error {
	if !c.IsUsable() {
		return &ExecutionError{Command: command, Err: fmt.Errorf("connection not usable")}
	}

	sess, err := c.newSession()
	if err != nil {
		return &ExecutionError{Command: command, Err: err}
	}
	defer sess.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", height, width, modes); err != nil {
		return &ExecutionError{Command: command, Err: fmt.Errorf("request pty: %w", err)}
	}

	sess.Stdin = in
	sess.Stdout = out
	sess.Stderr = out

	return sess.Run(command)
}
