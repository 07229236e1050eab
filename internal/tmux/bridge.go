// Package tmux bridges command execution into named persistent terminal
// sessions on the remote host. A tmux session outlives any single transport
// connection, so commands injected through the bridge keep running across
// disconnects, at the cost of not observing their exit status.
package tmux

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/acolita/remote-vms/internal/ssh"
)

// State tracks what the bridge knows about a named session.
type State int

const (
	// StateUnknown means the session has not been probed yet.
	StateUnknown State = iota
	// StateAbsent means the last probe found no session with this name.
	StateAbsent
	// StatePresent means the session exists (probed or created).
	StatePresent
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePresent:
		return "present"
	default:
		return "unknown"
	}
}

// SessionError reports a bridge operation that could not be performed:
// sending to a session before Ensure reached present, or a failed
// create/inject command.
type SessionError struct {
	Name string
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %q: %v", e.Name, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Executor runs a command on the remote host. Satisfied by *ssh.Client.
type Executor interface {
	Execute(ctx context.Context, command string) (*ssh.Result, error)
}

// Interactor runs an interactive command over a PTY-enabled channel.
// Satisfied by *ssh.Client.
type Interactor interface {
	RunInteractive(command string, in io.Reader, out io.Writer, width, height int) error
}

// Bridge manages named tmux sessions over an Executor. State is tracked per
// name; a fresh Bridge starts every name at unknown and re-probes.
type Bridge struct {
	exec Executor
	term Interactor

	mu     sync.Mutex
	states map[string]State
}

// NewBridge creates a Bridge executing through exec. term may be nil if
// interactive attach is not needed.
func NewBridge(exec Executor, term Interactor) *Bridge {
	return &Bridge{
		exec:   exec,
		term:   term,
		states: make(map[string]State),
	}
}

// State returns what the bridge currently knows about name.
func (b *Bridge) State(name string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[name]
}

// Ensure makes the named session exist. From unknown it probes with a
// status query; a failure result means absent and triggers creation of a
// detached session. Ensure is idempotent: once a name is present, repeated
// calls issue no remote commands, so at most one session of a given name is
// ever created.
func (b *Bridge) Ensure(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.states[name] == StatePresent {
		return nil
	}

	// Only the exit status of the probe is meaningful; output is not parsed.
	res, err := b.exec.Execute(ctx, "tmux has-session -t "+quote(name)+" 2>/dev/null")
	if err != nil {
		return err
	}
	if res.Success() {
		b.states[name] = StatePresent
		return nil
	}

	b.states[name] = StateAbsent
	res, err = b.exec.Execute(ctx, "tmux new-session -d -s "+quote(name))
	if err != nil {
		return err
	}
	if !res.Success() {
		return &SessionError{Name: name, Err: fmt.Errorf("create session: %s", strings.TrimSpace(res.Stderr))}
	}

	b.states[name] = StatePresent
	return nil
}

// SendCommand injects command text into the named session followed by an
// execute keystroke. The session must already be present; calling Ensure
// first is the caller's responsibility. Delivery is fire-and-forget: the
// command's exit status is not observed.
func (b *Bridge) SendCommand(ctx context.Context, name, command string) error {
	if b.State(name) != StatePresent {
		return &SessionError{Name: name, Err: fmt.Errorf("not ensured (state %s)", b.State(name))}
	}

	res, err := b.exec.Execute(ctx, "tmux send-keys -t "+quote(name)+" "+quote(command)+" C-m")
	if err != nil {
		return err
	}
	if !res.Success() {
		return &SessionError{Name: name, Err: fmt.Errorf("send-keys: %s", strings.TrimSpace(res.Stderr))}
	}
	return nil
}

// Kill terminates the named session. The name returns to absent and a later
// Ensure will recreate it.
func (b *Bridge) Kill(ctx context.Context, name string) error {
	res, err := b.exec.Execute(ctx, "tmux kill-session -t "+quote(name))
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.states[name] = StateAbsent
	b.mu.Unlock()

	if !res.Success() {
		return &SessionError{Name: name, Err: fmt.Errorf("kill session: %s", strings.TrimSpace(res.Stderr))}
	}
	return nil
}

// Attach connects the given streams to the named session over a PTY-enabled
// channel, for a human re-entering the persistent context. Blocks until the
// remote attach ends.
func (b *Bridge) Attach(name string, in io.Reader, out io.Writer, width, height int) error {
	if b.term == nil {
		return &SessionError{Name: name, Err: fmt.Errorf("interactive attach not supported")}
	}
	if b.State(name) != StatePresent {
		return &SessionError{Name: name, Err: fmt.Errorf("not ensured (state %s)", b.State(name))}
	}
	return b.term.RunInteractive("tmux attach-session -t "+quote(name), in, out, width, height)
}

// quote wraps s in single quotes for the remote shell, escaping embedded
// single quotes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
