// Package dispatch maps the cell-magic command surface onto core
// operations. The mode line that used to be parsed inline by the notebook
// hook is parsed here into an explicit request, and a dispatch table routes
// it: shell cells execute directly, env cells compose activation first,
// python cells run through the environment's interpreter, and session cells
// inject into a persistent terminal session.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/acolita/remote-vms/internal/ssh"
	"github.com/acolita/remote-vms/internal/venv"
)

// Mode is the top-level routing decision for a cell.
type Mode int

const (
	// ModeShell executes the cell directly as shell commands.
	ModeShell Mode = iota
	// ModeEnv executes the cell as shell commands inside an activated
	// environment.
	ModeEnv
	// ModePython feeds the cell to a Python interpreter, optionally inside
	// an environment and optionally appended to a persistent script.
	ModePython
	// ModeSession injects the cell into a named persistent session.
	ModeSession
)

// DefaultPersistentFile receives appended cells when persistent mode names
// no file.
const DefaultPersistentFile = "persistent.py"

// Request is a parsed mode line.
type Request struct {
	Mode       Mode
	Env        string // environment name; empty in python mode means auto-detect
	Persistent bool
	File       string // persistent script filename
	Session    string // target session name in session mode
}

// ParseModeLine parses the first-line mode directive:
//
//	(empty)                          shell
//	env:<name>                       shell inside environment <name>
//	session:<name>                   inject into persistent session <name>
//	python                           python, auto-detected environment
//	python:<name>                    python inside environment <name>
//	python [persistent [file]]       append to file and run
//	python:<name> persistent [file]  append to file and run in environment
//
// Any other line is treated as shell; only the prefixes above change
// behavior.
func ParseModeLine(line string) (*Request, error) {
	line = strings.TrimSpace(line)

	if name, ok := strings.CutPrefix(line, "session:"); ok {
		if name == "" {
			return nil, fmt.Errorf("session mode requires a name")
		}
		return &Request{Mode: ModeSession, Session: name}, nil
	}

	if name, ok := strings.CutPrefix(line, "env:"); ok {
		if name == "" {
			return nil, fmt.Errorf("env mode requires a name")
		}
		return &Request{Mode: ModeEnv, Env: name}, nil
	}

	if !strings.HasPrefix(line, "python") {
		return &Request{Mode: ModeShell}, nil
	}

	req := &Request{Mode: ModePython, File: DefaultPersistentFile}

	var rest []string
	if _, after, found := strings.Cut(line, ":"); found {
		parts := strings.Fields(after)
		if len(parts) == 0 {
			return nil, fmt.Errorf("python mode requires an environment name after ':'")
		}
		req.Env = parts[0]
		rest = parts[1:]
	} else {
		rest = strings.Fields(line)[1:]
	}

	if len(rest) > 0 {
		if rest[0] != "persistent" {
			return nil, fmt.Errorf("unknown python mode argument %q", rest[0])
		}
		req.Persistent = true
		if len(rest) > 1 {
			req.File = rest[1]
		}
	}

	return req, nil
}

// Executor runs a command on the remote host. Satisfied by *ssh.Client.
type Executor interface {
	Execute(ctx context.Context, command string) (*ssh.Result, error)
}

// Bridge injects commands into persistent sessions. Satisfied by
// *tmux.Bridge.
type Bridge interface {
	Ensure(ctx context.Context, name string) error
	SendCommand(ctx context.Context, name, command string) error
}

// Dispatcher routes parsed requests onto the core.
type Dispatcher struct {
	exec   Executor
	bridge Bridge
}

// New creates a Dispatcher.
func New(exec Executor, bridge Bridge) *Dispatcher {
	return &Dispatcher{exec: exec, bridge: bridge}
}

// Run parses line and executes cell accordingly. In session mode the result
// is nil on success: injection is fire-and-forget and no exit status is
// observed.
func (d *Dispatcher) Run(ctx context.Context, line, cell string) (*ssh.Result, error) {
	req, err := ParseModeLine(line)
	if err != nil {
		return nil, err
	}

	switch req.Mode {
	case ModeShell:
		return d.exec.Execute(ctx, cell)

	case ModeEnv:
		return d.exec.Execute(ctx, venv.Compose(req.Env, cell))

	case ModeSession:
		if err := d.bridge.Ensure(ctx, req.Session); err != nil {
			return nil, err
		}
		return nil, d.bridge.SendCommand(ctx, req.Session, cell)

	case ModePython:
		python, err := d.resolvePython(ctx, req.Env)
		if err != nil {
			return nil, err
		}
		if req.Persistent {
			return d.exec.Execute(ctx, venv.AppendAndRun(python, cell, req.File))
		}
		return d.exec.Execute(ctx, venv.Heredoc(python, cell))
	}

	return nil, fmt.Errorf("unhandled mode %d", req.Mode)
}

// resolvePython picks the interpreter: the named environment's when given,
// otherwise the default environment's when it exists on the remote host,
// otherwise the system python3.
func (d *Dispatcher) resolvePython(ctx context.Context, env string) (string, error) {
	if env != "" {
		return venv.Python(env), nil
	}

	res, err := d.exec.Execute(ctx, "test -f "+venv.Python(venv.DefaultEnv))
	if err != nil {
		return "", err
	}
	if res.Success() {
		return venv.Python(venv.DefaultEnv), nil
	}
	return "python3", nil
}
