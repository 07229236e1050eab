package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/acolita/remote-vms/internal/ssh"
)

// TestParseModeLine covers the mode-line grammar.
func TestParseModeLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Request
	}{
		{"empty is shell", "", Request{Mode: ModeShell}},
		{"plain command is shell", "ls -la && df -h", Request{Mode: ModeShell}},
		{"env mode", "env:ml_env", Request{Mode: ModeEnv, Env: "ml_env"}},
		{"session mode", "session:training", Request{Mode: ModeSession, Session: "training"}},
		{"bare python", "python", Request{Mode: ModePython, File: DefaultPersistentFile}},
		{"python with env", "python:proj_env", Request{Mode: ModePython, Env: "proj_env", File: DefaultPersistentFile}},
		{"python persistent", "python persistent", Request{Mode: ModePython, Persistent: true, File: DefaultPersistentFile}},
		{"python persistent named file", "python persistent model.py", Request{Mode: ModePython, Persistent: true, File: "model.py"}},
		{"python env persistent", "python:proj_env persistent", Request{Mode: ModePython, Env: "proj_env", Persistent: true, File: DefaultPersistentFile}},
		{"python env persistent named file", "python:proj_env persistent run.py", Request{Mode: ModePython, Env: "proj_env", Persistent: true, File: "run.py"}},
		{"surrounding whitespace", "  python:ml_env  ", Request{Mode: ModePython, Env: "ml_env", File: DefaultPersistentFile}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseModeLine(tt.line)
			if err != nil {
				t.Fatalf("ParseModeLine(%q) error = %v", tt.line, err)
			}
			if *got != tt.want {
				t.Errorf("ParseModeLine(%q) = %+v, want %+v", tt.line, *got, tt.want)
			}
		})
	}
}

// TestParseModeLine_Errors covers malformed mode lines.
func TestParseModeLine_Errors(t *testing.T) {
	for _, line := range []string{
		"session:",
		"env:",
		"python:",
		"python frobnicate",
	} {
		if _, err := ParseModeLine(line); err == nil {
			t.Errorf("ParseModeLine(%q) should fail", line)
		}
	}
}

// fakeExecutor records commands and answers the interpreter probe.
type fakeExecutor struct {
	commands      []string
	defaultEnvHit bool // whether the default environment "exists"
}

func (f *fakeExecutor) Execute(ctx context.Context, command string) (*ssh.Result, error) {
	f.commands = append(f.commands, command)
	if strings.HasPrefix(command, "test -f ") {
		if f.defaultEnvHit {
			return &ssh.Result{ExitCode: 0}, nil
		}
		return &ssh.Result{ExitCode: 1}, nil
	}
	return &ssh.Result{Stdout: "ok\n", ExitCode: 0}, nil
}

// fakeBridge records session operations.
type fakeBridge struct {
	ensured []string
	sent    [][2]string
}

func (f *fakeBridge) Ensure(ctx context.Context, name string) error {
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *fakeBridge) SendCommand(ctx context.Context, name, command string) error {
	f.sent = append(f.sent, [2]string{name, command})
	return nil
}

func newTestDispatcher() (*Dispatcher, *fakeExecutor, *fakeBridge) {
	exec := &fakeExecutor{}
	bridge := &fakeBridge{}
	return New(exec, bridge), exec, bridge
}

func lastCommand(t *testing.T, exec *fakeExecutor) string {
	t.Helper()
	if len(exec.commands) == 0 {
		t.Fatal("no commands executed")
	}
	return exec.commands[len(exec.commands)-1]
}

// TestRun_Shell verifies plain cells pass through untouched.
func TestRun_Shell(t *testing.T) {
	d, exec, _ := newTestDispatcher()

	res, err := d.Run(context.Background(), "", "uname -a")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res == nil || res.Stdout != "ok\n" {
		t.Errorf("expected execution result, got %+v", res)
	}
	if lastCommand(t, exec) != "uname -a" {
		t.Errorf("cell should pass through untouched, got %q", lastCommand(t, exec))
	}
}

// TestRun_Env verifies activation composition for env cells.
func TestRun_Env(t *testing.T) {
	d, exec, _ := newTestDispatcher()

	if _, err := d.Run(context.Background(), "env:ml_env", "pip list"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := ". ml_env/bin/activate && pip list"
	if lastCommand(t, exec) != want {
		t.Errorf("composed command = %q, want %q", lastCommand(t, exec), want)
	}
}

// TestRun_PythonNamedEnv verifies python cells use the named environment's
// interpreter without probing.
func TestRun_PythonNamedEnv(t *testing.T) {
	d, exec, _ := newTestDispatcher()

	if _, err := d.Run(context.Background(), "python:proj_env", "print(42)"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := "proj_env/bin/python3 << EOF\nprint(42)\nEOF"
	if lastCommand(t, exec) != want {
		t.Errorf("python command = %q, want %q", lastCommand(t, exec), want)
	}
	for _, c := range exec.commands {
		if strings.HasPrefix(c, "test -f") {
			t.Error("named environment must not trigger a probe")
		}
	}
}

// TestRun_PythonAutoDetect verifies the default environment is probed and
// used when present.
func TestRun_PythonAutoDetect(t *testing.T) {
	d, exec, _ := newTestDispatcher()
	exec.defaultEnvHit = true

	if _, err := d.Run(context.Background(), "python", "print(42)"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if exec.commands[0] != "test -f ml_env/bin/python3" {
		t.Errorf("expected interpreter probe first, got %q", exec.commands[0])
	}
	if !strings.HasPrefix(lastCommand(t, exec), "ml_env/bin/python3 << EOF") {
		t.Errorf("expected default environment interpreter, got %q", lastCommand(t, exec))
	}
}

// TestRun_PythonFallbackSystem verifies the system interpreter is used when
// no default environment exists.
func TestRun_PythonFallbackSystem(t *testing.T) {
	d, exec, _ := newTestDispatcher()

	if _, err := d.Run(context.Background(), "python", "print(42)"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.HasPrefix(lastCommand(t, exec), "python3 << EOF") {
		t.Errorf("expected system interpreter fallback, got %q", lastCommand(t, exec))
	}
}

// TestRun_PythonPersistent verifies append-and-run composition.
func TestRun_PythonPersistent(t *testing.T) {
	d, exec, _ := newTestDispatcher()

	if _, err := d.Run(context.Background(), "python:proj_env persistent model.py", "x = 1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := "cat >> model.py << EOF\nx = 1\nEOF\nproj_env/bin/python3 model.py"
	if lastCommand(t, exec) != want {
		t.Errorf("persistent command = %q, want %q", lastCommand(t, exec), want)
	}
}

// TestRun_Session verifies session cells route through the bridge and
// return no result.
func TestRun_Session(t *testing.T) {
	d, exec, bridge := newTestDispatcher()

	res, err := d.Run(context.Background(), "session:training", "python3 train.py")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res != nil {
		t.Errorf("session injection must not report a result, got %+v", res)
	}
	if len(bridge.ensured) != 1 || bridge.ensured[0] != "training" {
		t.Errorf("expected session ensured, got %v", bridge.ensured)
	}
	if len(bridge.sent) != 1 || bridge.sent[0] != [2]string{"training", "python3 train.py"} {
		t.Errorf("expected cell injected, got %v", bridge.sent)
	}
	if len(exec.commands) != 0 {
		t.Errorf("session cells must not execute directly, got %v", exec.commands)
	}
}

// TestRun_ParseErrorPropagates verifies malformed lines fail before any
// execution.
func TestRun_ParseErrorPropagates(t *testing.T) {
	d, exec, _ := newTestDispatcher()

	if _, err := d.Run(context.Background(), "session:", "ls"); err == nil {
		t.Fatal("expected parse error")
	}
	if len(exec.commands) != 0 {
		t.Errorf("nothing should execute on a parse error, got %v", exec.commands)
	}
}
