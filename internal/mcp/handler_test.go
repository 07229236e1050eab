package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/acolita/remote-vms/internal/ssh"
	"github.com/acolita/remote-vms/internal/venv"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// --- Test helpers ---

// fakeConn implements connection with canned responses.
type fakeConn struct {
	usable   bool
	commands []string
	result   *ssh.Result
	err      error
}

func (f *fakeConn) IsUsable() bool { return f.usable }

func (f *fakeConn) Execute(ctx context.Context, command string) (*ssh.Result, error) {
	f.commands = append(f.commands, command)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ssh.Result{Stdout: "ok\n"}, nil
}

// fakeTransfer implements transferrer recording calls.
type fakeTransfer struct {
	puts    [][2]string
	gets    [][2]string
	dirPuts [][3]string
	dirGets [][3]string
	err     error
}

func (f *fakeTransfer) Put(localPath, remotePath string) error {
	f.puts = append(f.puts, [2]string{localPath, remotePath})
	return f.err
}

func (f *fakeTransfer) Get(remotePath, localPath string) error {
	f.gets = append(f.gets, [2]string{remotePath, localPath})
	return f.err
}

func (f *fakeTransfer) PutDir(localDir, remoteDir, pattern string) error {
	f.dirPuts = append(f.dirPuts, [3]string{localDir, remoteDir, pattern})
	return f.err
}

func (f *fakeTransfer) GetDir(remoteDir, localDir, pattern string) error {
	f.dirGets = append(f.dirGets, [3]string{remoteDir, localDir, pattern})
	return f.err
}

// fakeBridge implements sessionBridge recording calls.
type fakeBridge struct {
	ensured []string
	sent    [][2]string
	err     error
}

func (f *fakeBridge) Ensure(ctx context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *fakeBridge) SendCommand(ctx context.Context, name, command string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, [2]string{name, command})
	return nil
}

// fakeCells implements cellRunner.
type fakeCells struct {
	lines  []string
	cells  []string
	result *ssh.Result
	err    error
}

func (f *fakeCells) Run(ctx context.Context, line, cell string) (*ssh.Result, error) {
	f.lines = append(f.lines, line)
	f.cells = append(f.cells, cell)
	return f.result, f.err
}

// fakeEnvs implements envManager.
type fakeEnvs struct {
	opts []venv.SetupOptions
	out  string
	err  error
}

func (f *fakeEnvs) Setup(ctx context.Context, opts venv.SetupOptions) (string, error) {
	f.opts = append(f.opts, opts)
	return f.out, f.err
}

// testServer bundles a Server with its fakes.
type testServer struct {
	srv      *Server
	conn     *fakeConn
	transfer *fakeTransfer
	bridge   *fakeBridge
	cells    *fakeCells
	envs     *fakeEnvs
}

func newTestServer() *testServer {
	ts := &testServer{
		conn:     &fakeConn{usable: true},
		transfer: &fakeTransfer{},
		bridge:   &fakeBridge{},
		cells:    &fakeCells{result: &ssh.Result{Stdout: "cell ok\n"}},
		envs:     &fakeEnvs{out: "installed"},
	}
	ts.srv = &Server{
		host:     "vm.example.com",
		conn:     ts.conn,
		transfer: ts.transfer,
		bridge:   ts.bridge,
		cells:    ts.cells,
		envs:     ts.envs,
	}
	return ts
}

func makeRequest(args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	tc, ok := mcpgo.AsTextContent(result.Content[0])
	if !ok {
		return ""
	}
	return tc.Text
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	text := resultText(result)
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("failed to parse result JSON: %v (text: %s)", err, text)
	}
	return m
}

// --- handleStatus ---

func TestHandleStatus(t *testing.T) {
	ts := newTestServer()

	result, err := ts.srv.handleStatus(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := resultJSON(t, result)
	if m["host"] != "vm.example.com" {
		t.Errorf("host = %v", m["host"])
	}
	if m["usable"] != true {
		t.Errorf("usable = %v", m["usable"])
	}

	ts.conn.usable = false
	result, _ = ts.srv.handleStatus(context.Background(), makeRequest(nil))
	if resultJSON(t, result)["usable"] != false {
		t.Error("expected usable false after degradation")
	}
}

// --- handleRun ---

func TestHandleRun_MissingCommand(t *testing.T) {
	ts := newTestServer()

	result, err := ts.srv.handleRun(context.Background(), makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error for missing command")
	}
}

func TestHandleRun_Success(t *testing.T) {
	ts := newTestServer()
	ts.conn.result = &ssh.Result{Stdout: "out\n", Stderr: "warn\n", ExitCode: 3}

	result, err := ts.srv.handleRun(context.Background(), makeRequest(map[string]any{
		"command": "make check",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}

	m := resultJSON(t, result)
	if m["stdout"] != "out\n" || m["stderr"] != "warn\n" {
		t.Errorf("streams not reported: %v", m)
	}
	// Nonzero exit is data, not a tool error.
	if m["exit_code"] != float64(3) {
		t.Errorf("exit_code = %v", m["exit_code"])
	}
	if len(ts.conn.commands) != 1 || ts.conn.commands[0] != "make check" {
		t.Errorf("executed = %v", ts.conn.commands)
	}
}

func TestHandleRun_TimeoutMarked(t *testing.T) {
	ts := newTestServer()
	ts.conn.err = &ssh.TimeoutError{Command: "sleep 100"}

	result, err := ts.srv.handleRun(context.Background(), makeRequest(map[string]any{
		"command": "sleep 100",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error on timeout")
	}
	if !strings.HasPrefix(resultText(result), "timeout:") {
		t.Errorf("timeout should be marked distinctly: %s", resultText(result))
	}
}

func TestHandleRun_ExecutionError(t *testing.T) {
	ts := newTestServer()
	ts.conn.err = &ssh.ExecutionError{Command: "x", Err: fmt.Errorf("connection not usable")}

	result, _ := ts.srv.handleRun(context.Background(), makeRequest(map[string]any{
		"command": "x",
	}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if strings.HasPrefix(resultText(result), "timeout:") {
		t.Error("non-timeout errors must not be marked as timeouts")
	}
}

// --- handleCell ---

func TestHandleCell_MissingCell(t *testing.T) {
	ts := newTestServer()

	result, _ := ts.srv.handleCell(context.Background(), makeRequest(map[string]any{
		"line": "python",
	}))
	if !result.IsError {
		t.Error("expected error for missing cell")
	}
}

func TestHandleCell_RoutesLineAndCell(t *testing.T) {
	ts := newTestServer()

	result, err := ts.srv.handleCell(context.Background(), makeRequest(map[string]any{
		"line": "env:ml_env",
		"cell": "pip list",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	if len(ts.cells.lines) != 1 || ts.cells.lines[0] != "env:ml_env" || ts.cells.cells[0] != "pip list" {
		t.Errorf("dispatch got %v / %v", ts.cells.lines, ts.cells.cells)
	}
	if resultJSON(t, result)["stdout"] != "cell ok\n" {
		t.Errorf("result not passed through: %s", resultText(result))
	}
}

func TestHandleCell_SessionInjectionHasNoResult(t *testing.T) {
	ts := newTestServer()
	ts.cells.result = nil // session mode: fire-and-forget

	result, err := ts.srv.handleCell(context.Background(), makeRequest(map[string]any{
		"line": "session:work",
		"cell": "python3 train.py",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultJSON(t, result)["status"] != "sent" {
		t.Errorf("expected sent status, got %s", resultText(result))
	}
}

// --- handleFilePut / handleFileGet ---

func TestHandleFilePut(t *testing.T) {
	ts := newTestServer()

	result, _ := ts.srv.handleFilePut(context.Background(), makeRequest(map[string]any{
		"local_path":  "/tmp/model.pt",
		"remote_path": "/home/u/model.pt",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	if len(ts.transfer.puts) != 1 || ts.transfer.puts[0] != [2]string{"/tmp/model.pt", "/home/u/model.pt"} {
		t.Errorf("puts = %v", ts.transfer.puts)
	}

	result, _ = ts.srv.handleFilePut(context.Background(), makeRequest(map[string]any{
		"remote_path": "/home/u/model.pt",
	}))
	if !result.IsError {
		t.Error("expected error for missing local_path")
	}
}

func TestHandleFileGet(t *testing.T) {
	ts := newTestServer()

	result, _ := ts.srv.handleFileGet(context.Background(), makeRequest(map[string]any{
		"remote_path": "/home/u/results.csv",
		"local_path":  "/tmp/results.csv",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	if len(ts.transfer.gets) != 1 || ts.transfer.gets[0] != [2]string{"/home/u/results.csv", "/tmp/results.csv"} {
		t.Errorf("gets = %v", ts.transfer.gets)
	}
}

func TestHandleFileGet_TransferError(t *testing.T) {
	ts := newTestServer()
	ts.transfer.err = fmt.Errorf("open /nope: no such file")

	result, _ := ts.srv.handleFileGet(context.Background(), makeRequest(map[string]any{
		"remote_path": "/nope",
		"local_path":  "/tmp/x",
	}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(resultText(result), "no such file") {
		t.Errorf("error detail lost: %s", resultText(result))
	}
}

func TestHandleDirPut(t *testing.T) {
	ts := newTestServer()

	result, _ := ts.srv.handleDirPut(context.Background(), makeRequest(map[string]any{
		"local_dir":  "/tmp/project",
		"remote_dir": "/home/u/project",
		"pattern":    "**/*.py",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	if len(ts.transfer.dirPuts) != 1 || ts.transfer.dirPuts[0] != [3]string{"/tmp/project", "/home/u/project", "**/*.py"} {
		t.Errorf("dirPuts = %v", ts.transfer.dirPuts)
	}

	result, _ = ts.srv.handleDirPut(context.Background(), makeRequest(map[string]any{
		"local_dir": "/tmp/project",
	}))
	if !result.IsError {
		t.Error("expected error for missing remote_dir")
	}
}

func TestHandleDirGet(t *testing.T) {
	ts := newTestServer()

	result, _ := ts.srv.handleDirGet(context.Background(), makeRequest(map[string]any{
		"remote_dir": "/home/u/results",
		"local_dir":  "/tmp/results",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	if len(ts.transfer.dirGets) != 1 || ts.transfer.dirGets[0] != [3]string{"/home/u/results", "/tmp/results", ""} {
		t.Errorf("dirGets = %v", ts.transfer.dirGets)
	}
}

func TestHandleDirGet_TransferError(t *testing.T) {
	ts := newTestServer()
	ts.transfer.err = fmt.Errorf("walk /nope: no such directory")

	result, _ := ts.srv.handleDirGet(context.Background(), makeRequest(map[string]any{
		"remote_dir": "/nope",
		"local_dir":  "/tmp/x",
	}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(resultText(result), "no such directory") {
		t.Errorf("error detail lost: %s", resultText(result))
	}
}

// --- handleSessionSend ---

func TestHandleSessionSend(t *testing.T) {
	ts := newTestServer()

	result, _ := ts.srv.handleSessionSend(context.Background(), makeRequest(map[string]any{
		"session": "train",
		"command": "python3 train.py",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	if len(ts.bridge.ensured) != 1 || ts.bridge.ensured[0] != "train" {
		t.Errorf("ensured = %v", ts.bridge.ensured)
	}
	if len(ts.bridge.sent) != 1 || ts.bridge.sent[0] != [2]string{"train", "python3 train.py"} {
		t.Errorf("sent = %v", ts.bridge.sent)
	}
}

func TestHandleSessionSend_Validation(t *testing.T) {
	ts := newTestServer()

	result, _ := ts.srv.handleSessionSend(context.Background(), makeRequest(map[string]any{
		"command": "ls",
	}))
	if !result.IsError {
		t.Error("expected error for missing session")
	}

	result, _ = ts.srv.handleSessionSend(context.Background(), makeRequest(map[string]any{
		"session": "work",
	}))
	if !result.IsError {
		t.Error("expected error for missing command")
	}
	if len(ts.bridge.ensured) != 0 {
		t.Errorf("nothing should be ensured on validation failure: %v", ts.bridge.ensured)
	}
}

// --- handleEnvSetup ---

func TestHandleEnvSetup(t *testing.T) {
	ts := newTestServer()

	result, _ := ts.srv.handleEnvSetup(context.Background(), makeRequest(map[string]any{
		"name":     "proj_env",
		"packages": "torch torchvision",
		"force":    true,
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	if len(ts.envs.opts) != 1 {
		t.Fatalf("opts = %v", ts.envs.opts)
	}
	opts := ts.envs.opts[0]
	if opts.Name != "proj_env" || !opts.ForceReinstall {
		t.Errorf("opts = %+v", opts)
	}
	if len(opts.Packages) != 2 || opts.Packages[0] != "torch" {
		t.Errorf("packages = %v", opts.Packages)
	}
	if resultJSON(t, result)["output"] != "installed" {
		t.Errorf("install output lost: %s", resultText(result))
	}
}

func TestHandleEnvSetup_DefaultsPassThrough(t *testing.T) {
	ts := newTestServer()

	result, _ := ts.srv.handleEnvSetup(context.Background(), makeRequest(map[string]any{}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	// Empty name and packages defer defaulting to the environment manager.
	opts := ts.envs.opts[0]
	if opts.Name != "" || len(opts.Packages) != 0 {
		t.Errorf("expected empty options passed through, got %+v", opts)
	}
}
