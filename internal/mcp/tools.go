package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/acolita/remote-vms/internal/ssh"
	"github.com/acolita/remote-vms/internal/venv"
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(statusTool(), s.handleStatus)
	s.mcpServer.AddTool(runTool(), s.handleRun)
	s.mcpServer.AddTool(cellTool(), s.handleCell)
	s.mcpServer.AddTool(filePutTool(), s.handleFilePut)
	s.mcpServer.AddTool(fileGetTool(), s.handleFileGet)
	s.mcpServer.AddTool(dirPutTool(), s.handleDirPut)
	s.mcpServer.AddTool(dirGetTool(), s.handleDirGet)
	s.mcpServer.AddTool(sessionSendTool(), s.handleSessionSend)
	s.mcpServer.AddTool(envSetupTool(), s.handleEnvSetup)
}

// Tool definitions

func statusTool() mcp.Tool {
	return mcp.NewTool("vms_status",
		mcp.WithDescription("Report whether the remote connection is currently usable"),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("vms_run",
		mcp.WithDescription("Execute a shell command on the remote host and return stdout, stderr and exit code"),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Command timeout in milliseconds (default: no timeout)"),
		),
	)
}

func cellTool() mcp.Tool {
	return mcp.NewTool("vms_cell",
		mcp.WithDescription(`Execute a cell on the remote host using the mode-line surface.

Mode line examples:
- ""                      shell commands
- "python"                Python, auto-detected environment
- "python:ml_env"         Python in a specific environment
- "python persistent f.py"  append to remote file and run
- "env:ml_env"            shell commands inside an activated environment
- "session:work"          inject into the persistent session 'work'`),
		mcp.WithString("line",
			mcp.Description("Mode line (empty for shell commands)"),
		),
		mcp.WithString("cell",
			mcp.Required(),
			mcp.Description("Cell content to execute"),
		),
	)
}

func filePutTool() mcp.Tool {
	return mcp.NewTool("vms_file_put",
		mcp.WithDescription("Upload a local file to the remote host (whole-file bulk transfer)"),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description("Path to the local source file"),
		),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Destination path on the remote host"),
		),
	)
}

func fileGetTool() mcp.Tool {
	return mcp.NewTool("vms_file_get",
		mcp.WithDescription("Download a remote file to the local filesystem (whole-file bulk transfer)"),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Path to the remote source file"),
		),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description("Local destination path"),
		),
	)
}

func dirPutTool() mcp.Tool {
	return mcp.NewTool("vms_dir_put",
		mcp.WithDescription(`Upload a local directory tree to the remote host.

Version-control and cache entries (.git, __pycache__, *.pyc, ...) are always
skipped; an optional glob pattern further restricts which files transfer.`),
		mcp.WithString("local_dir",
			mcp.Required(),
			mcp.Description("Path to the local source directory"),
		),
		mcp.WithString("remote_dir",
			mcp.Required(),
			mcp.Description("Destination directory on the remote host"),
		),
		mcp.WithString("pattern",
			mcp.Description("Glob pattern filtering files, e.g. **/*.py (default: all files)"),
		),
	)
}

func dirGetTool() mcp.Tool {
	return mcp.NewTool("vms_dir_get",
		mcp.WithDescription("Download a remote directory tree to the local filesystem, filtered like vms_dir_put"),
		mcp.WithString("remote_dir",
			mcp.Required(),
			mcp.Description("Path to the remote source directory"),
		),
		mcp.WithString("local_dir",
			mcp.Required(),
			mcp.Description("Local destination directory"),
		),
		mcp.WithString("pattern",
			mcp.Description("Glob pattern filtering files, e.g. **/*.py (default: all files)"),
		),
	)
}

func sessionSendTool() mcp.Tool {
	return mcp.NewTool("vms_session_send",
		mcp.WithDescription(`Inject a command into a named persistent session on the remote host.

The session is created on first use and survives disconnects. Injection is
fire-and-forget: the command's exit status is not observed.`),
		mcp.WithString("session",
			mcp.Required(),
			mcp.Description("Session name"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Command text to inject"),
		),
	)
}

func envSetupTool() mcp.Tool {
	return mcp.NewTool("vms_env_setup",
		mcp.WithDescription("Create a Python virtual environment on the remote host and install packages"),
		mcp.WithString("name",
			mcp.Description("Environment name (default: ml_env)"),
		),
		mcp.WithString("packages",
			mcp.Description("Space-separated package list (default: numpy pandas matplotlib)"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Remove and recreate an existing environment (default: false)"),
		),
	)
}

// Tool handlers

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"host":   s.host,
		"usable": s.conn.IsUsable(),
	})
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := mcp.ParseString(req, "command", "")
	timeoutMs := mcp.ParseInt(req, "timeout_ms", 0)

	if command == "" {
		return mcp.NewToolResultError("command is required"), nil
	}

	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	slog.Info("executing command", slog.String("command", command))

	result, err := s.conn.Execute(ctx, command)
	if err != nil {
		return execErrorResult(err), nil
	}
	return jsonResult(resultMap(result))
}

func (s *Server) handleCell(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line := mcp.ParseString(req, "line", "")
	cell := mcp.ParseString(req, "cell", "")

	if cell == "" {
		return mcp.NewToolResultError("cell is required"), nil
	}

	result, err := s.cells.Run(ctx, line, cell)
	if err != nil {
		return execErrorResult(err), nil
	}
	if result == nil {
		// Session mode: injected, no status to observe.
		return jsonResult(map[string]any{"status": "sent"})
	}
	return jsonResult(resultMap(result))
}

func (s *Server) handleFilePut(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	localPath := mcp.ParseString(req, "local_path", "")
	remotePath := mcp.ParseString(req, "remote_path", "")

	if localPath == "" {
		return mcp.NewToolResultError("local_path is required"), nil
	}
	if remotePath == "" {
		return mcp.NewToolResultError("remote_path is required"), nil
	}

	if err := s.transfer.Put(localPath, remotePath); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"status":      "transferred",
		"local_path":  localPath,
		"remote_path": remotePath,
	})
}

func (s *Server) handleFileGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	remotePath := mcp.ParseString(req, "remote_path", "")
	localPath := mcp.ParseString(req, "local_path", "")

	if remotePath == "" {
		return mcp.NewToolResultError("remote_path is required"), nil
	}
	if localPath == "" {
		return mcp.NewToolResultError("local_path is required"), nil
	}

	if err := s.transfer.Get(remotePath, localPath); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"status":      "transferred",
		"remote_path": remotePath,
		"local_path":  localPath,
	})
}

func (s *Server) handleDirPut(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	localDir := mcp.ParseString(req, "local_dir", "")
	remoteDir := mcp.ParseString(req, "remote_dir", "")
	pattern := mcp.ParseString(req, "pattern", "")

	if localDir == "" {
		return mcp.NewToolResultError("local_dir is required"), nil
	}
	if remoteDir == "" {
		return mcp.NewToolResultError("remote_dir is required"), nil
	}

	if err := s.transfer.PutDir(localDir, remoteDir, pattern); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"status":     "transferred",
		"local_dir":  localDir,
		"remote_dir": remoteDir,
	})
}

func (s *Server) handleDirGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	remoteDir := mcp.ParseString(req, "remote_dir", "")
	localDir := mcp.ParseString(req, "local_dir", "")
	pattern := mcp.ParseString(req, "pattern", "")

	if remoteDir == "" {
		return mcp.NewToolResultError("remote_dir is required"), nil
	}
	if localDir == "" {
		return mcp.NewToolResultError("local_dir is required"), nil
	}

	if err := s.transfer.GetDir(remoteDir, localDir, pattern); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"status":     "transferred",
		"remote_dir": remoteDir,
		"local_dir":  localDir,
	})
}

func (s *Server) handleSessionSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := mcp.ParseString(req, "session", "")
	command := mcp.ParseString(req, "command", "")

	if session == "" {
		return mcp.NewToolResultError("session is required"), nil
	}
	if command == "" {
		return mcp.NewToolResultError("command is required"), nil
	}

	if err := s.bridge.Ensure(ctx, session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.bridge.SendCommand(ctx, session, command); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"status":  "sent",
		"session": session,
	})
}

func (s *Server) handleEnvSetup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(req, "name", "")
	packages := mcp.ParseString(req, "packages", "")
	force := mcp.ParseBoolean(req, "force", false)

	output, err := s.envs.Setup(ctx, venv.SetupOptions{
		Name:           name,
		Packages:       strings.Fields(packages),
		ForceReinstall: force,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"status": "ready",
		"output": output,
	})
}

// Helpers

func resultMap(r *ssh.Result) map[string]any {
	return map[string]any{
		"stdout":    r.Stdout,
		"stderr":    r.Stderr,
		"exit_code": r.ExitCode,
	}
}

// execErrorResult maps the error taxonomy onto tool error results, marking
// timeouts distinctly so the caller knows the remote process may survive.
func execErrorResult(err error) *mcp.CallToolResult {
	var timeoutErr *ssh.TimeoutError
	if errors.As(err, &timeoutErr) {
		return mcp.NewToolResultError("timeout: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
