package mcp

import (
	"log/slog"

	"github.com/acolita/remote-vms/internal/dispatch"
	"github.com/acolita/remote-vms/internal/ssh"
	"github.com/acolita/remote-vms/internal/tmux"
	"github.com/acolita/remote-vms/internal/venv"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server implementation around one remote connection.
type Server struct {
	mcpServer *server.MCPServer

	host     string
	conn     connection
	transfer transferrer
	bridge   sessionBridge
	cells    cellRunner
	envs     envManager
}

// ServerOption configures a Server. Used by tests to substitute fakes for
// the core components.
type ServerOption func(*Server)

// WithConnection overrides the connection manager.
func WithConnection(c connection) ServerOption {
	return func(s *Server) {
		s.conn = c
	}
}

// WithTransferrer overrides the file transfer channel.
func WithTransferrer(t transferrer) ServerOption {
	return func(s *Server) {
		s.transfer = t
	}
}

// WithBridge overrides the session bridge.
func WithBridge(b sessionBridge) ServerOption {
	return func(s *Server) {
		s.bridge = b
	}
}

// WithCellRunner overrides the dispatch table.
func WithCellRunner(r cellRunner) ServerOption {
	return func(s *Server) {
		s.cells = r
	}
}

// WithEnvManager overrides environment provisioning.
func WithEnvManager(m envManager) ServerOption {
	return func(s *Server) {
		s.envs = m
	}
}

// NewServer creates an MCP server fronting client. The client must already
// be configured; Connect is the caller's responsibility.
func NewServer(client *ssh.Client, opts ...ServerOption) *Server {
	mcpServer := server.NewMCPServer(
		"remote-vms",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	bridge := tmux.NewBridge(client, client)

	s := &Server{
		mcpServer: mcpServer,
		host:      client.Host(),
		conn:      client,
		transfer:  &lazyTransfer{client: client},
		bridge:    bridge,
		cells:     dispatch.New(client, bridge),
		envs:      venv.NewManager(client),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio transport.
func (s *Server) Run() error {
	slog.Info("starting MCP server on stdio transport", slog.String("host", s.host))
	return server.ServeStdio(s.mcpServer)
}

// lazyTransfer defers opening the SFTP subsystem until first use, matching
// the connection manager's lazy SFTP channel.
type lazyTransfer struct {
	client *ssh.Client
}

func (t *lazyTransfer) Put(localPath, remotePath string) error {
	sftpClient, err := t.client.SFTP()
	if err != nil {
		return err
	}
	return sftpClient.Put(localPath, remotePath)
}

func (t *lazyTransfer) Get(remotePath, localPath string) error {
	sftpClient, err := t.client.SFTP()
	if err != nil {
		return err
	}
	return sftpClient.Get(remotePath, localPath)
}

func (t *lazyTransfer) PutDir(localDir, remoteDir, pattern string) error {
	sftpClient, err := t.client.SFTP()
	if err != nil {
		return err
	}
	return sftpClient.PutDir(localDir, remoteDir, pattern)
}

func (t *lazyTransfer) GetDir(remoteDir, localDir, pattern string) error {
	sftpClient, err := t.client.SFTP()
	if err != nil {
		return err
	}
	return sftpClient.GetDir(remoteDir, localDir, pattern)
}
