// Package mcp exposes the remote session core as MCP tools.
package mcp

import (
	"context"

	"github.com/acolita/remote-vms/internal/ssh"
	"github.com/acolita/remote-vms/internal/venv"
)

// connection abstracts the connection manager for testing.
type connection interface {
	IsUsable() bool
	Execute(ctx context.Context, command string) (*ssh.Result, error)
}

// transferrer abstracts bulk file transfer for testing.
type transferrer interface {
	Put(localPath, remotePath string) error
	Get(remotePath, localPath string) error
	PutDir(localDir, remoteDir, pattern string) error
	GetDir(remoteDir, localDir, pattern string) error
}

// sessionBridge abstracts the persistent session bridge for testing.
type sessionBridge interface {
	Ensure(ctx context.Context, name string) error
	SendCommand(ctx context.Context, name, command string) error
}

// cellRunner abstracts the dispatch table for testing.
type cellRunner interface {
	Run(ctx context.Context, line, cell string) (*ssh.Result, error)
}

// envManager abstracts environment provisioning for testing.
type envManager interface {
	Setup(ctx context.Context, opts venv.SetupOptions) (string, error)
}
