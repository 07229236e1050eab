// Package sftp provides the file transfer channel over an existing SSH
// connection: scoped remote file handles, whole-file read/write, and bulk
// put/get between the local and remote filesystems.
package sftp

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Mode selects how a remote file is opened.
type Mode int

const (
	// Read opens an existing file for reading.
	Read Mode = iota
	// Write creates or truncates the file for writing.
	Write
	// Append opens the file for writing at the end, creating it if needed.
	Append
)

func (m Mode) flags() int {
	switch m {
	case Write:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case Append:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		return os.O_RDONLY
	}
}

// TransferError reports a failed file operation: missing source, permission
// denial, or transport failure mid-transfer. Partial destination content is
// not rolled back; callers needing atomicity should write to a temporary
// remote path and Rename on success.
type TransferError struct {
	Op     string
	Local  string
	Remote string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Local != "" {
		return fmt.Sprintf("%s %s <-> %s: %v", e.Op, e.Local, e.Remote, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Remote, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Client wraps the SFTP subsystem over an existing SSH connection. The
// subsystem channel is opened lazily on first use.
type Client struct {
	sshConn    *ssh.Client
	sftpClient *sftp.Client
	mu         sync.Mutex
	closed     bool
}

// NewClient creates an SFTP client on top of sshConn.
func NewClient(sshConn *ssh.Client) *Client {
	return &Client{sshConn: sshConn}
}

func (c *Client) ensureConnected() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("sftp client is closed")
	}
	if c.sftpClient != nil {
		return c.sftpClient, nil
	}
	if c.sshConn == nil {
		return nil, fmt.Errorf("ssh connection is nil")
	}

	client, err := sftp.NewClient(c.sshConn)
	if err != nil {
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	c.sftpClient = client
	return client, nil
}

// Close closes the SFTP channel without closing the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.sftpClient != nil {
		err := c.sftpClient.Close()
		c.sftpClient = nil
		return err
	}
	return nil
}

// Open acquires a handle on the remote file at path. The caller owns the
// handle for the duration of the operation and must close it on every exit
// path.
func (c *Client) Open(path string, mode Mode) (*sftp.File, error) {
	client, err := c.ensureConnected()
	if err != nil {
		return nil, &TransferError{Op: "open", Remote: path, Err: err}
	}

	file, err := client.OpenFile(path, mode.flags())
	if err != nil {
		return nil, &TransferError{Op: "open", Remote: path, Err: err}
	}
	return file, nil
}

// ReadFile returns the full binary content of the remote file.
func (c *Client) ReadFile(path string) ([]byte, error) {
	file, err := c.Open(path, Read)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &TransferError{Op: "read", Remote: path, Err: err}
	}
	return data, nil
}

// WriteFile writes data to the remote file, overwriting existing content.
func (c *Client) WriteFile(path string, data []byte) error {
	file, err := c.Open(path, Write)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return &TransferError{Op: "write", Remote: path, Err: err}
	}
	return nil
}

// WriteString writes textual content to the remote file as UTF-8 bytes.
func (c *Client) WriteString(path, content string) error {
	return c.WriteFile(path, []byte(content))
}

// Put uploads the local file to remotePath in one bulk transfer.
func (c *Client) Put(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Op: "put", Local: localPath, Remote: remotePath, Err: err}
	}
	defer src.Close()

	dst, err := c.Open(remotePath, Write)
	if err != nil {
		return err
	}
	defer dst.Close()

	// ReadFrom uses the sftp package's concurrent write path for large files.
	if _, err := dst.ReadFrom(src); err != nil {
		return &TransferError{Op: "put", Local: localPath, Remote: remotePath, Err: err}
	}
	return nil
}

// Get downloads the remote file to localPath in one bulk transfer.
func (c *Client) Get(remotePath, localPath string) error {
	src, err := c.Open(remotePath, Read)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return &TransferError{Op: "get", Local: localPath, Remote: remotePath, Err: err}
	}
	defer dst.Close()

	if _, err := src.WriteTo(dst); err != nil {
		return &TransferError{Op: "get", Local: localPath, Remote: remotePath, Err: err}
	}
	return nil
}

// Stat returns file information for the given remote path.
func (c *Client) Stat(path string) (os.FileInfo, error) {
	client, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}
	return client.Stat(path)
}

// Mkdir creates a remote directory.
func (c *Client) Mkdir(path string) error {
	client, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return client.Mkdir(path)
}

// MkdirAll creates a remote directory and all missing parents.
func (c *Client) MkdirAll(path string) error {
	client, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return client.MkdirAll(path)
}

// Remove removes a remote file or empty directory.
func (c *Client) Remove(path string) error {
	client, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return client.Remove(path)
}

// Rename renames a remote file or directory.
func (c *Client) Rename(oldPath, newPath string) error {
	client, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return client.Rename(oldPath, newPath)
}

// ReadDir reads the contents of a remote directory.
func (c *Client) ReadDir(path string) ([]os.FileInfo, error) {
	client, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}
	return client.ReadDir(path)
}
