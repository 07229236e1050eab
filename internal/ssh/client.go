// Package ssh owns the transport connection to the remote host: it
// establishes and authenticates the connection, keeps it alive under
// idleness with a background keepalive probe, and executes commands over
// per-call logical channels.
package ssh

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acolita/remote-vms/internal/adapters/realclock"
	"github.com/acolita/remote-vms/internal/adapters/realsshdialer"
	"github.com/acolita/remote-vms/internal/ports"
	"github.com/acolita/remote-vms/internal/sftp"
	"golang.org/x/crypto/ssh"
)

// DefaultKeepaliveInterval is the period of the background liveness probe.
const DefaultKeepaliveInterval = 60 * time.Second

// Client manages the SSH connection to a single remote host. The transport
// handle is owned exclusively by the Client; command execution and file
// transfer borrow logical channels from it per operation.
type Client struct {
	config *ssh.ClientConfig
	host   string
	port   int

	mu            sync.Mutex
	conn          *ssh.Client
	keepaliveStop chan struct{}
	keepaliveDone chan struct{}
	sftpClient    *sftp.Client

	// usable is true from a successful Connect until the probe observes the
	// transport dead or Disconnect runs. It is never reset without a new
	// explicit Connect.
	usable atomic.Bool

	keepaliveInterval time.Duration

	clock  ports.Clock
	dialer ports.SSHDialer
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Host              string
	Port              int
	User              string
	AuthMethods       []ssh.AuthMethod
	HostKeyCallback   ssh.HostKeyCallback
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	Clock             ports.Clock
	Dialer            ports.SSHDialer
}

// NewClient creates a Client from the given options. It does not dial;
// call Connect.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if len(opts.AuthMethods) == 0 {
		return nil, fmt.Errorf("at least one auth method is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	config := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            opts.AuthMethods,
		HostKeyCallback: opts.HostKeyCallback,
		Timeout:         opts.Timeout,
	}

	clk := opts.Clock
	if clk == nil {
		clk = realclock.New()
	}
	dial := opts.Dialer
	if dial == nil {
		dial = realsshdialer.New()
	}

	return &Client{
		config:            config,
		host:              opts.Host,
		port:              opts.Port,
		keepaliveInterval: opts.KeepaliveInterval,
		clock:             clk,
		dialer:            dial,
	}, nil
}

// Connect establishes the transport and starts the keepalive probe. It is a
// no-op when already connected and usable; when the probe has observed the
// transport dead, Connect tears the stale transport down and dials anew.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if c.usable.Load() {
			return nil
		}
		c.teardownLocked()
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	conn, err := c.dialer.Dial("tcp", addr, c.config)
	if err != nil {
		return &ConnectionError{Addr: addr, Err: err}
	}

	c.conn = conn
	c.usable.Store(true)
	c.keepaliveStop = make(chan struct{})
	c.keepaliveDone = make(chan struct{})

	// Copy the references so the goroutine never reads struct fields that
	// Disconnect may clear.
	go c.keepalive(conn, c.keepaliveStop, c.keepaliveDone)

	return nil
}

// keepalive sends a no-op request on every tick to defeat idle-timeout
// middleboxes. The first failed request marks the connection unusable and
// ends the probe; the failure is never raised into caller code.
func (c *Client) keepalive(conn *ssh.Client, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			_, _, err := conn.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				c.usable.Store(false)
				return
			}
		}
	}
}

// IsUsable reports the last observed liveness of the transport. It never
// blocks; a false result is final until the next successful Connect.
func (c *Client) IsUsable() bool {
	return c.usable.Load()
}

// Disconnect stops the keepalive probe, waits for it to exit, and closes
// the transport. Calling it on an already-disconnected client is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teardownLocked()
}

// teardownLocked stops the probe and closes the transport, leaving the
// client ready for a fresh Connect. The probe goroutine is awaited so no
// background activity outlives the teardown. Caller holds c.mu; the probe
// never takes c.mu, so waiting here cannot deadlock.
func (c *Client) teardownLocked() error {
	c.usable.Store(false)

	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
	if c.keepaliveDone != nil {
		<-c.keepaliveDone
		c.keepaliveDone = nil
	}

	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

// Host returns the target host.
func (c *Client) Host() string {
	return c.host
}

// Port returns the target port.
func (c *Client) Port() int {
	return c.port
}

// RemoteAddr returns the remote address if connected.
func (c *Client) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.RemoteAddr()
	}
	return nil
}

// newSession opens a fresh logical channel on the transport.
func (c *Client) newSession() (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.conn.NewSession()
}

// SFTP returns the file transfer client for this connection. It is lazily
// initialized, shares the transport, and is closed by Disconnect.
func (c *Client) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	if c.sftpClient == nil {
		c.sftpClient = sftp.NewClient(c.conn)
	}
	return c.sftpClient, nil
}
