// Package mockssh provides an in-process SSH server for tests: password
// auth, exec with separate stdout/stderr streams and real exit codes, PTY
// sessions, and an SFTP subsystem serving the local filesystem.
package mockssh

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Server is a mock SSH server for testing.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	shell    string
	users    map[string]string // username -> password

	mu       sync.Mutex
	commands []string // exec requests, in order

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures the mock SSH server.
type Option func(*Server)

// WithShell sets the shell used for exec requests.
func WithShell(shell string) Option {
	return func(s *Server) {
		s.shell = shell
	}
}

// WithUser adds a username/password pair accepted for authentication.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// New starts a mock SSH server on a random loopback port. The default
// accepted login is test/test.
func New(opts ...Option) (*Server, error) {
	hostKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	s := &Server{
		shell: "/bin/sh",
		users: map[string]string{"test": "test"},
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if expected, ok := s.users[c.User()]; ok && string(password) == expected {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	config.AddHostKey(signer)
	s.config = config

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.addr
}

// Host returns the host part of the address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the numeric port the server is listening on.
func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.addr)
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return port
}

// Commands returns the exec requests handled so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *Server) recordCommand(cmd string) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
}

// Close shuts down the server and waits for in-flight handlers.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	// Keepalive and other global requests get a success reply.
	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go s.handleChannel(channel, requests)
	}
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	var ptyReq *ptyRequest

	// The command runs asynchronously so the loop stays responsive to
	// signal requests and channel teardown while the process is alive.
	var mu sync.Mutex
	var running *exec.Cmd

	kill := func() {
		mu.Lock()
		if running != nil && running.Process != nil {
			running.Process.Kill()
		}
		mu.Unlock()
	}
	defer kill()

	start := func(cmd *exec.Cmd) {
		mu.Lock()
		running = cmd
		mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runCommand(channel, cmd, ptyReq)
		}()
	}

	for req := range requests {
		switch req.Type {
		case "pty-req":
			ptyReq = parsePtyRequest(req.Payload)
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			start(exec.Command(s.shell))

		case "exec":
			command := parseString(req.Payload)
			s.recordCommand(command)
			if req.WantReply {
				req.Reply(true, nil)
			}
			start(exec.Command(s.shell, "-c", command))

		case "signal":
			if req.WantReply {
				req.Reply(true, nil)
			}
			kill()

		case "subsystem":
			name := parseString(req.Payload)
			if name != "sftp" {
				if req.WantReply {
					req.Reply(false, nil)
				}
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.serveSFTP(channel)
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// serveSFTP runs an SFTP server over the channel, backed by the local
// filesystem. Tests operate on absolute paths under t.TempDir().
func (s *Server) serveSFTP(channel ssh.Channel) {
	server, err := sftp.NewServer(channel)
	if err != nil {
		slog.Debug("sftp server init failed", slog.String("error", err.Error()))
		return
	}
	if err := server.Serve(); err != nil && err != io.EOF {
		slog.Debug("sftp server ended", slog.String("error", err.Error()))
	}
	server.Close()
}

func (s *Server) runCommand(channel ssh.Channel, cmd *exec.Cmd, ptyReq *ptyRequest) {
	cmd.Env = os.Environ()

	if ptyReq != nil {
		s.runWithPTY(channel, cmd, ptyReq)
		return
	}

	// Separate streams: stderr goes over the extended-data channel so
	// clients see distinct stdout and stderr.
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	exitCode := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	sendExitStatus(channel, exitCode)
}

func (s *Server) runWithPTY(channel ssh.Channel, cmd *exec.Cmd, ptyReq *ptyRequest) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		sendExitStatus(channel, 1)
		return
	}
	setWinsize(ptmx, ptyReq.Width, ptyReq.Height)

	done := make(chan struct{})
	go func() {
		io.Copy(channel, ptmx)
		close(done)
	}()
	go func() {
		io.Copy(ptmx, channel)
	}()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	ptmx.Close()
	<-done

	sendExitStatus(channel, exitCode)
}

func sendExitStatus(channel ssh.Channel, code int) {
	// Signal EOF on our output before delivering the status.
	channel.CloseWrite()

	payload := []byte{
		byte(code >> 24),
		byte(code >> 16),
		byte(code >> 8),
		byte(code),
	}
	channel.SendRequest("exit-status", false, payload)
	channel.Close()
}

type ptyRequest struct {
	Term   string
	Width  uint32
	Height uint32
}

func parsePtyRequest(payload []byte) *ptyRequest {
	if len(payload) < 4 {
		return &ptyRequest{Term: "xterm", Width: 80, Height: 24}
	}
	termLen := int(uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3]))
	if len(payload) < 4+termLen+8 {
		return &ptyRequest{Term: "xterm", Width: 80, Height: 24}
	}
	term := string(payload[4 : 4+termLen])
	width := uint32(payload[4+termLen])<<24 | uint32(payload[5+termLen])<<16 | uint32(payload[6+termLen])<<8 | uint32(payload[7+termLen])
	height := uint32(payload[8+termLen])<<24 | uint32(payload[9+termLen])<<16 | uint32(payload[10+termLen])<<8 | uint32(payload[11+termLen])
	return &ptyRequest{Term: term, Width: width, Height: height}
}

// parseString reads an SSH wire-format string (uint32 length prefix).
func parseString(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := int(uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3]))
	if len(payload) < 4+n {
		return ""
	}
	return string(payload[4 : 4+n])
}

func setWinsize(f *os.File, width, height uint32) {
	ws := struct {
		Row    uint16
		Col    uint16
		Xpixel uint16
		Ypixel uint16
	}{
		Row: uint16(height),
		Col: uint16(width),
	}
	syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), uintptr(syscall.TIOCSWINSZ), uintptr(unsafe.Pointer(&ws)))
}
