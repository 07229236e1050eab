// Package fakesshdialer provides a fake SSH dialer for testing.
package fakesshdialer

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Dialer is a fake SSH dialer that can be configured to return errors or specific clients.
type Dialer struct {
	DialFunc func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

	mu    sync.Mutex
	calls []DialCall
}

// DialCall records a call to Dial.
type DialCall struct {
	Network string
	Addr    string
	Config  *ssh.ClientConfig
}

// New creates a new fake Dialer that returns an error by default.
func New() *Dialer {
	return &Dialer{
		DialFunc: func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
			return nil, fmt.Errorf("fakesshdialer: not configured")
		},
	}
}

// Dial records the call and delegates to DialFunc.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Addr: addr, Config: config})
	d.mu.Unlock()
	return d.DialFunc(network, addr, config)
}

// Calls returns all recorded Dial calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DialCall, len(d.calls))
	copy(out, d.calls)
	return out
}

// SetDialFunc sets the function called by Dial.
func (d *Dialer) SetDialFunc(fn func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)) {
	d.DialFunc = fn
}

// SetError configures the dialer to always return the given error.
func (d *Dialer) SetError(err error) {
	d.DialFunc = func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, err
	}
}

// SetClient configures the dialer to always return the given client.
func (d *Dialer) SetClient(client *ssh.Client) {
	d.DialFunc = func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		return client, nil
	}
}
