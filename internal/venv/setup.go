package venv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/acolita/remote-vms/internal/ssh"
)

// Executor runs a command on the remote host. Satisfied by *ssh.Client.
type Executor interface {
	Execute(ctx context.Context, command string) (*ssh.Result, error)
}

// DefaultPackages are installed when SetupOptions.Packages is empty.
var DefaultPackages = []string{"numpy", "pandas", "matplotlib"}

// SetupOptions configures Manager.Setup.
type SetupOptions struct {
	Name           string
	Packages       []string
	ForceReinstall bool
}

// Manager provisions virtual environments on the remote host.
type Manager struct {
	exec Executor
}

// NewManager creates a Manager that provisions through exec.
func NewManager(exec Executor) *Manager {
	return &Manager{exec: exec}
}

// Setup creates the environment if missing, upgrades pip, and installs the
// requested packages. With ForceReinstall the existing environment is
// removed first. Package installation output is returned for display.
func (m *Manager) Setup(ctx context.Context, opts SetupOptions) (string, error) {
	if opts.Name == "" {
		opts.Name = DefaultEnv
	}
	if len(opts.Packages) == 0 {
		opts.Packages = DefaultPackages
	}

	log := slog.With(slog.String("env", opts.Name))

	if opts.ForceReinstall {
		log.Info("removing existing environment")
		if _, err := m.exec.Execute(ctx, "rm -rf "+opts.Name); err != nil {
			return "", err
		}
	}

	res, err := m.exec.Execute(ctx, "test -d "+opts.Name)
	if err != nil {
		return "", err
	}
	if !res.Success() {
		log.Info("creating environment")
		res, err = m.exec.Execute(ctx, "python3 -m venv "+opts.Name)
		if err != nil {
			return "", err
		}
		if !res.Success() {
			return "", fmt.Errorf("create environment %s: %s", opts.Name, strings.TrimSpace(res.Stderr))
		}
	} else {
		log.Info("environment already exists")
	}

	pip := opts.Name + "/bin/pip"

	log.Info("upgrading pip")
	if res, err = m.exec.Execute(ctx, pip+" install --upgrade pip"); err != nil {
		return "", err
	}
	if !res.Success() {
		return "", fmt.Errorf("upgrade pip: %s", strings.TrimSpace(res.Stderr))
	}

	log.Info("installing packages", slog.String("packages", strings.Join(opts.Packages, " ")))
	res, err = m.exec.Execute(ctx, pip+" install "+strings.Join(opts.Packages, " "))
	if err != nil {
		return "", err
	}
	if !res.Success() {
		return "", fmt.Errorf("install packages: %s", strings.TrimSpace(res.Stderr))
	}
	installOutput := res.Stdout

	// Verification failing the grep is not fatal; the install already
	// succeeded. Surface what pip reports as installed.
	res, err = m.exec.Execute(ctx, pip+` list | grep -E "`+strings.Join(opts.Packages, "|")+`"`)
	if err != nil {
		return "", err
	}
	log.Info("environment ready", slog.String("installed", strings.TrimSpace(res.Stdout)))

	return installOutput, nil
}
