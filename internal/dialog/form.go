// Package dialog provides the interactive connection bootstrap form.
package dialog

import (
	"strconv"

	"github.com/acolita/remote-vms/internal/config"
	"github.com/charmbracelet/huh"
)

// BootstrapResult is what the form collected.
type BootstrapResult struct {
	Connection    config.ConnectionConfig
	Password      string
	SaveToKeyring bool
	Confirmed     bool
}

// RunBootstrapForm shows the connection setup form on the current terminal
// and returns the collected parameters. The password is returned separately
// so the caller decides whether it lands in the config file or the keyring.
func RunBootstrapForm(prefill config.ConnectionConfig) (BootstrapResult, error) {
	result := BootstrapResult{Connection: prefill}

	portStr := strconv.Itoa(prefill.Port)
	if portStr == "0" {
		portStr = "22"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Hostname").
				Description("SSH hostname or IP address").
				Value(&result.Connection.Hostname),

			huh.NewInput().
				Title("Port").
				Description("SSH port").
				Value(&portStr),

			huh.NewInput().
				Title("Username").
				Description("SSH username").
				Value(&result.Connection.Username),

			huh.NewInput().
				Title("Password").
				Description("Leave empty to use key-based authentication").
				EchoMode(huh.EchoModePassword).
				Value(&result.Password),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("SSH Key Path").
				Description("Path to a private key (optional)").
				Value(&result.Connection.KeyPath),

			huh.NewConfirm().
				Title("Store password in the OS keyring?").
				Value(&result.SaveToKeyring),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this connection configuration?").
				Value(&result.Confirmed),
		),
	)

	if err := form.Run(); err != nil {
		return result, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 22
	}
	result.Connection.Port = port

	return result, nil
}
