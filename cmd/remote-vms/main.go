// remote-vms drives command execution, file transfer, and environment-scoped
// script execution on a single remote host over a long-lived SSH connection.
// By default it serves the core as MCP tools on stdio; one-shot flags run a
// single operation and exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/acolita/remote-vms/internal/config"
	"github.com/acolita/remote-vms/internal/dialog"
	"github.com/acolita/remote-vms/internal/dispatch"
	"github.com/acolita/remote-vms/internal/logging"
	"github.com/acolita/remote-vms/internal/mcp"
	"github.com/acolita/remote-vms/internal/ssh"
	"github.com/acolita/remote-vms/internal/tmux"
)

// Version information - set at build time.
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  string
		initConfig  bool
		execCmd     string
		modeLine    string
		putSpec     string
		getSpec     string
		timeout     time.Duration
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (YAML or legacy key=value .txt)")
	flag.BoolVar(&initConfig, "init", false, "Interactively create the connection configuration")
	flag.StringVar(&execCmd, "exec", "", "Execute a single cell and exit")
	flag.StringVar(&modeLine, "line", "", "Mode line for -exec (e.g. 'python:ml_env', 'session:work')")
	flag.StringVar(&putSpec, "put", "", "Upload a file and exit: localPath:remotePath")
	flag.StringVar(&getSpec, "get", "", "Download a file and exit: remotePath:localPath")
	flag.DurationVar(&timeout, "timeout", 0, "Timeout for -exec (default: none)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("remote-vms version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if configPath == "" {
		if _, err := os.Stat(config.LegacyConfigFile); err == nil {
			configPath = config.LegacyConfigFile
		} else {
			configPath = config.DefaultConfigPath()
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	if initConfig {
		if err := runInit(cfg, configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	client, err := buildClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	slog.Info("connecting",
		slog.String("host", cfg.Connection.Hostname),
		slog.Int("port", cfg.Connection.Port),
		slog.String("user", cfg.Connection.Username),
	)
	if err := client.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "Connection failed: %v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	switch {
	case execCmd != "":
		os.Exit(runExec(client, modeLine, execCmd, timeout))
	case putSpec != "":
		os.Exit(runTransfer(client, putSpec, true))
	case getSpec != "":
		os.Exit(runTransfer(client, getSpec, false))
	}

	serveMCP(client, configPath)
}

// buildClient assembles the connection manager from configuration.
func buildClient(cfg *config.Config) (*ssh.Client, error) {
	cc := cfg.Connection
	if cc.Hostname == "" {
		return nil, fmt.Errorf("no hostname configured; run with -init first")
	}

	password, err := cc.ResolvePassword()
	if err != nil {
		return nil, err
	}

	authMethods, err := ssh.BuildAuthMethods(ssh.AuthConfig{
		Password:      password,
		KeyPath:       cc.KeyPath,
		KeyPassphrase: cc.KeyPassphrase(),
		UseAgent:      true,
	})
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := ssh.HostKeyPolicy(cc.AcceptUnknownHostKey, cc.KnownHostsPath)
	if err != nil {
		return nil, err
	}

	return ssh.NewClient(ssh.ClientOptions{
		Host:              cc.Hostname,
		Port:              cc.Port,
		User:              cc.Username,
		AuthMethods:       authMethods,
		HostKeyCallback:   hostKeyCallback,
		Timeout:           cc.ConnectTimeout,
		KeepaliveInterval: cc.KeepaliveInterval,
	})
}

// runInit collects connection parameters interactively and saves them.
func runInit(cfg *config.Config, configPath string) error {
	result, err := dialog.RunBootstrapForm(cfg.Connection)
	if err != nil {
		return err
	}
	if !result.Confirmed {
		fmt.Println("Aborted; nothing saved.")
		return nil
	}

	cfg.Connection = result.Connection
	if result.Password != "" {
		if result.SaveToKeyring {
			if err := cfg.Connection.StorePassword(result.Password); err != nil {
				return err
			}
			cfg.Connection.UseKeyring = true
		} else {
			cfg.Connection.Password = result.Password
		}
	}

	if strings.HasSuffix(configPath, ".txt") {
		configPath = config.DefaultConfigPath()
	}
	if err := config.Save(cfg, configPath); err != nil {
		return err
	}
	fmt.Printf("Configuration saved to %s\n", configPath)
	return nil
}

// runExec executes one cell through the dispatch table and prints the
// result, mirroring the remote process's exit code.
func runExec(client *ssh.Client, line, cell string, timeout time.Duration) int {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	bridge := tmux.NewBridge(client, client)
	dispatcher := dispatch.New(client, bridge)

	result, err := dispatcher.Run(ctx, line, cell)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if result == nil {
		// Injected into a persistent session; no status to report.
		return 0
	}

	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}
	if result.Stdout != "" {
		fmt.Print(result.Stdout)
	}
	return result.ExitCode
}

// runTransfer handles the one-shot -put/-get flags. The argument is
// src:dst, split on the last colon.
func runTransfer(client *ssh.Client, spec string, upload bool) int {
	idx := strings.LastIndex(spec, ":")
	if idx <= 0 || idx == len(spec)-1 {
		fmt.Fprintf(os.Stderr, "Error: transfer spec must be src:dst, got %q\n", spec)
		return 1
	}
	src, dst := spec[:idx], spec[idx+1:]

	sftpClient, err := client.SFTP()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if upload {
		err = sftpClient.Put(src, dst)
	} else {
		err = sftpClient.Get(src, dst)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// serveMCP runs the MCP server on stdio with config hot-reload.
func serveMCP(client *ssh.Client, configPath string) {
	server := mcp.NewServer(client)

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		// Connection parameters need a restart; logging applies live.
		logging.Setup(newCfg.Logging.Level, newCfg.Logging.Sanitize)
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", slog.String("error", err.Error()))
	} else {
		defer watcher.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("received shutdown signal")
		client.Disconnect()
		os.Exit(0)
	}()

	if err := server.Run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		client.Disconnect()
		os.Exit(1)
	}
}
