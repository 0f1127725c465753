// ABOUTME: Entry point for the chatsync terminal client
// ABOUTME: Resolves config and token, starts a sync session and runs the REPL

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/chatsync/internal/config"
	"github.com/2389/chatsync/internal/session"
)

// version is set at build time.
var version = "dev"

// configDir returns $XDG_CONFIG_HOME/chatsync, falling back to
// ~/.config/chatsync.
func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, "chatsync")
}

// getConfigPath returns the config path and whether it was chosen
// explicitly. Priority: --config flag > CHATSYNC_CONFIG > default.
func getConfigPath(flagValue string) (string, bool) {
	if flagValue != "" {
		return flagValue, true
	}
	if envPath := os.Getenv("CHATSYNC_CONFIG"); envPath != "" {
		return envPath, true
	}
	return filepath.Join(configDir(), "config.yaml"), false
}

// getToken returns the bearer token from CHATSYNC_TOKEN or the token file.
func getToken() string {
	if token := os.Getenv("CHATSYNC_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(filepath.Join(configDir(), "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// loadConfig reads the config file. A missing file at the default path
// yields defaults; a missing explicit file is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFlag string
		apiURL     string
		wsURL      string
		logLevel   string
		openID     int64
	)

	flagSet := pflag.NewFlagSet("chatsync", pflag.ContinueOnError)
	flagSet.StringVarP(&configFlag, "config", "c", "", "config file (default $XDG_CONFIG_HOME/chatsync/config.yaml)")
	flagSet.StringVar(&apiURL, "api-url", "", "REST API base URL (overrides server.api_url)")
	flagSet.StringVar(&wsURL, "ws-url", "", "websocket URL (overrides server.ws_url)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.Int64Var(&openID, "open", 0, "conversation to open after connecting")
	flagSet.BoolP("version", "v", false, "print version and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printUsage(flagSet)
		return nil
	}
	if v, _ := flagSet.GetBool("version"); v {
		fmt.Println("chatsync", version)
		return nil
	}

	configPath, explicit := getConfigPath(configFlag)
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if apiURL != "" {
		cfg.Server.APIURL = apiURL
	}
	if wsURL != "" {
		cfg.Server.WSURL = wsURL
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	token := getToken()
	if token == "" {
		return fmt.Errorf("no token: set CHATSYNC_TOKEN or write one to %s", filepath.Join(configDir(), "token"))
	}

	logger := setupLogger(cfg.Logging, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("API:       %s\n", cfg.Server.APIURL)
	green.Print("    ▶ ")
	fmt.Printf("Realtime:  %s\n", cfg.Server.WSURL)
	fmt.Println()

	authFailed := make(chan error, 1)
	s := session.New(session.Options{
		Config: cfg,
		Token:  token,
		OnAuthFailure: func(err error) {
			select {
			case authFailed <- err:
			default:
			}
			cancel()
		},
	}, logger)
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		return err
	}

	r := newREPL(s, os.Stdout)
	if openID != 0 {
		if err := s.Select(ctx, openID); err != nil {
			r.errorf("%v", err)
		} else {
			r.printHistory(openID)
		}
	}

	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	err = r.run(ctx, os.Stdin)
	s.Logout()
	select {
	case authErr := <-authFailed:
		return fmt.Errorf("session ended, token rejected (refresh %s): %w", filepath.Join(configDir(), "token"), authErr)
	default:
	}
	if err != nil {
		return err
	}
	fmt.Println("\nGoodbye!")
	return nil
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatsync: terminal client for real-time conversations.

The bearer token is read from CHATSYNC_TOKEN or $XDG_CONFIG_HOME/chatsync/token.

Usage:
  chatsync [flags]

Flags:
%s`, flagSet.FlagUsages())
}
