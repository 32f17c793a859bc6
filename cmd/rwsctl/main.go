// Command rwsctl talks to a robot controller's web services from the
// command line: one-shot HTTP calls, event subscriptions over
// WebSocket, and management of stored device profiles.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/factorylink/rwslink/internal/config"
	"github.com/factorylink/rwslink/internal/config/store"
	"github.com/factorylink/rwslink/internal/logging"
	"github.com/factorylink/rwslink/pkg/rws"
)

const passwordEnv = "RWSLINK_PASSWORD"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rwsctl",
		Short:         "Client for robot controller web services",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("device", "", "Stored device profile to connect to")
	flags.String("host", "", "Controller address (overrides --device)")
	flags.Int("port", 80, "Controller port")
	flags.String("user", "", "Digest username")
	flags.String("password", "", "Digest password (prefer "+passwordEnv+" or a stored profile)")
	flags.Bool("verbose", false, "Include protocol detail in output")
	flags.Bool("json", false, "Emit machine-readable JSON where supported")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-file", "", "Write logs to this file in addition to stderr")

	rootCmd.AddCommand(newRequestCommands()...)
	rootCmd.AddCommand(newSubscribeCommand())
	rootCmd.AddCommand(newDeviceCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func setupLogging(cmd *cobra.Command) error {
	level, _ := cmd.Flags().GetString("log-level")
	file, _ := cmd.Flags().GetString("log-file")

	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.FilePath = config.ExpandPath(file)

	_, err := logging.Setup(cfg)
	return err
}

// resolveClient builds a session client from --device or from the
// explicit connection flags. The password is taken from the profile,
// the --password flag, the environment, or an interactive prompt, in
// that order of preference.
func resolveClient(cmd *cobra.Command) (*rws.Client, error) {
	deviceName, _ := cmd.Flags().GetString("device")
	host, _ := cmd.Flags().GetString("host")

	if deviceName != "" && host == "" {
		s, err := store.Open(store.Options{})
		if err != nil {
			return nil, err
		}
		defer s.Close()

		device, err := s.GetDevice(cmd.Context(), deviceName)
		if err != nil {
			return nil, err
		}
		slog.Debug("using stored device profile", "device", device.Name, "host", device.Host)
		return rws.NewClient(device.Host, device.Port, device.Username, device.Password), nil
	}

	if host == "" {
		return nil, fmt.Errorf("either --device or --host is required")
	}
	port, _ := cmd.Flags().GetInt("port")
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return nil, fmt.Errorf("--user is required with --host")
	}

	password, err := resolvePassword(cmd)
	if err != nil {
		return nil, err
	}
	return rws.NewClient(host, port, user, password), nil
}

func resolvePassword(cmd *cobra.Command) (string, error) {
	if password, _ := cmd.Flags().GetString("password"); password != "" {
		return password, nil
	}
	if password := os.Getenv(passwordEnv); password != "" {
		return password, nil
	}
	if !terminal.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no password given: set --password, %s, or run interactively", passwordEnv)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := terminal.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
