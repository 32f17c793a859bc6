package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/factorylink/rwslink/internal/config/store"
)

func newDeviceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage stored device profiles",
		Long: `Device profiles keep a controller's address and credentials in a
local store so commands can name a device instead of repeating
connection flags. Passwords are encrypted at rest.`,
	}
	cmd.AddCommand(newDeviceAddCommand(), newDeviceListCommand(), newDeviceRemoveCommand())
	return cmd
}

func newDeviceAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or update a device profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("device name must not be empty")
			}
			host, _ := cmd.Flags().GetString("host")
			if host == "" {
				return fmt.Errorf("--host is required")
			}
			user, _ := cmd.Flags().GetString("user")
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			port, _ := cmd.Flags().GetInt("port")

			password, err := resolvePassword(cmd)
			if err != nil {
				return err
			}

			s, err := store.Open(store.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.PutDevice(cmd.Context(), store.Device{
				Name:     name,
				Host:     host,
				Port:     port,
				Username: user,
				Password: password,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored device %q (%s@%s:%d)\n", name, user, host, port)
			return nil
		},
	}
	return cmd
}

func newDeviceListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored device profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(store.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			devices, err := s.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				encoded, err := json.MarshalIndent(devices, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
				return nil
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No devices stored.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tHOST\tPORT\tUSER")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.Name, d.Host, d.Port, d.Username)
			}
			return w.Flush()
		},
	}
}

func newDeviceRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a stored device profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(store.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteDevice(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed device %q\n", args[0])
			return nil
		},
	}
}
