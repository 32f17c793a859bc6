package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/factorylink/rwslink/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rwsctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rwsctl %s\n", version.FormatVersion(version.String()))
		},
	}
}
