package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/factorylink/rwslink/pkg/rws"
)

// newRequestCommands returns one subcommand per HTTP method. They
// share flags and differ only in the verb they dispatch.
func newRequestCommands() []*cobra.Command {
	specs := []struct {
		method  string
		hasBody bool
		short   string
	}{
		{"get", false, "Fetch a resource from the controller"},
		{"post", true, "Send a command or create a resource"},
		{"put", true, "Replace a resource on the controller"},
		{"delete", false, "Delete a resource from the controller"},
	}

	cmds := make([]*cobra.Command, 0, len(specs))
	for _, spec := range specs {
		spec := spec
		cmd := &cobra.Command{
			Use:   spec.method + " <uri>",
			Short: spec.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRequest(cmd, spec.method, args[0])
			},
		}
		if spec.hasBody {
			cmd.Flags().String("data", "", "Request body")
		}
		cmd.Flags().Bool("long-timeout", false, "Use the long per-call timeout")
		cmds = append(cmds, cmd)
	}
	return cmds
}

func runRequest(cmd *cobra.Command, method, uri string) error {
	client, err := resolveClient(cmd)
	if err != nil {
		return err
	}

	if long, _ := cmd.Flags().GetBool("long-timeout"); long {
		client.SetLongTimeout()
		defer client.ResetTimeout()
	}

	started := time.Now()
	var res *rws.Result
	switch method {
	case "get":
		res = client.Get(uri)
	case "post":
		body, _ := cmd.Flags().GetString("data")
		res = client.Post(uri, body)
	case "put":
		body, _ := cmd.Flags().GetString("data")
		res = client.Put(uri, body)
	case "delete":
		res = client.Delete(uri)
	default:
		return fmt.Errorf("unknown method %q", method)
	}
	slog.Debug("request finished",
		"method", method, "uri", uri,
		"status", res.Status.String(), "elapsed", time.Since(started))

	verbose, _ := cmd.Flags().GetBool("verbose")
	fmt.Fprint(cmd.OutOrStdout(), res.Render(verbose, 0))

	if res.Status != rws.StatusOK {
		return fmt.Errorf("%s %s failed: %s", method, uri, res.Status)
	}
	return nil
}
