package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/factorylink/rwslink/pkg/rws"
)

const defaultSubscriptionProtocol = "robapi2_subscription"

func newSubscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe <uri>",
		Short: "Open a WebSocket subscription and print incoming events",
		Long: `Opens a WebSocket against the given URI, reusing the session
cookies and digest credentials of the HTTP side, and prints every
received frame until the peer closes or the process is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, args[0])
		},
	}
	cmd.Flags().String("protocol", defaultSubscriptionProtocol, "WebSocket subprotocol to request")
	cmd.Flags().Int("count", 0, "Stop after this many frames (0 means run until interrupted)")
	return cmd
}

func runSubscribe(cmd *cobra.Command, uri string) error {
	client, err := resolveClient(cmd)
	if err != nil {
		return err
	}

	// Subscription traffic is sparse; the short default timeout would
	// tear the handle down and force a re-dial on every quiet period.
	client.SetLongTimeout()

	protocol, _ := cmd.Flags().GetString("protocol")
	verbose, _ := cmd.Flags().GetBool("verbose")
	count, _ := cmd.Flags().GetInt("count")

	res := client.WebSocketConnect(uri, protocol)
	if res.Status != rws.StatusOK {
		fmt.Fprint(cmd.ErrOrStderr(), res.Render(verbose, 0))
		return fmt.Errorf("subscribe %s failed: %s", uri, res.Status)
	}
	slog.Info("subscription established", "uri", uri, "protocol", protocol)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return receiveLoop(ctx, cmd, client, uri, protocol, verbose, count)
	})
	g.Go(func() error {
		<-ctx.Done()
		// Unblocks a receive that is parked on a quiet socket.
		client.WebSocketShutdown()
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func receiveLoop(ctx context.Context, cmd *cobra.Command, client *rws.Client, uri, protocol string, verbose bool, count int) error {
	received := 0
	for {
		res := client.WebSocketReceiveFrame()
		if ctx.Err() != nil {
			return nil
		}

		switch res.Status {
		case rws.StatusOK:
		case rws.StatusTimeoutError, rws.StatusWebSocketNotAllocated:
			// A quiet period tears the handle down; dial again and
			// keep listening.
			slog.Debug("no frame before timeout, re-establishing", "uri", uri)
			if res := client.WebSocketConnect(uri, protocol); res.Status != rws.StatusOK {
				fmt.Fprint(cmd.ErrOrStderr(), res.Render(verbose, 0))
				return fmt.Errorf("re-establishing subscription failed: %s", res.Status)
			}
			if ctx.Err() != nil {
				client.WebSocketShutdown()
				return nil
			}
			continue
		default:
			fmt.Fprint(cmd.ErrOrStderr(), res.Render(verbose, 0))
			return fmt.Errorf("subscription lost: %s", res.Status)
		}

		if verbose {
			fmt.Fprint(cmd.OutOrStdout(), res.Render(true, 0))
		} else if res.Frame != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", res.Frame.Payload)
		}
		if res.Opcode() == rws.OpcodeClose {
			slog.Info("peer closed the subscription")
			return nil
		}

		received++
		if count > 0 && received >= count {
			return nil
		}
	}
}
