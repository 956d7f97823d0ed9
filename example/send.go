package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zereker/netlib"
)

func newSendCmd(flags *rootFlags) *cobra.Command {
	var (
		ping    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one request and print the reply",
		Long: `Connect to a server, send a send-data request (or an is-alive request
with --ping), print the matching response and disconnect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolveConfig()
			if err != nil {
				return err
			}

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			if err != nil {
				return err
			}

			req := netlib.Request{Type: netlib.RequestSendData, Data: []byte(strings.Join(args, " "))}
			if ping {
				req = netlib.Request{Type: netlib.RequestIsAlive}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := netlib.NewClient(cfg.Addr, cfg.options(logger, nil)...)
			resp, err := exchange(ctx, client, req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.Type, resp.Data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&ping, "ping", false, "send an is-alive request instead of data")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the reply")
	return cmd
}

// replyFor is the response type that answers each request type.
var replyFor = map[netlib.RequestType]netlib.ResponseType{
	netlib.RequestConnect:    netlib.ResponseConnect,
	netlib.RequestSendData:   netlib.ResponseSend,
	netlib.RequestIsAlive:    netlib.ResponseIsAlive,
	netlib.RequestDisconnect: netlib.ResponseDisconnect,
}

// exchange connects, sends req and waits for the response answering it.
// Unrelated responses, such as the greeting sent on connect, are skipped.
func exchange(ctx context.Context, client *netlib.Client, req netlib.Request) (netlib.Response, error) {
	if err := client.Start(ctx); err != nil {
		return netlib.Response{}, err
	}
	defer func() { _ = client.Stop() }()

	if err := client.SendMessage(req); err != nil {
		return netlib.Response{}, err
	}

	want := replyFor[req.Type]
	for {
		select {
		case <-ctx.Done():
			return netlib.Response{}, fmt.Errorf("waiting for %s response: %w", want, ctx.Err())
		case ev := <-client.Events():
			switch ev := ev.(type) {
			case netlib.DataReceived:
				var resp netlib.Response
				if err := resp.UnmarshalBinary(ev.Data); err != nil {
					return netlib.Response{}, err
				}
				if resp.Type == want {
					return resp, nil
				}
			case netlib.ConnectionLost:
				return netlib.Response{}, fmt.Errorf("connection lost: %s", ev.Reason)
			}
		}
	}
}
