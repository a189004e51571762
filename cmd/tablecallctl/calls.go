package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/tablecall/tablecall/pkg/callapi"
)

func newStartCmd(a *app) *cobra.Command {
	var callID, channel string
	cmd := &cobra.Command{
		Use:   "start <phone>",
		Short: "Open a call and print the greeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := a.newClient().StartCall(ctx, connect.NewRequest(&callapi.StartCallRequest{
				CallID:  callID,
				Phone:   args[0],
				Channel: channel,
			}))
			if err != nil {
				return fmt.Errorf("start call: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "call %s\n", resp.Msg.CallID)
			printReply(cmd.OutOrStdout(), resp.Msg.Reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&callID, "call-id", "", "call id (assigned by the server when empty)")
	cmd.Flags().StringVar(&channel, "channel", "cli", "channel recorded on the call log")
	return cmd
}

func newTurnCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "turn <call-id> <line>",
		Short: "Send one turn, written as 'intent: text @slot=value'",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := parseLine(strings.Join(args[1:], " "))
			req.CallID = args[0]
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := a.newClient().SendTurn(ctx, connect.NewRequest(req))
			if err != nil {
				return fmt.Errorf("send turn: %w", err)
			}
			printReply(cmd.OutOrStdout(), resp.Msg.Reply)
			return nil
		},
	}
	return cmd
}

func newEndCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "end <call-id>",
		Short: "Hang up a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := a.newClient().EndCall(ctx, connect.NewRequest(&callapi.EndCallRequest{CallID: args[0], Reason: reason}))
			if err != nil {
				return fmt.Errorf("end call: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s turns=%d\n", resp.Msg.Status, resp.Msg.Turns)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "hangup", "reason recorded on the call log")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <call-id>",
		Short: "Print a snapshot of an active call as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := a.newClient().GetCall(ctx, connect.NewRequest(&callapi.GetCallRequest{CallID: args[0]}))
			if err != nil {
				return fmt.Errorf("get call: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Msg.Call)
		},
	}
}

func printReply(w io.Writer, r callapi.Reply) {
	for _, s := range r.Say {
		fmt.Fprintf(w, "< %s\n", s)
	}
	if r.Ask != "" {
		fmt.Fprintf(w, "? %s\n", r.Ask)
	}
	if r.Flow != "" {
		fmt.Fprintf(w, "  [%s:%s]\n", r.Flow, r.State)
	}
	if r.Ended {
		fmt.Fprintln(w, "  [call ended]")
	}
}
