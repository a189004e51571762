package main

import (
	"bufio"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/tablecall/tablecall/pkg/callapi"
	"github.com/tablecall/tablecall/pkg/dialog"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <phone>",
		Short: "Open a call and read turns from stdin until the call ends",
		Long: "Each input line is one turn written as 'intent: text @slot=value'. " +
			"Lines without a known intent prefix answer the pending question.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.newClient()
			out := cmd.OutOrStdout()

			ctx, cancel := a.requestContext(cmd)
			start, err := client.StartCall(ctx, connect.NewRequest(&callapi.StartCallRequest{Phone: args[0], Channel: "cli"}))
			cancel()
			if err != nil {
				return fmt.Errorf("start call: %w", err)
			}
			callID := start.Msg.CallID
			printReply(out, start.Msg.Reply)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				req := parseLine(line)
				req.CallID = callID

				ctx, cancel := a.requestContext(cmd)
				resp, err := client.SendTurn(ctx, connect.NewRequest(req))
				cancel()
				if err != nil {
					return fmt.Errorf("send turn: %w", err)
				}
				printReply(out, resp.Msg.Reply)
				if resp.Msg.Reply.Ended {
					return nil
				}
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			ctx, cancel = a.requestContext(cmd)
			defer cancel()
			end, err := client.EndCall(ctx, connect.NewRequest(&callapi.EndCallRequest{CallID: callID, Reason: "hangup"}))
			if err != nil {
				return fmt.Errorf("end call: %w", err)
			}
			fmt.Fprintf(out, "status=%s turns=%d\n", end.Msg.Status, end.Msg.Turns)
			return nil
		},
	}
}

// parseLine reads "intent: text @slot=value ...". Without a recognized
// intent prefix the whole line is an answer.
func parseLine(line string) *callapi.SendTurnRequest {
	req := &callapi.SendTurnRequest{Intent: string(dialog.IntentAnswer)}

	var words []string
	for _, f := range strings.Fields(line) {
		if k, v, ok := strings.Cut(strings.TrimPrefix(f, "@"), "="); ok && strings.HasPrefix(f, "@") && k != "" {
			if req.Slots == nil {
				req.Slots = map[string]string{}
			}
			req.Slots[k] = strings.ReplaceAll(v, "_", " ")
			continue
		}
		words = append(words, f)
	}
	text := strings.Join(words, " ")

	if prefix, rest, ok := strings.Cut(text, ":"); ok {
		if in := dialog.ParseIntent(prefix); in != dialog.IntentUnhandled {
			req.Intent = string(in)
			text = strings.TrimSpace(rest)
		}
	}
	req.Text = text
	return req
}
