package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tablecall/tablecall/internal/connectutil"
	"github.com/tablecall/tablecall/pkg/callapi"
)

type app struct {
	v *viper.Viper
	// newClient is replaced in tests.
	newClient func() callapi.CallServiceClient
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("TABLECALL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	a.newClient = a.client

	rootCmd := &cobra.Command{
		Use:           "tablecallctl",
		Short:         "Drive TableCall conversations from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "call service base URL")
	flags.String("token", "", "bearer token for the call service")
	flags.Duration("timeout", 15*time.Second, "per-request timeout")
	_ = a.v.BindPFlag("server", flags.Lookup("server"))
	_ = a.v.BindPFlag("token", flags.Lookup("token"))
	_ = a.v.BindPFlag("timeout", flags.Lookup("timeout"))

	rootCmd.AddCommand(
		newStartCmd(a),
		newTurnCmd(a),
		newEndCmd(a),
		newGetCmd(a),
		newChatCmd(a),
	)
	return rootCmd
}

func (a *app) client() callapi.CallServiceClient {
	opts := connectutil.DefaultClientOptions()
	if token := a.v.GetString("token"); token != "" {
		opts = append(opts, connect.WithInterceptors(bearer(token)))
	}
	return callapi.NewCallServiceClient(http.DefaultClient, a.v.GetString("server"), opts...)
}

func (a *app) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.v.GetDuration("timeout"))
}

func bearer(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			req.Header().Set("Authorization", "Bearer "+token)
			return next(ctx, req)
		}
	}
}
