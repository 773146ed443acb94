// Command guardian is the operator CLI for the evidence ledger: sign in by
// password or wallet, then record and inspect evidence, cases and roles.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"guardian/internal/platform/config"
	"guardian/pkg/requestcontext"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := rootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describeError(err))
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "guardian",
		Short:         "Dual-authority identity and evidence ledger client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "print machine-readable JSON")

	root.AddCommand(
		registerCommand(),
		loginCommand(),
		loginWalletCommand(),
		whoamiCommand(),
		logoutCommand(),
		evidenceCommand(),
		caseCommand(),
		firCommand(),
		custodyCommand(),
		accessCommand(),
		roleCommand(),
		networkCommand(),
		watchCommand(),
		auditCommand(),
	)
	return root
}

// run builds the app for one command. When restore is set the persisted
// session is resumed first.
func run(restore bool, fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := requestcontext.EnsureRequestID(cmd.Context())
		a, err := newApp(ctx, config.FromEnv())
		if err != nil {
			return err
		}
		defer a.Close()
		if restore {
			if err := a.restore(ctx); err != nil {
				return err
			}
		}
		return fn(ctx, a, cmd, args)
	}
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
