package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func registerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create backend credentials for an email address",
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			id, err := a.backend.Register(ctx, email, password(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s). Sign in with `guardian login`.\n", email, id)
			return nil
		}),
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password (or GUARDIAN_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func loginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			res, err := a.auth.LoginWithCredentials(ctx, email, password(cmd))
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printResolution(cmd.OutOrStdout(), res)
			return nil
		}),
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password (or GUARDIAN_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func loginWalletCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login-wallet",
		Short: "Sign in with the connected wallet",
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			res, err := a.auth.LoginWithWallet(ctx)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printResolution(cmd.OutOrStdout(), res)
			return nil
		}),
	}
}

func whoamiCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: run(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if resync, _ := cmd.Flags().GetBool("resync"); resync && a.auth.Current() != nil {
				if _, err := a.auth.Resync(ctx); err != nil {
					return err
				}
			}
			u := a.auth.Current()
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), u)
			}
			printUser(cmd.OutOrStdout(), u)
			return nil
		}),
	}
	cmd.Flags().Bool("resync", false, "re-resolve the role before printing")
	return cmd
}

func logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if _, err := a.auth.Restore(ctx); err != nil {
				a.log.DebugContext(ctx, "no restorable session", "error", err)
			}
			if err := a.auth.Logout(ctx); err != nil {
				return err
			}
			// Clear even when the record could not be restored.
			if err := a.sessions.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		}),
	}
}

func password(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p
	}
	return os.Getenv("GUARDIAN_PASSWORD")
}
