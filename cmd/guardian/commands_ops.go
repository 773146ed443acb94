package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"guardian/internal/auth/models"
	"guardian/internal/platform/httpserver"
	"guardian/internal/wallet"
	"guardian/internal/wallet/rpcprovider"
	"guardian/pkg/platform/audit/consumer"
	auditpostgres "guardian/pkg/platform/audit/store/postgres"

	"github.com/spf13/cobra"
)

func networkCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "network", Short: "Inspect or correct the wallet's network"}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the wallet's chain and whether it is the required one",
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			info, err := a.guard.Info(ctx)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), info)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (chain %d) at block %d\n", info.Name, info.ChainID, info.BlockNumber)
			if info.State != wallet.NetworkCorrect {
				req := a.guard.Required()
				fmt.Fprintf(w, "wrong network: switch to %s (chain %d) with `guardian network switch`\n", req.Name, req.ChainID)
			}
			return nil
		}),
	}

	switchCmd := &cobra.Command{
		Use:   "switch",
		Short: "Ask the wallet to move to the required network",
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			state, err := a.guard.RequestSwitch(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "network %s\n", state)
			return nil
		}),
	}

	cmd.AddCommand(status, switchCmd)
	return cmd
}

func watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow wallet changes and serve metrics until interrupted",
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if _, err := a.auth.Restore(ctx); err != nil {
				a.log.Warn("session not restored", "error", err)
			}
			a.auth.OnChange(func(u *models.AuthenticatedUser) {
				if u == nil {
					a.log.Info("signed out")
					return
				}
				a.log.Info("session changed", "user_id", u.ID.String(), "role", u.Role.String(), "stale", a.auth.Stale())
			})
			if err := a.auth.Listen(); err != nil {
				return err
			}
			if p, ok := a.provider.(*rpcprovider.Provider); ok {
				p.Start(ctx)
			}

			checks := map[string]httpserver.HealthCheck{
				"chain": func(ctx context.Context) error {
					_, err := a.chain.BlockNumber(ctx)
					return err
				},
			}
			if a.db != nil {
				checks["database"] = a.db.PingContext
			}
			if a.redis != nil {
				checks["redis"] = a.redis.Health
			}
			srv := httpserver.New(a.cfg.MetricsAddr, httpserver.OpsRouter(a.registry, checks))

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("ops server listening", "addr", a.cfg.MetricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return err
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}),
	}
}

func auditCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Audit trail"}

	list := &cobra.Command{
		Use:   "list [subject]",
		Short: "List audit events for a subject, or the most recent ones",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(false, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if a.db == nil {
				return errors.New("audit list needs GUARDIAN_DATABASE_URL")
			}
			store := auditpostgres.New(a.db)
			limit, _ := cmd.Flags().GetInt("limit")
			var err error
			var events any
			if len(args) == 1 {
				events, err = store.ListBySubject(ctx, args[0])
			} else {
				events, err = store.ListRecent(ctx, limit)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), events)
		}),
	}
	list.Flags().Int("limit", 50, "how many recent events to show")

	materialize := &cobra.Command{
		Use:   "materialize",
		Short: "Copy audit events from Kafka into Postgres until interrupted",
		RunE: run(false, func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			if a.db == nil || len(a.cfg.Audit.KafkaBrokers) == 0 {
				return errors.New("audit materialize needs GUARDIAN_DATABASE_URL and GUARDIAN_KAFKA_BROKERS")
			}
			store := auditpostgres.New(a.db)
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			m, err := consumer.New(a.cfg.Audit.KafkaBrokers, a.cfg.Audit.Group, a.cfg.Audit.Topic, store, a.log)
			if err != nil {
				return err
			}
			defer m.Close()
			err = m.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}),
	}

	cmd.AddCommand(list, materialize)
	return cmd
}
