package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/frostpix/frostpix/internal/config"
	"github.com/frostpix/frostpix/internal/icloud"
	"github.com/frostpix/frostpix/internal/mfa"
	"github.com/frostpix/frostpix/internal/plan"
	"github.com/frostpix/frostpix/internal/retry"
	"github.com/frostpix/frostpix/internal/store"
	"github.com/frostpix/frostpix/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the remote album tree and apply the changes locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		o, err := buildOrchestrator(cfg, st, logger)
		if err != nil {
			return err
		}

		res, err := o.Run(ctx)
		if err != nil {
			return err
		}

		if res.Plan.Empty() {
			fmt.Println("Already in sync, nothing to do")
			return nil
		}
		if err := st.ApplyPlan(ctx, res.Plan); err != nil {
			return fmt.Errorf("applying plan: %w", err)
		}
		printCounts(res.Plan)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}
	return st, nil
}

func trustCache(cfg *config.Config) (*icloud.TrustTokenCache, error) {
	if cfg.Account.TrustTokenPath != "" {
		return icloud.NewTrustTokenCache(cfg.Account.TrustTokenPath), nil
	}
	return icloud.DefaultTrustTokenCache()
}

// buildOrchestrator wires the session, MFA prompt server and retry
// policy from the configuration.
func buildOrchestrator(cfg *config.Config, st *store.Store, logger zerolog.Logger) (*sync.Orchestrator, error) {
	client, err := icloud.NewClient(logger)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	cache, err := trustCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening trust token cache: %w", err)
	}

	var prompter icloud.MFAPrompter
	if !cfg.Account.FailOnMFA {
		prompter = mfa.NewServer(cfg.MFA.ListenAddr, logger)
	}

	session := icloud.NewSession(client, icloud.SessionConfig{
		Username:  cfg.Account.Username,
		Password:  cfg.Account.Password,
		FailOnMFA: cfg.Account.FailOnMFA,
		Cache:     cache,
		Prompter:  prompter,
		Logger:    logger,
	})

	return sync.New(sync.AdaptSession(session), st.Albums(), logger,
		sync.WithPageSize(cfg.Sync.PageSize),
		sync.WithConcurrency(cfg.Sync.Concurrency),
		sync.WithRetryOptions(
			retry.WithMaxAttempts(cfg.Sync.MaxRetries),
			retry.WithCookieValidity(cfg.Sync.CookieValidity),
		),
	), nil
}

func printCounts(p *plan.Plan) {
	counts := p.Counts()
	fmt.Printf("Applied %d operations: %d created, %d updated, %d stashed, %d deleted\n",
		len(p.Operations),
		counts[plan.KindCreate],
		counts[plan.KindUpdate],
		counts[plan.KindStash],
		counts[plan.KindDelete],
	)
}
