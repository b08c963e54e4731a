package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var planOut string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute the mutation plan and write it to a file without applying it",
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

		out := planOut
		if out == "" {
			out = cfg.Sync.PlanPath
		}
		if err := res.Plan.Save(out); err != nil {
			return fmt.Errorf("saving plan: %w", err)
		}
		fmt.Printf("Wrote plan with %d operations to %s\n", len(res.Plan.Operations), out)
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planOut, "out", "", "plan output path (defaults to sync.plan_path)")
	rootCmd.AddCommand(planCmd)
}
