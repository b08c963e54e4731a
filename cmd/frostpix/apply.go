package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frostpix/frostpix/internal/plan"
)

var applyCmd = &cobra.Command{
	Use:   "apply [plan-file]",
	Short: "Apply a previously written plan to the local store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		path := cfg.Sync.PlanPath
		if len(args) == 1 {
			path = args[0]
		}
		p, err := plan.Load(path)
		if err != nil {
			return fmt.Errorf("loading plan: %w", err)
		}
		if p.Empty() {
			fmt.Println("Plan is empty, nothing to do")
			return nil
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ApplyPlan(ctx, p); err != nil {
			return fmt.Errorf("applying plan: %w", err)
		}
		printCounts(p)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
