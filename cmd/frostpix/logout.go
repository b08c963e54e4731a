package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the cached device trust token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		cache, err := trustCache(cfg)
		if err != nil {
			return err
		}
		if err := cache.Delete(); err != nil {
			return fmt.Errorf("deleting trust token: %w", err)
		}
		fmt.Println("Trust token removed; the next sync will require a full login")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
