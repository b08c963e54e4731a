package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frostpix/frostpix/internal/photos"
)

var archiveCmd = &cobra.Command{
	Use:   "archive [album-id]",
	Short: "Freeze an album's local asset membership",
	Long: `Mark a local album as archived. Archived albums keep their recorded
assets even when the remote album's contents change, and are moved under
the archive container instead of deleted if the remote album disappears.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		albums := st.Albums()
		a, err := albums.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("looking up album %s: %w", args[0], err)
		}
		if a.Type == photos.TypeArchived {
			fmt.Printf("Album %q is already archived\n", a.Name)
			return nil
		}

		if err := albums.Archive(ctx, a.ID); err != nil {
			return fmt.Errorf("archiving album %s: %w", a.ID, err)
		}
		fmt.Printf("Archived %q; its local asset membership is now frozen\n", a.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}
