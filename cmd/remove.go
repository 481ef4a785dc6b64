package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <owner-id> [owner-id...]",
	Short: "Remove all indexed faces of photos",
	Long: `Remove every stored face record of the given photos. The owner ID is the
path the photo was indexed under, relative to the indexed folder.

Example:
  face-search remove 2024/holiday/IMG_0042.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	var errs []error
	for _, owner := range args {
		res := <-a.engine.RemoveOwner(ctx, owner)
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", owner, res.Err))
			continue
		}
		fmt.Printf("%s: removed %d face(s)\n", res.OwnerID, res.Removed)
	}
	return errors.Join(errs...)
}
