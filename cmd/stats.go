package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("json", false, "Print statistics as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	s, err := a.engine.Stats(ctx)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Printf("Backend:  %s\n", s.Backend)
	fmt.Printf("Layout:   %s\n", s.Layout)
	fmt.Printf("Faces:    %d\n", s.Records)
	fmt.Printf("Photos:   %d\n", s.Owners)
	fmt.Printf("Indexers: %s\n", strings.Join(s.Indexers, ", "))
	return nil
}
