package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "face-search",
	Short: "Index faces and find similar ones with LBP descriptors",
	Long: `Face Search builds local binary pattern (LBP) histogram descriptors for
face regions of photos, keeps them in a persistent store, and ranks stored
faces by chi-square distance to a query face.

Face regions come from a detector and are supplied as JSON sidecar files
(<image>.faces.json) or with the request.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
