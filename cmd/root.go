package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/textopt/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "textopt",
	Short: "Score and rewrite text against AI-detection and plagiarism ceilings",
	Long: "Measures a document on an external scoring surface through browser automation, " +
		"then optionally explains the scores or rewrites the text with Claude until both scores are under the requested ceilings.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
