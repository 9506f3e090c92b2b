package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

var (
	cfg   *config.Config
	sugar *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "auth-api",
	Short: "Authentication and account security service",
	Long: `Issues and rotates bearer tokens for MEMBER and EXTERNAL principals,
enforces account lockout and runs the password reset flow.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, unlockCmd, principalCmd)
}

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	sugar = lg.Sugar()

	err = rootCmd.Execute()
	_ = lg.Sync()
	if err != nil {
		os.Exit(1)
	}
}
