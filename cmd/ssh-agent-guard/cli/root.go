package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tkingovr/ssh-agent-guard/internal/config"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
)

var (
	cfgFile string
	verbose bool
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ssh-agent-guard",
	Short: "ssh-agent-guard - filtering proxy for forwarded SSH agents",
	Long: `ssh-agent-guard sits between a forwarded agent socket and the real
ssh-agent. Remote hosts only see the keys on an allow-list, and selected
keys require interactive confirmation before every signature.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "allow-list config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file when one is given and appends the
// allow-list flags after its entries.
func loadConfig(flags *allowFlags) (*config.Config, error) {
	var cfg *config.Config
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}
	if flags != nil {
		if err := flags.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func buildAllowlist(cfg *config.Config) (*policy.Allowlist, error) {
	allowlist, err := policy.NewAllowlistFromPolicy(cfg.PolicyFile, logger)
	if err != nil {
		return nil, fmt.Errorf("building allow-list: %w", err)
	}
	return allowlist, nil
}
