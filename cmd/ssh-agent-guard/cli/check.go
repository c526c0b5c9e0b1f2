package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tkingovr/ssh-agent-guard/api"
)

var (
	checkComment string
	checkKey     string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Dry-run an allow-list decision without an agent",
	Long: `Check what verdict a key would receive without running the filter.
Useful for testing and debugging allow-list entries.`,
	Example: `  ssh-agent-guard check -c guard.yaml --comment deploy@ci
  ssh-agent-guard check -c guard.yaml --key "$(cat ~/.ssh/id_ed25519.pub)"`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkComment, "comment", "", "key comment to check")
	checkCmd.Flags().StringVar(&checkKey, "key", "", "public key to check (authorized_keys line or base64 blob)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("--config/-c is required for check command")
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	allowlist, err := buildAllowlist(cfg)
	if err != nil {
		return err
	}

	resp, err := allowlist.Check(context.Background(), api.CheckRequest{
		Comment: checkComment,
		Key:     checkKey,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
