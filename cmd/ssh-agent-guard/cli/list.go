package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
	"github.com/tkingovr/ssh-agent-guard/internal/upstream"
)

var (
	listFlags    allowFlags
	listUpstream string
	listJSON     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the real agent's keys and what the allow-list decides for each",
	Example: `  ssh-agent-guard list -c guard.yaml
  ssh-agent-guard list --comment-confirmed deploy@ci --json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listFlags.register(listCmd)
	listCmd.Flags().StringVar(&listUpstream, "upstream", "", "real agent socket (default: $SSH_AUTH_SOCK)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
	rootCmd.AddCommand(listCmd)
}

type listedKey struct {
	Comment     string `json:"comment"`
	Type        string `json:"type"`
	Fingerprint string `json:"fingerprint"`
	Verdict     string `json:"verdict"`
	Rule        string `json:"rule"`
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(&listFlags)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listUpstream != "" {
		cfg.Upstream = listUpstream
	}
	if cfg.Upstream == "" {
		return errors.New("no upstream agent: set SSH_AUTH_SOCK, --upstream or settings.upstream")
	}

	allowlist, err := buildAllowlist(cfg)
	if err != nil {
		return err
	}

	up := upstream.NewClient(cfg.Upstream,
		upstream.WithMaxMessageSize(cfg.MaxMessageSize),
		upstream.WithLogger(logger),
	)
	defer up.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ids, err := upstream.ListIdentities(ctx, up)
	if err != nil {
		return fmt.Errorf("listing agent keys: %w", err)
	}

	listed := describeKeys(ctx, allowlist, ids)
	if listJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(listed)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERDICT\tENTRY\tTYPE\tFINGERPRINT\tCOMMENT")
	for _, k := range listed {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.Verdict, k.Rule, k.Type, k.Fingerprint, k.Comment)
	}
	return tw.Flush()
}

func describeKeys(ctx context.Context, allowlist *policy.Allowlist, ids []*agentproto.Identity) []listedKey {
	out := make([]listedKey, 0, len(ids))
	for _, id := range ids {
		result := allowlist.Permits(ctx, id)
		out = append(out, listedKey{
			Comment:     id.Comment,
			Type:        id.KeyType(),
			Fingerprint: id.Fingerprint(),
			Verdict:     string(result.Verdict),
			Rule:        result.Rule,
		})
	}
	return out
}
