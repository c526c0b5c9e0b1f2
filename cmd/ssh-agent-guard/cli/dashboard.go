package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tkingovr/ssh-agent-guard/internal/audit"
	"github.com/tkingovr/ssh-agent-guard/internal/config"
	"github.com/tkingovr/ssh-agent-guard/internal/dashboard"
)

var (
	dashAddr   string
	dashLogDir string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the web dashboard only (no agent socket)",
	Long: `Start the web dashboard for viewing audit logs and the allow-list.
Reads from existing audit log files. Confirmations are only answered by the
dashboard started with serve.`,
	Example: `  ssh-agent-guard dashboard -l 127.0.0.1:8089 -a ~/.ssh-agent-guard/logs
  ssh-agent-guard dashboard -c guard.yaml`,
	RunE: runDashboard,
}

func init() {
	dashboardCmd.Flags().StringVarP(&dashAddr, "listen", "l", config.DefaultDashboardAddr, "dashboard listen address")
	dashboardCmd.Flags().StringVarP(&dashLogDir, "audit-dir", "a", "", "audit log directory")
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if dashAddr != "" {
		cfg.DashboardAddr = dashAddr
	}
	cfg.EnableDashboard()
	if dashLogDir != "" {
		cfg.LogDir = dashLogDir
	}

	auditStore, err := audit.NewJSONLStore(cfg.LogDir)
	if err != nil {
		return fmt.Errorf("creating audit store: %w", err)
	}
	defer auditStore.Close()

	allowlist, err := buildAllowlist(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down dashboard")
		cancel()
	}()

	dash := dashboard.NewServer(cfg.DashboardAddr, auditStore, nil, allowlist, logger)
	return dash.ListenAndServe(ctx)
}
