package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tkingovr/ssh-agent-guard/internal/approval"
	"github.com/tkingovr/ssh-agent-guard/internal/audit"
	"github.com/tkingovr/ssh-agent-guard/internal/confirm"
	"github.com/tkingovr/ssh-agent-guard/internal/dashboard"
	"github.com/tkingovr/ssh-agent-guard/internal/dispatch"
	"github.com/tkingovr/ssh-agent-guard/internal/server"
	"github.com/tkingovr/ssh-agent-guard/internal/upstream"
)

var (
	serveFlags      allowFlags
	serveSocket     string
	serveUpstream   string
	serveDashboard  bool
	servePersistent bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the filtering agent socket",
	Long: `Start a filtering agent on its own UNIX socket. The shell line
that points SSH_AUTH_SOCK at it is printed on stdout, in the same form
ssh-agent uses, so the output can be eval'd.

Keys are exposed only when they match the allow-list from the config file
or the allow-list flags.`,
	Example: `  eval "$(ssh-agent-guard serve --comment work-laptop --comment-confirmed deploy@ci)"
  ssh-agent-guard serve -c guard.yaml --dashboard`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveFlags.register(serveCmd)
	serveCmd.Flags().StringVarP(&serveSocket, "socket", "a", "", "bind the agent socket to this path (default: private temp directory)")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "real agent socket (default: $SSH_AUTH_SOCK)")
	serveCmd.Flags().BoolVar(&serveDashboard, "dashboard", false, "start the web dashboard")
	serveCmd.Flags().BoolVar(&servePersistent, "persistent-upstream", false, "keep one connection to the real agent")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(&serveFlags)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveSocket != "" {
		cfg.Socket = serveSocket
	}
	if serveUpstream != "" {
		cfg.Upstream = serveUpstream
	}
	if servePersistent {
		cfg.PersistentUpstream = true
	}
	if serveDashboard || cfg.ConfirmMethod == "dashboard" {
		cfg.EnableDashboard()
	}
	if cfg.Upstream == "" {
		return errors.New("no upstream agent: set SSH_AUTH_SOCK, --upstream or settings.upstream")
	}

	allowlist, err := buildAllowlist(cfg)
	if err != nil {
		return err
	}
	if allowlist.Len() == 0 {
		logger.Warn("allow-list is empty, no keys will be exposed")
	}

	auditStore, err := audit.NewJSONLStore(cfg.LogDir)
	if err != nil {
		return fmt.Errorf("creating audit store: %w", err)
	}
	defer auditStore.Close()

	var aq *approval.Queue
	if cfg.ConfirmMethod == "dashboard" {
		aq = approval.NewQueue(cfg.ConfirmTimeout)
	}
	prompter, err := confirm.NewPrompter(cfg.ConfirmMethod, cfg.ConfirmProgram, aq)
	if err != nil {
		return fmt.Errorf("creating confirmation prompter: %w", err)
	}
	gate := confirm.NewGate(prompter,
		confirm.WithTimeout(cfg.ConfirmTimeout),
		confirm.WithName(cfg.Name),
		confirm.WithFields(cfg.ConfirmFields),
		confirm.WithLogger(logger),
	)

	up := upstream.NewClient(cfg.Upstream,
		upstream.WithPersistent(cfg.PersistentUpstream),
		upstream.WithMaxMessageSize(cfg.MaxMessageSize),
		upstream.WithLogger(logger),
	)
	defer up.Close()

	d := dispatch.New(dispatch.Config{
		Upstream:   up,
		Allowlist:  allowlist,
		Gate:       gate,
		AuditStore: auditStore,
		RateLimit:  cfg.RateLimit,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	// An unreachable agent at start-up is not fatal; the index fills on the
	// first identity list.
	if _, err := d.Prime(ctx); err != nil {
		logger.Warn("could not list upstream identities", "upstream", cfg.Upstream, "error", err)
	}

	srv := server.New(d,
		server.WithLogger(logger),
		server.WithMaxMessageSize(cfg.MaxMessageSize),
	)
	if err := srv.Listen(cfg.Socket); err != nil {
		return err
	}
	printSocketEnv(cmd.OutOrStdout(), srv.Path())

	logger.Info("starting serve mode",
		slog.String("socket", srv.Path()),
		slog.String("upstream", cfg.Upstream),
		slog.Int("allow_entries", allowlist.Len()),
		slog.String("confirm_method", cfg.ConfirmMethod),
		slog.String("dashboard", cfg.DashboardAddr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if cfg.DashboardAddr != "" {
		dash := dashboard.NewServer(cfg.DashboardAddr, auditStore, aq, allowlist, logger)
		g.Go(func() error {
			return dash.ListenAndServe(gctx)
		})
	}
	return g.Wait()
}

// printSocketEnv writes the Bourne shell line ssh-agent prints.
func printSocketEnv(w io.Writer, path string) {
	quoted := strings.ReplaceAll(path, "'", `'\''`)
	fmt.Fprintf(w, "SSH_AUTH_SOCK='%s'; export SSH_AUTH_SOCK;\n", quoted)
}
