// Package dashboard serves the web view of the audit log, the pending
// confirmations and the active allow-list.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tkingovr/ssh-agent-guard/internal/approval"
	"github.com/tkingovr/ssh-agent-guard/internal/audit"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
)

// Server is the web dashboard HTTP server.
type Server struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	auditStore audit.Store
	approvalQ  *approval.Queue
	allowlist  *policy.Allowlist
	addr       string
}

// NewServer creates a new dashboard server. The approval queue may be nil
// when confirmations are not routed through the dashboard.
func NewServer(addr string, store audit.Store, aq *approval.Queue, allowlist *policy.Allowlist, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		mux:        http.NewServeMux(),
		logger:     logger,
		auditStore: store,
		approvalQ:  aq,
		allowlist:  allowlist,
		addr:       addr,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /", s.handleOverview)
	s.mux.HandleFunc("GET /audit", s.handleAudit)
	s.mux.HandleFunc("GET /audit/stream", s.handleAuditStream)
	s.mux.HandleFunc("GET /approval", s.handleApproval)
	s.mux.HandleFunc("POST /approval/{id}/approve", s.handleApprovalAction)
	s.mux.HandleFunc("POST /approval/{id}/deny", s.handleApprovalDenyAction)
	s.mux.HandleFunc("GET /policy", s.handlePolicy)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleAPIStats)
	s.mux.HandleFunc("GET /api/v1/approvals", s.handleAPIApprovals)
	s.mux.HandleFunc("POST /api/v1/check", s.handleAPICheck)
}

// ListenAndServe starts the dashboard HTTP server and stops it when ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Info("starting dashboard", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
