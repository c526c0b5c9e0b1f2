package dashboard

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/approval"
)

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	stats, err := s.auditStore.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to get stats", http.StatusInternalServerError)
		return
	}

	data := map[string]any{
		"Page":    "overview",
		"Stats":   stats,
		"Pending": len(s.pending()),
	}
	renderPage(w, "overview", data)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	filter := api.QueryFilter{
		Key:     r.URL.Query().Get("key"),
		Verdict: api.Verdict(r.URL.Query().Get("verdict")),
		Limit:   100,
	}
	records, err := s.auditStore.Query(r.Context(), filter)
	if err != nil {
		http.Error(w, "failed to query audit log", http.StatusInternalServerError)
		return
	}

	data := map[string]any{
		"Page":    "audit",
		"Records": records,
	}
	renderPage(w, "audit", data)
}

func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel := s.auditStore.Subscribe(r.Context())
	defer cancel()

	for {
		select {
		case record, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: audit\ndata: %s\n\n", renderAuditRow(record))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) pending() []*approval.Request {
	if s.approvalQ == nil {
		return nil
	}
	return s.approvalQ.Pending()
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	var all []*approval.Request
	if s.approvalQ != nil {
		all = s.approvalQ.All()
	}

	data := map[string]any{
		"Page":    "approval",
		"Enabled": s.approvalQ != nil,
		"Pending": s.pending(),
		"All":     all,
	}
	renderPage(w, "approval", data)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, outcome string, decide func(*approval.Queue, string) error) {
	if s.approvalQ == nil {
		http.Error(w, "dashboard confirmations are not enabled", http.StatusNotFound)
		return
	}
	id := r.PathValue("id")
	if err := decide(s.approvalQ, id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("confirmation decided from dashboard", "id", id, "outcome", outcome)
	// HTMX: return updated approval list
	s.handleApproval(w, r)
}

func (s *Server) handleApprovalAction(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, "approved", (*approval.Queue).Approve)
}

func (s *Server) handleApprovalDenyAction(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, "denied", (*approval.Queue).Deny)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Page": "policy"}
	if s.allowlist != nil {
		pf := s.allowlist.Policy()
		policyYAML, _ := yaml.Marshal(pf)
		data["PolicyYAML"] = string(policyYAML)
		data["Policy"] = pf
	}
	renderPage(w, "policy", data)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.auditStore.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to get stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleAPIApprovals(w http.ResponseWriter, r *http.Request) {
	pending := s.pending()
	if pending == nil {
		pending = []*approval.Request{}
	}
	writeJSON(w, pending)
}

func (s *Server) handleAPICheck(w http.ResponseWriter, r *http.Request) {
	if s.allowlist == nil {
		http.Error(w, "no allow-list loaded", http.StatusServiceUnavailable)
		return
	}

	var req api.CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := s.allowlist.Check(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func renderAuditRow(record *api.AuditRecord) string {
	return fmt.Sprintf(
		`<tr class="border-b border-gray-700 hover:bg-gray-800"><td class="px-4 py-2 text-gray-400 text-xs">%s</td><td class="px-4 py-2">%s</td><td class="px-4 py-2">%s</td><td class="px-4 py-2 font-mono text-xs">%s</td><td class="px-4 py-2"><span class="px-2 py-1 rounded text-xs font-bold %s">%s</span>%s</td><td class="px-4 py-2 text-gray-400 text-xs">%s</td></tr>`,
		record.Timestamp.Format(time.RFC3339),
		escapeHTML(record.Method),
		escapeHTML(record.Key),
		escapeHTML(truncate(record.Fingerprint, 24)),
		verdictColor(record.Verdict),
		strings.ToUpper(string(record.Verdict)),
		confirmationTag(record.Confirmation),
		escapeHTML(record.Rule),
	)
}

func confirmationTag(c string) string {
	if c == "" {
		return ""
	}
	return `<span class="text-gray-500 text-xs ml-1">` + escapeHTML(c) + `</span>`
}

func verdictColor(v api.Verdict) string {
	switch v {
	case api.VerdictAllow:
		return "bg-green-900 text-green-300"
	case api.VerdictDeny:
		return "bg-red-900 text-red-300"
	case api.VerdictConfirm:
		return "bg-yellow-900 text-yellow-300"
	default:
		return "bg-gray-700 text-gray-300"
	}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func escapeHTML(s string) string {
	return template.HTMLEscapeString(s)
}
