package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/approval"
	"github.com/tkingovr/ssh-agent-guard/internal/audit"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
)

func testServer(t *testing.T, aq *approval.Queue) *Server {
	t.Helper()
	store, err := audit.NewJSONLStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	allowlist, err := policy.NewAllowlistFromPolicy(&policy.PolicyFile{
		Version: 1,
		Allow: []policy.Entry{
			{Name: "work", Match: policy.EntryMatch{Comment: "work"}},
			{Name: "deploy", Match: policy.EntryMatch{CommentPrefix: "deploy-"}, Confirm: true},
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	return NewServer(":0", store, aq, allowlist, nil)
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestOverviewPage(t *testing.T) {
	s := testServer(t, nil)
	w := get(s, "/")

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ssh-agent-guard") {
		t.Error("expected page to contain 'ssh-agent-guard'")
	}
}

func TestUnknownPage(t *testing.T) {
	s := testServer(t, nil)
	if w := get(s, "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAuditPage(t *testing.T) {
	s := testServer(t, nil)

	s.auditStore.Write(context.Background(), &api.AuditRecord{
		Timestamp:    time.Now(),
		Method:       "sign_request",
		Key:          "deploy-prod",
		Fingerprint:  "SHA256:abc",
		Verdict:      api.VerdictDeny,
		Rule:         "deploy",
		Confirmation: "denied",
	})

	w := get(s, "/audit")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Audit Log", "deploy-prod", "DENY", "denied"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected page to contain %q", want)
		}
	}

	// Filtered by key
	w = get(s, "/audit?key=other")
	if strings.Contains(w.Body.String(), "deploy-prod") {
		t.Error("key filter should hide other keys")
	}
}

func TestApprovalPage_Disabled(t *testing.T) {
	s := testServer(t, nil)
	w := get(s, "/approval")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not routed through the dashboard") {
		t.Error("expected disabled notice")
	}

	w = httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest("POST", "/approval/x/approve", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a queue, got %d", w.Code)
	}
}

func TestApprovalFlow(t *testing.T) {
	aq := approval.NewQueue(time.Minute)
	s := testServer(t, aq)

	result := make(chan approval.Status, 1)
	go func() {
		status, _ := aq.Submit(context.Background(), approval.Prompt{Key: "deploy-prod", Rule: "deploy", Text: "Allow use of key?"})
		result <- status
	}()

	var pending []*approval.Request
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := get(s, "/api/v1/approvals")
		pending = nil
		if err := json.NewDecoder(w.Body).Decode(&pending); err != nil {
			t.Fatal(err)
		}
		if len(pending) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending confirmation, got %d", len(pending))
	}

	if w := get(s, "/approval"); !strings.Contains(w.Body.String(), "deploy-prod") {
		t.Error("expected pending key on approval page")
	}

	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest("POST", "/approval/"+pending[0].ID+"/approve", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	select {
	case status := <-result:
		if status != approval.StatusApproved {
			t.Errorf("expected approved, got %s", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not return")
	}

	// A decided request cannot be decided again.
	w = httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest("POST", "/approval/"+pending[0].ID+"/deny", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPolicyPage(t *testing.T) {
	s := testServer(t, nil)
	w := get(s, "/policy")

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Active Allow-list") {
		t.Error("expected page to contain 'Active Allow-list'")
	}
	if !strings.Contains(body, "comment_prefix: deploy-") {
		t.Error("expected policy YAML on the page")
	}
}

func TestAPIStats(t *testing.T) {
	s := testServer(t, nil)
	s.auditStore.Write(context.Background(), &api.AuditRecord{Method: "sign_request", Key: "work", Verdict: api.VerdictAllow})

	w := get(s, "/api/v1/stats")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var stats api.AuditStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 1 || stats.AllowCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestAPICheck(t *testing.T) {
	s := testServer(t, nil)

	tests := []struct {
		body string
		want api.Verdict
		rule string
	}{
		{`{"comment":"work"}`, api.VerdictAllow, "work"},
		{`{"comment":"deploy-prod"}`, api.VerdictConfirm, "deploy"},
		{`{"comment":"personal"}`, api.VerdictDeny, policy.DefaultRule},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		s.mux.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/check", strings.NewReader(tt.body)))
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.body, w.Code)
			continue
		}

		var resp api.CheckResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Verdict != tt.want || resp.Rule != tt.rule {
			t.Errorf("%s: expected %s/%s, got %s/%s", tt.body, tt.want, tt.rule, resp.Verdict, resp.Rule)
		}
	}
}

func TestAPICheck_BadRequest(t *testing.T) {
	s := testServer(t, nil)
	for _, body := range []string{`not json`, `{}`, `{"key":"garbage"}`} {
		w := httptest.NewRecorder()
		s.mux.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/check", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}
