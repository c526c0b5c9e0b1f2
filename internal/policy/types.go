package policy

import (
	"github.com/tkingovr/ssh-agent-guard/api"
)

// PolicyFile represents the top-level YAML configuration.
type PolicyFile struct {
	Version  int      `yaml:"version" json:"version"`
	Settings Settings `yaml:"settings" json:"settings"`
	Allow    []Entry  `yaml:"allow" json:"allow"`
}

// Settings contains global settings.
type Settings struct {
	Name               string             `yaml:"name,omitempty" json:"name,omitempty"`
	Socket             string             `yaml:"socket,omitempty" json:"socket,omitempty"`
	Upstream           string             `yaml:"upstream,omitempty" json:"upstream,omitempty"`
	PersistentUpstream bool               `yaml:"persistent_upstream,omitempty" json:"persistent_upstream,omitempty"`
	MaxMessageSize     uint32             `yaml:"max_message_size,omitempty" json:"max_message_size,omitempty"`
	LogDir             string             `yaml:"log_dir,omitempty" json:"log_dir,omitempty"`
	DashboardAddr      string             `yaml:"dashboard_addr,omitempty" json:"dashboard_addr,omitempty"`
	OPAPolicy          string             `yaml:"opa_policy,omitempty" json:"opa_policy,omitempty"`
	ConfirmAll         bool               `yaml:"confirm_all,omitempty" json:"confirm_all,omitempty"`
	Confirm            *ConfirmSettings   `yaml:"confirm,omitempty" json:"confirm,omitempty"`
	RateLimit          *RateLimitSettings `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
}

// ConfirmSettings configures the confirmation prompt.
type ConfirmSettings struct {
	Method  string   `yaml:"method,omitempty" json:"method,omitempty"`
	Program string   `yaml:"program,omitempty" json:"program,omitempty"`
	Timeout string   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Fields  []string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// RateLimitSettings configures sign request rate limiting.
type RateLimitSettings struct {
	Global   *RateLimitRule            `yaml:"global,omitempty" json:"global,omitempty"`
	PerEntry map[string]*RateLimitRule `yaml:"per_entry,omitempty" json:"per_entry,omitempty"`
}

// RateLimitRule defines a rate limit: max signatures per time window.
type RateLimitRule struct {
	Max    int    `yaml:"max" json:"max"`
	Window string `yaml:"window" json:"window"`
}

// Entry is one allow-list entry. Entries are evaluated in file order.
type Entry struct {
	Name    string     `yaml:"name" json:"name"`
	Match   EntryMatch `yaml:"match" json:"match"`
	Confirm bool       `yaml:"confirm,omitempty" json:"confirm,omitempty"`
	Message string     `yaml:"message,omitempty" json:"message,omitempty"`
}

// EntryMatch selects identities. Exactly one field must be set.
type EntryMatch struct {
	Comment       string `yaml:"comment,omitempty" json:"comment,omitempty"`
	CommentPrefix string `yaml:"comment_prefix,omitempty" json:"comment_prefix,omitempty"`
	Key           string `yaml:"key,omitempty" json:"key,omitempty"`
	KeyFile       string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	Fingerprint   string `yaml:"fingerprint,omitempty" json:"fingerprint,omitempty"`
	Rego          string `yaml:"rego,omitempty" json:"rego,omitempty"`
}

// EvalResult is the outcome of matching an identity against the allow-list.
type EvalResult struct {
	Verdict api.Verdict `json:"verdict"`
	Rule    string      `json:"rule,omitempty"`
	Message string      `json:"message,omitempty"`
}

// DefaultRule names the result used when no entry matches.
const DefaultRule = "_default"

// Confirmation prompt fields beyond the key comment.
const (
	FieldFingerprint = "fingerprint"
	FieldKeyType     = "key_type"
	FieldUser        = "user"
	FieldService     = "service"
	FieldAlgorithm   = "algorithm"
	FieldNamespace   = "namespace"
	FieldFlags       = "flags"
)

// KnownFields lists the accepted values of confirm.fields.
var KnownFields = []string{
	FieldFingerprint, FieldKeyType, FieldUser, FieldService,
	FieldAlgorithm, FieldNamespace, FieldFlags,
}
