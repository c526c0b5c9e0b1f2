package config

import (
	"time"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

const (
	DefaultDashboardAddr  = "127.0.0.1:8089"
	DefaultConfirmTimeout = 30 * time.Second
	DefaultConfirmMethod  = "askpass"
	DefaultMaxMessageSize = agentproto.DefaultMaxMessageSize

	// UpstreamEnv names the variable the upstream socket defaults to.
	UpstreamEnv = "SSH_AUTH_SOCK"
)

// DefaultLogDir returns the default log directory path.
func DefaultLogDir() string {
	return "~/.ssh-agent-guard/logs"
}
