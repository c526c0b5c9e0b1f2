package policy

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

// Matcher decides whether an identity is selected by an allow-list entry.
type Matcher interface {
	Match(ctx context.Context, id *agentproto.Identity) (bool, error)
}

type commentMatcher string

func (m commentMatcher) Match(_ context.Context, id *agentproto.Identity) (bool, error) {
	return id.Comment == string(m), nil
}

type commentPrefixMatcher string

func (m commentPrefixMatcher) Match(_ context.Context, id *agentproto.Identity) (bool, error) {
	return strings.HasPrefix(id.Comment, string(m)), nil
}

// keyMatcher compares wire-format public key blobs.
type keyMatcher []byte

func (m keyMatcher) Match(_ context.Context, id *agentproto.Identity) (bool, error) {
	return string(m) == string(id.Blob), nil
}

type fingerprintMatcher struct {
	sha256 string
	md5    string
}

func (m fingerprintMatcher) Match(_ context.Context, id *agentproto.Identity) (bool, error) {
	if m.sha256 != "" {
		return id.Fingerprint() == m.sha256, nil
	}
	return strings.EqualFold(id.LegacyFingerprint(), m.md5), nil
}

func newFingerprintMatcher(fp string) fingerprintMatcher {
	if strings.HasPrefix(fp, "SHA256:") {
		return fingerprintMatcher{sha256: fp}
	}
	return fingerprintMatcher{md5: strings.TrimPrefix(fp, "MD5:")}
}

// ParsePublicKey accepts an authorized_keys line or a bare base64 key blob
// and returns the key in wire format.
func ParsePublicKey(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(text)); err == nil {
		return pk.Marshal(), nil
	}
	blob, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("not an authorized_keys line or base64 key blob")
	}
	pk, err := ssh.ParsePublicKey(blob)
	if err != nil {
		return nil, fmt.Errorf("parsing key blob: %w", err)
	}
	return pk.Marshal(), nil
}

func loadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	pk, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing key file %s: %w", path, err)
	}
	return pk.Marshal(), nil
}
