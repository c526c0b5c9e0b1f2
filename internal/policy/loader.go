package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a YAML policy file.
func LoadFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates YAML policy data.
func LoadBytes(data []byte) (*PolicyFile, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}
	if err := Validate(&pf); err != nil {
		return nil, err
	}
	return &pf, nil
}

// Validate checks a policy for structural errors. Key material referenced
// by entries is checked later, when the allow-list is compiled.
func Validate(pf *PolicyFile) error {
	if pf.Version != 1 {
		return fmt.Errorf("unsupported policy version: %d (expected 1)", pf.Version)
	}

	validMethods := map[string]bool{
		"": true, "askpass": true, "tty": true, "dashboard": true,
	}
	if c := pf.Settings.Confirm; c != nil {
		if !validMethods[c.Method] {
			return fmt.Errorf("confirm: invalid method %q", c.Method)
		}
		for _, f := range c.Fields {
			if !slices.Contains(KnownFields, f) {
				return fmt.Errorf("confirm: unknown field %q", f)
			}
		}
	}

	seen := make(map[string]bool, len(pf.Allow))
	for i, entry := range pf.Allow {
		if entry.Name == "" {
			return fmt.Errorf("allow entry %d: name is required", i)
		}
		if seen[entry.Name] {
			return fmt.Errorf("allow entry %q: duplicate name", entry.Name)
		}
		seen[entry.Name] = true

		if n := entry.Match.count(); n != 1 {
			return fmt.Errorf("allow entry %q: exactly one match field is required, got %d", entry.Name, n)
		}
		if fp := entry.Match.Fingerprint; fp != "" && !validFingerprint(fp) {
			return fmt.Errorf("allow entry %q: invalid fingerprint %q", entry.Name, fp)
		}
	}

	if rl := pf.Settings.RateLimit; rl != nil {
		for name := range rl.PerEntry {
			if !seen[name] {
				return fmt.Errorf("rate_limit: per_entry %q does not name an allow entry", name)
			}
		}
	}

	return nil
}

func (m EntryMatch) count() int {
	n := 0
	for _, v := range []string{m.Comment, m.CommentPrefix, m.Key, m.KeyFile, m.Fingerprint, m.Rego} {
		if v != "" {
			n++
		}
	}
	return n
}

func validFingerprint(fp string) bool {
	if strings.HasPrefix(fp, "SHA256:") {
		return len(fp) > len("SHA256:")
	}
	fp = strings.TrimPrefix(fp, "MD5:")
	parts := strings.Split(fp, ":")
	if len(parts) != 16 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 {
			return false
		}
	}
	return true
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
