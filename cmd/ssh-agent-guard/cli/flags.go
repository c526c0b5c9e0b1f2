package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tkingovr/ssh-agent-guard/internal/config"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
)

// allowFlags are the command-line allow-list options. They add entries
// after the ones from the config file.
type allowFlags struct {
	comments              []string
	commentsConfirmed     []string
	fingerprints          []string
	fingerprintsConfirmed []string
	keys                  []string
	keysConfirmed         []string
	allConfirmed          bool
	name                  string
}

func (f *allowFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringArrayVar(&f.comments, "comment", nil, "allow keys with this comment")
	fs.StringArrayVar(&f.commentsConfirmed, "comment-confirmed", nil, "allow keys with this comment after confirmation")
	fs.StringArrayVar(&f.fingerprints, "fingerprint", nil, "allow the key with this fingerprint (SHA256:... or MD5 hex)")
	fs.StringArrayVar(&f.fingerprintsConfirmed, "fingerprint-confirmed", nil, "allow the key with this fingerprint after confirmation")
	fs.StringArrayVar(&f.keys, "key", nil, "allow this public key (authorized_keys line, base64 blob or .pub file)")
	fs.StringArrayVar(&f.keysConfirmed, "key-confirmed", nil, "allow this public key after confirmation")
	fs.BoolVar(&f.allConfirmed, "all-confirmed", false, "require confirmation for every allowed key")
	fs.StringVar(&f.name, "name", "", "name shown in confirmation prompts")
}

// entries converts the flags into allow entries named after their kind and
// value. Repeated values are dropped.
func (f *allowFlags) entries() []policy.Entry {
	var out []policy.Entry
	var seen []string
	add := func(kind, value string, confirm bool, match policy.EntryMatch) {
		name := fmt.Sprintf("%s:%s", kind, value)
		if confirm {
			name += ":confirmed"
		}
		if slices.Contains(seen, name) {
			return
		}
		seen = append(seen, name)
		out = append(out, policy.Entry{Name: name, Match: match, Confirm: confirm})
	}

	for _, c := range f.comments {
		add("comment", c, false, policy.EntryMatch{Comment: c})
	}
	for _, c := range f.commentsConfirmed {
		add("comment", c, true, policy.EntryMatch{Comment: c})
	}
	for _, fp := range f.fingerprints {
		add("fingerprint", fp, false, policy.EntryMatch{Fingerprint: fp})
	}
	for _, fp := range f.fingerprintsConfirmed {
		add("fingerprint", fp, true, policy.EntryMatch{Fingerprint: fp})
	}
	for _, k := range f.keys {
		add("key", k, false, keyMatch(k))
	}
	for _, k := range f.keysConfirmed {
		add("key", k, true, keyMatch(k))
	}
	return out
}

// keyMatch treats an existing path as a public key file.
func keyMatch(value string) policy.EntryMatch {
	if info, err := os.Stat(policy.ExpandHome(value)); err == nil && info.Mode().IsRegular() {
		return policy.EntryMatch{KeyFile: value}
	}
	return policy.EntryMatch{Key: value}
}

func (f *allowFlags) apply(cfg *config.Config) error {
	if f.name != "" {
		cfg.Name = f.name
		cfg.PolicyFile.Settings.Name = f.name
	}
	if f.allConfirmed {
		cfg.PolicyFile.Settings.ConfirmAll = true
	}
	if entries := f.entries(); len(entries) > 0 {
		if err := cfg.AddEntries(entries...); err != nil {
			return fmt.Errorf("allow-list flags: %w", err)
		}
	}
	return nil
}
