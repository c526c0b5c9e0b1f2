package confirm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
)

// DefaultFields are shown when no fields are configured.
var DefaultFields = []string{policy.FieldFingerprint, policy.FieldUser, policy.FieldNamespace}

// PendingConfirmation is the context of one sign request awaiting the
// user's decision.
type PendingConfirmation struct {
	ConnID      string
	Comment     string
	Fingerprint string
	KeyType     string
	Rule        string
	Flags       uint32
	Data        *agentproto.SignData
}

// NewPendingConfirmation extracts the prompt context from a sign request.
func NewPendingConfirmation(connID string, id *agentproto.Identity, sr *agentproto.SignRequest, rule string) *PendingConfirmation {
	return &PendingConfirmation{
		ConnID:      connID,
		Comment:     id.Comment,
		Fingerprint: id.Fingerprint(),
		KeyType:     id.KeyType(),
		Rule:        rule,
		Flags:       sr.Flags,
		Data:        agentproto.ParseSignData(sr.Data),
	}
}

// Text renders the prompt. The comment is always shown; fields selects
// the optional details, each included only when known.
func (pc *PendingConfirmation) Text(name string, fields []string) string {
	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "[%s] ", name)
	}
	comment := pc.Comment
	if comment == "" {
		comment = "(no comment)"
	}
	fmt.Fprintf(&b, "Allow use of key %q?", comment)

	for _, f := range fields {
		label, value := pc.field(f)
		if value != "" {
			fmt.Fprintf(&b, "\n%s: %s", label, promptValue(value))
		}
	}
	return b.String()
}

func (pc *PendingConfirmation) field(name string) (string, string) {
	data := pc.Data
	if data == nil {
		data = &agentproto.SignData{}
	}
	switch name {
	case policy.FieldFingerprint:
		return "Key fingerprint", pc.Fingerprint
	case policy.FieldKeyType:
		return "Key type", pc.KeyType
	case policy.FieldUser:
		return "Request to authenticate as", data.User
	case policy.FieldService:
		return "Service", data.Service
	case policy.FieldAlgorithm:
		return "Signature algorithm", data.Algorithm
	case policy.FieldNamespace:
		if data.Kind == agentproto.SignDataSSHSig {
			return "Signature namespace", data.Namespace
		}
	case policy.FieldFlags:
		return "Flags", flagNames(pc.Flags)
	}
	return "", ""
}

// promptValue quotes values the remote side controls when they contain
// anything that could change how the prompt reads, such as a line break.
func promptValue(v string) string {
	for _, r := range v {
		if !unicode.IsPrint(r) {
			return strconv.Quote(v)
		}
	}
	return v
}

func flagNames(flags uint32) string {
	var names []string
	if flags&agentproto.SignFlagRSASHA256 != 0 {
		names = append(names, "rsa-sha2-256")
	}
	if flags&agentproto.SignFlagRSASHA512 != 0 {
		names = append(names, "rsa-sha2-512")
	}
	return strings.Join(names, ",")
}
