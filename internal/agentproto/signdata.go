package agentproto

import (
	"bytes"

	"github.com/tkingovr/ssh-agent-guard/internal/wire"
)

// Kinds of data a client may ask the agent to sign.
const (
	SignDataUnknown  = ""
	SignDataUserAuth = "userauth"
	SignDataSSHSig   = "sshsig"
)

const (
	msgUserAuthRequest = 50

	methodPublicKey          = "publickey"
	methodPublicKeyHostbound = "publickey-hostbound-v00@openssh.com"
)

var sshsigMagic = []byte("SSHSIG")

// SignData is what could be learned from the data in a sign request. Only
// the fields matching Kind are set.
type SignData struct {
	Kind string

	// SSH user authentication (RFC 4252 section 7).
	SessionID []byte
	User      string
	Service   string
	Method    string
	Algorithm string
	KeyBlob   []byte
	HostKey   []byte

	// File and commit signatures (OpenSSH PROTOCOL.sshsig).
	Namespace     string
	HashAlgorithm string
}

// ParseSignData inspects the data to be signed. It never fails: data that is
// not recognized yields a SignData of kind SignDataUnknown.
func ParseSignData(data []byte) *SignData {
	if sd, ok := parseUserAuth(data); ok {
		return sd
	}
	if sd, ok := parseSSHSig(data); ok {
		return sd
	}
	return &SignData{Kind: SignDataUnknown}
}

func parseUserAuth(data []byte) (*SignData, bool) {
	r := wire.NewReader(data)
	sd := &SignData{Kind: SignDataUserAuth}
	var err error

	if sd.SessionID, err = r.Bytes(); err != nil {
		return nil, false
	}
	if b, err := r.Byte(); err != nil || b != msgUserAuthRequest {
		return nil, false
	}
	if sd.User, err = r.Text(); err != nil {
		return nil, false
	}
	if sd.Service, err = r.Text(); err != nil {
		return nil, false
	}
	if sd.Method, err = r.Text(); err != nil {
		return nil, false
	}
	if sd.Method != methodPublicKey && sd.Method != methodPublicKeyHostbound {
		return nil, false
	}
	if hasSig, err := r.Bool(); err != nil || !hasSig {
		return nil, false
	}
	if sd.Algorithm, err = r.Text(); err != nil {
		return nil, false
	}
	if sd.KeyBlob, err = r.Bytes(); err != nil {
		return nil, false
	}
	if sd.Method == methodPublicKeyHostbound {
		if sd.HostKey, err = r.Bytes(); err != nil {
			return nil, false
		}
	}
	if r.Len() != 0 {
		return nil, false
	}
	return sd, true
}

func parseSSHSig(data []byte) (*SignData, bool) {
	if !bytes.HasPrefix(data, sshsigMagic) {
		return nil, false
	}
	r := wire.NewReader(data[len(sshsigMagic):])
	sd := &SignData{Kind: SignDataSSHSig}
	var err error

	if sd.Namespace, err = r.Text(); err != nil {
		return nil, false
	}
	if _, err = r.Bytes(); err != nil { // reserved
		return nil, false
	}
	if sd.HashAlgorithm, err = r.Text(); err != nil {
		return nil, false
	}
	if _, err = r.Bytes(); err != nil { // H(message)
		return nil, false
	}
	if r.Len() != 0 {
		return nil, false
	}
	return sd, true
}
