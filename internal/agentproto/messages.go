package agentproto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/tkingovr/ssh-agent-guard/internal/wire"
)

// ErrMalformedMessage indicates a message body that does not match its opcode.
var ErrMalformedMessage = errors.New("malformed agent message")

// Message is a decoded frame body: one opcode byte plus an opaque payload.
type Message struct {
	Type    MessageType
	Payload []byte
}

// ParseMessage splits a frame body into opcode and payload.
func ParseMessage(body []byte) (*Message, error) {
	if len(body) == 0 {
		return nil, ErrMessageEmpty
	}
	return &Message{Type: MessageType(body[0]), Payload: body[1:]}, nil
}

// Marshal returns the frame body for the message.
func (m *Message) Marshal() []byte {
	body := make([]byte, 0, 1+len(m.Payload))
	body = append(body, byte(m.Type))
	return append(body, m.Payload...)
}

// FailureResponse returns the body of SSH_AGENT_FAILURE.
func FailureResponse() []byte { return []byte{byte(MsgFailure)} }

// SuccessResponse returns the body of SSH_AGENT_SUCCESS.
func SuccessResponse() []byte { return []byte{byte(MsgSuccess)} }

// EmptyRSAIdentitiesAnswer returns an SSH1 identity list with zero entries.
func EmptyRSAIdentitiesAnswer() []byte {
	return []byte{byte(MsgRSAIdentitiesAnswer), 0, 0, 0, 0}
}

// RequestIdentities returns the body of SSH2_AGENTC_REQUEST_IDENTITIES.
func RequestIdentities() []byte { return []byte{byte(MsgRequestIdentities)} }

// Identity is a public key blob and its comment as listed by an agent.
type Identity struct {
	Blob    []byte
	Comment string
}

// KeyType returns the key algorithm name, or "" if the blob does not parse.
func (id *Identity) KeyType() string {
	pk, err := ssh.ParsePublicKey(id.Blob)
	if err != nil {
		return ""
	}
	return pk.Type()
}

// Fingerprint returns the OpenSSH SHA256 fingerprint, or "" if the blob does
// not parse.
func (id *Identity) Fingerprint() string {
	pk, err := ssh.ParsePublicKey(id.Blob)
	if err != nil {
		return ""
	}
	return ssh.FingerprintSHA256(pk)
}

// LegacyFingerprint returns the colon-separated MD5 fingerprint, or "".
func (id *Identity) LegacyFingerprint() string {
	pk, err := ssh.ParsePublicKey(id.Blob)
	if err != nil {
		return ""
	}
	return ssh.FingerprintLegacyMD5(pk)
}

// ParseIdentitiesAnswer decodes an SSH2_AGENT_IDENTITIES_ANSWER body.
func ParseIdentitiesAnswer(body []byte) ([]*Identity, error) {
	msg, err := ParseMessage(body)
	if err != nil {
		return nil, err
	}
	if msg.Type != MsgIdentitiesAnswer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrMalformedMessage, MsgIdentitiesAnswer, msg.Type)
	}

	r := wire.NewReader(msg.Payload)
	count, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: identity count: %w", ErrMalformedMessage, err)
	}

	// Each identity needs at least two length prefixes.
	capHint := min(int(count), r.Len()/8)
	ids := make([]*Identity, 0, capHint)
	for i := uint32(0); i < count; i++ {
		blob, err := r.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%w: identity %d key blob: %w", ErrMalformedMessage, i, err)
		}
		comment, err := r.Text()
		if err != nil {
			return nil, fmt.Errorf("%w: identity %d comment: %w", ErrMalformedMessage, i, err)
		}
		ids = append(ids, &Identity{Blob: blob, Comment: comment})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after identities", ErrMalformedMessage, r.Len())
	}
	return ids, nil
}

// MarshalIdentitiesAnswer encodes ids as an SSH2_AGENT_IDENTITIES_ANSWER body.
func MarshalIdentitiesAnswer(ids []*Identity) ([]byte, error) {
	w := wire.NewWriter(64 * (len(ids) + 1))
	w.PutByte(byte(MsgIdentitiesAnswer))
	w.PutUint32(uint32(len(ids)))
	for _, id := range ids {
		if err := w.PutString(id.Blob); err != nil {
			return nil, err
		}
		if err := w.PutText(id.Comment); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// SignRequest is the payload of SSH2_AGENTC_SIGN_REQUEST.
type SignRequest struct {
	KeyBlob []byte
	Data    []byte
	Flags   uint32
}

// ParseSignRequest decodes a sign request payload (without the opcode).
func ParseSignRequest(payload []byte) (*SignRequest, error) {
	r := wire.NewReader(payload)
	blob, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: key blob: %w", ErrMalformedMessage, err)
	}
	data, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: data: %w", ErrMalformedMessage, err)
	}
	flags, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: flags: %w", ErrMalformedMessage, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after sign request", ErrMalformedMessage, r.Len())
	}
	return &SignRequest{KeyBlob: blob, Data: data, Flags: flags}, nil
}

// Marshal encodes the sign request as a full frame body.
func (sr *SignRequest) Marshal() ([]byte, error) {
	w := wire.NewWriter(1 + 12 + len(sr.KeyBlob) + len(sr.Data))
	w.PutByte(byte(MsgSignRequest))
	if err := w.PutString(sr.KeyBlob); err != nil {
		return nil, err
	}
	if err := w.PutString(sr.Data); err != nil {
		return nil, err
	}
	w.PutUint32(sr.Flags)
	return w.Bytes(), nil
}
