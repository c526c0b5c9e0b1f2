package agentproto

import "fmt"

// MessageType is the opcode byte that starts every agent message.
type MessageType byte

// Requests and replies from draft-miller-ssh-agent and OpenSSH's PROTOCOL.agent.
const (
	MsgRequestRSAIdentities       MessageType = 1
	MsgRSAIdentitiesAnswer        MessageType = 2
	MsgRSAChallenge               MessageType = 3
	MsgFailure                    MessageType = 5
	MsgSuccess                    MessageType = 6
	MsgAddRSAIdentity             MessageType = 7
	MsgRemoveRSAIdentity          MessageType = 8
	MsgRemoveAllRSAIdentities     MessageType = 9
	MsgRequestIdentities          MessageType = 11
	MsgIdentitiesAnswer           MessageType = 12
	MsgSignRequest                MessageType = 13
	MsgSignResponse               MessageType = 14
	MsgAddIdentity                MessageType = 17
	MsgRemoveIdentity             MessageType = 18
	MsgRemoveAllIdentities        MessageType = 19
	MsgAddSmartcardKey            MessageType = 20
	MsgRemoveSmartcardKey         MessageType = 21
	MsgLock                       MessageType = 22
	MsgUnlock                     MessageType = 23
	MsgAddRSAIDConstrained        MessageType = 24
	MsgAddIDConstrained           MessageType = 25
	MsgAddSmartcardKeyConstrained MessageType = 26
	MsgExtension                  MessageType = 27
	MsgExtensionFailure           MessageType = 28
)

// Sign request flags.
const (
	SignFlagRSASHA256 uint32 = 0x02
	SignFlagRSASHA512 uint32 = 0x04
)

var messageNames = map[MessageType]string{
	MsgRequestRSAIdentities:       "request_rsa_identities",
	MsgRSAIdentitiesAnswer:        "rsa_identities_answer",
	MsgRSAChallenge:               "rsa_challenge",
	MsgFailure:                    "failure",
	MsgSuccess:                    "success",
	MsgAddRSAIdentity:             "add_rsa_identity",
	MsgRemoveRSAIdentity:          "remove_rsa_identity",
	MsgRemoveAllRSAIdentities:     "remove_all_rsa_identities",
	MsgRequestIdentities:          "request_identities",
	MsgIdentitiesAnswer:           "identities_answer",
	MsgSignRequest:                "sign_request",
	MsgSignResponse:               "sign_response",
	MsgAddIdentity:                "add_identity",
	MsgRemoveIdentity:             "remove_identity",
	MsgRemoveAllIdentities:        "remove_all_identities",
	MsgAddSmartcardKey:            "add_smartcard_key",
	MsgRemoveSmartcardKey:         "remove_smartcard_key",
	MsgLock:                       "lock",
	MsgUnlock:                     "unlock",
	MsgAddRSAIDConstrained:        "add_rsa_id_constrained",
	MsgAddIDConstrained:           "add_id_constrained",
	MsgAddSmartcardKeyConstrained: "add_smartcard_key_constrained",
	MsgExtension:                  "extension",
	MsgExtensionFailure:           "extension_failure",
}

// String returns the lower-case protocol name of the message type.
func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}
