package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SkynetNext/game-server/internal/errs"
)

// Envelope is the {type, payload} wrapper around every wire message
//
// Inbound and outbound messages share the same shape:
//
//	{"type": "SEND_GIFT", "payload": {"friendPlayerId": "...", "type": "Coins", "value": 10}}
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var (
	// ErrEmptyType is returned by Parse when the envelope has no type
	ErrEmptyType = errors.New("message type is required")
)

// Parse decodes raw bytes into an Envelope
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrEmptyType
	}
	return &env, nil
}

// Encode wraps payload in an envelope of the given type and serializes it
func Encode(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		raw = data
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// MustEncode is Encode for payloads that cannot fail to marshal
func MustEncode(msgType string, payload any) []byte {
	data, err := Encode(msgType, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// EncodeError builds an ERROR envelope for err
func EncodeError(err error) []byte {
	return MustEncode(TypeError, ErrorPayload{
		Code:    errs.CodeOf(err),
		Message: errs.MessageOf(err),
	})
}

// DecodePayload unmarshals an envelope payload into v, reporting failures
// with the InvalidPayload code
func DecodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return errs.New(errs.InvalidPayload, "payload is required")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errs.Newf(errs.InvalidPayload, "failed to decode payload: %v", err)
	}
	return nil
}
