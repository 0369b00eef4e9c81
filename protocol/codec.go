package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Marshal wraps a payload in an Envelope and encodes the whole frame. A nil
// payload produces a bare envelope, for signal-only messages like
// speech_end.
func Marshal(msgType MessageType, payload interface{}) ([]byte, error) {
	frame := Envelope{Type: msgType}
	if payload == nil {
		return sonic.Marshal(frame)
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s payload: %w", msgType, err)
	}
	frame.Payload = body
	return sonic.Marshal(frame)
}

// Unmarshal splits a wire frame into its message type and undecoded
// payload. Payload decoding is deferred to UnmarshalPayload so callers can
// dispatch on the type first.
func Unmarshal(data []byte) (MessageType, json.RawMessage, error) {
	var frame Envelope
	if err := sonic.Unmarshal(data, &frame); err != nil {
		return "", nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if frame.Type == "" {
		return "", nil, fmt.Errorf("protocol: envelope has no type")
	}
	return frame.Type, frame.Payload, nil
}

// UnmarshalPayload decodes the payload half of a frame into T.
func UnmarshalPayload[T any](raw json.RawMessage) (T, error) {
	var decoded T
	if err := sonic.Unmarshal(raw, &decoded); err != nil {
		return decoded, fmt.Errorf("protocol: decode payload: %w", err)
	}
	return decoded, nil
}
