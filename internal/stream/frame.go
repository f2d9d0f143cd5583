package stream

import (
	"bytes"
	"encoding/json"

	"gigstream/pkg/types"
)

// KeepaliveFrame is a comment line; event-stream clients ignore it.
var KeepaliveFrame = []byte(": keepalive\n\n")

// EncodeEvent renders one event-stream message:
//
//	event: <event>\ndata: <json>\n\n
//
// Event names follow types.IsValidEventName, which excludes whitespace and so
// line breaks. encoding/json never emits raw newlines, so the payload always
// fits on a single data line.
func EncodeEvent(event string, payload any) ([]byte, error) {
	if !types.IsValidEventName(event) {
		return nil, ErrInvalidEventName
	}
	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len("event: \ndata: \n\n")+len(event)+len(data))
	frame = append(frame, "event: "...)
	frame = append(frame, event...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// encodePayload passes pre-encoded JSON (types.Notification.Encode) straight
// through when it is valid and single-line; anything else goes through json.Marshal.
func encodePayload(payload any) ([]byte, error) {
	if raw, ok := payload.(json.RawMessage); ok && len(raw) > 0 &&
		!bytes.ContainsAny(raw, "\r\n") && json.Valid(raw) {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	return data, nil
}

// ConnectedFrame acknowledges a freshly registered channel.
func ConnectedFrame(ownerID string) []byte {
	// A map of strings always marshals.
	frame, _ := EncodeEvent(types.EventConnected, map[string]string{"userId": ownerID})
	return frame
}
