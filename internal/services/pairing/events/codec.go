package events

import (
	"encoding/json"

	"github.com/bytedance/sonic"
	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
)

// Frame is the envelope of every message on the wire.
type Frame struct {
	Type      Type            `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// DecodeFrame parses a raw message into its envelope.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := sonic.Unmarshal(data, &frame); err != nil {
		return Frame{}, apperrors.Wrap(apperrors.CodeInvalidEvent, "invalid frame payload", err)
	}
	if frame.Type == "" {
		return Frame{}, apperrors.New(apperrors.CodeInvalidEvent, "frame type is required")
	}
	return frame, nil
}

// ParseInbound decodes and validates the payload of an inbound frame.
func ParseInbound(frame Frame) (Inbound, error) {
	var event Inbound
	switch frame.Type {
	case TypeRegisterDisplay:
		event = &RegisterDisplay{}
	case TypeRegisterCamera:
		event = &RegisterCamera{}
	case TypeDisplayNextImage:
		event = &DisplayNextImage{}
	case TypeSessionComplete:
		event = &SessionComplete{}
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeUnsupportedEvent, "unsupported frame type", map[string]string{
			"type": string(frame.Type),
		})
	}
	if len(frame.Payload) == 0 || string(frame.Payload) == "null" {
		return nil, apperrors.New(apperrors.CodeInvalidEvent, "payload is required")
	}
	if err := sonic.Unmarshal(frame.Payload, event); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidEvent, "invalid "+string(frame.Type)+" payload", err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// EncodeFrame wraps an outbound event in its envelope.
func EncodeFrame(event Outbound) ([]byte, error) {
	payload, err := sonic.Marshal(event)
	if err != nil {
		return nil, err
	}
	frame := Frame{Type: event.EventType(), Payload: payload}
	if e, ok := event.(Error); ok {
		frame.RequestID = e.RequestID
	}
	return sonic.Marshal(frame)
}

// EncodeInbound wraps an inbound event in its envelope. Devices and tests use
// it to build the frames the server expects.
func EncodeInbound(requestID string, event Inbound) ([]byte, error) {
	payload, err := sonic.Marshal(event)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(Frame{Type: event.EventType(), RequestID: requestID, Payload: payload})
}
