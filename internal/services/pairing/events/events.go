// Package events defines the real-time messages exchanged with display and
// camera devices. Every event has a fixed schema; inbound events are
// validated here before they reach the coordinator.
package events

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
)

// Type is the wire name of an event.
type Type string

const (
	TypeRegisterDisplay  Type = "register_display"
	TypeRegisterCamera   Type = "register_camera"
	TypeDisplayNextImage Type = "display_next_image"
	TypeSessionComplete  Type = "session_complete"

	TypeDisplayImage        Type = "display_image"
	TypeCaptureConfirmed    Type = "capture_confirmed"
	TypeSessionEnded        Type = "session_ended"
	TypeCameraReady         Type = "camera_ready"
	TypeCameraDisconnected  Type = "camera_disconnected"
	TypeDisplayConnected    Type = "display_connected"
	TypeDisplayDisconnected Type = "display_disconnected"
	TypeCaptureTimeout      Type = "capture_timeout"
	TypeServerShutdown      Type = "server_shutdown"
	TypeError               Type = "error"
)

const maxDeviceIDRunes = 128

// Inbound is an event sent by a device.
type Inbound interface {
	EventType() Type
	// Checkpoint is the checkpoint the event is scoped to.
	Checkpoint() string
	// Validate trims string fields in place and checks required ones.
	Validate() error
}

// Outbound is an event sent to a device.
type Outbound interface {
	EventType() Type
}

// RegisterDisplay binds the sending connection as the checkpoint's display.
type RegisterDisplay struct {
	DeviceID       string `json:"device_id"`
	CheckpointName string `json:"checkpoint_name"`
}

func (*RegisterDisplay) EventType() Type      { return TypeRegisterDisplay }
func (e *RegisterDisplay) Checkpoint() string { return e.CheckpointName }

func (e *RegisterDisplay) Validate() error {
	return validateRegistration(&e.DeviceID, &e.CheckpointName)
}

// RegisterCamera binds the sending connection as the checkpoint's camera.
type RegisterCamera struct {
	DeviceID       string `json:"device_id"`
	CheckpointName string `json:"checkpoint_name"`
}

func (*RegisterCamera) EventType() Type      { return TypeRegisterCamera }
func (e *RegisterCamera) Checkpoint() string { return e.CheckpointName }

func (e *RegisterCamera) Validate() error {
	return validateRegistration(&e.DeviceID, &e.CheckpointName)
}

// DisplayNextImage asks for the session's current image to be shown on the
// camera.
type DisplayNextImage struct {
	SessionID      string `json:"session_id"`
	CurrentImageID string `json:"current_image_id"`
	CheckpointName string `json:"checkpoint_name"`
	ImageURL       string `json:"image_url"`
	TargetFilename string `json:"target_filename"`
}

func (*DisplayNextImage) EventType() Type      { return TypeDisplayNextImage }
func (e *DisplayNextImage) Checkpoint() string { return e.CheckpointName }

func (e *DisplayNextImage) Validate() error {
	if err := validateCheckpoint(&e.CheckpointName); err != nil {
		return err
	}
	e.SessionID = strings.TrimSpace(e.SessionID)
	e.CurrentImageID = strings.TrimSpace(e.CurrentImageID)
	e.ImageURL = strings.TrimSpace(e.ImageURL)
	e.TargetFilename = strings.TrimSpace(e.TargetFilename)
	if e.SessionID == "" {
		return invalid("session_id is required")
	}
	if e.CurrentImageID == "" {
		return invalid("current_image_id is required")
	}
	return nil
}

// SessionComplete ends the display's session.
type SessionComplete struct {
	SessionID      string `json:"session_id"`
	CheckpointName string `json:"checkpoint_name"`
}

func (*SessionComplete) EventType() Type      { return TypeSessionComplete }
func (e *SessionComplete) Checkpoint() string { return e.CheckpointName }

func (e *SessionComplete) Validate() error {
	if err := validateCheckpoint(&e.CheckpointName); err != nil {
		return err
	}
	e.SessionID = strings.TrimSpace(e.SessionID)
	if e.SessionID == "" {
		return invalid("session_id is required")
	}
	return nil
}

// DisplayImage tells the camera which reference image to reproduce.
type DisplayImage struct {
	ImageID        string `json:"image_id"`
	CheckpointName string `json:"checkpoint_name"`
	ImageURL       string `json:"image_url"`
	SessionID      string `json:"session_id"`
	TargetFilename string `json:"target_filename"`
	Attempt        int    `json:"attempt,omitempty"`
}

func (DisplayImage) EventType() Type { return TypeDisplayImage }

// CaptureConfirmed tells the display the camera's capture was stored.
type CaptureConfirmed struct {
	ImageID         string    `json:"image_id"`
	CheckpointName  string    `json:"checkpoint_name"`
	SpoofedFilePath string    `json:"spoofed_file_path"`
	Timestamp       time.Time `json:"timestamp"`
	SessionID       string    `json:"session_id,omitempty"`
	NextIndex       int       `json:"next_index"`
	Completed       bool      `json:"completed"`
}

func (CaptureConfirmed) EventType() Type { return TypeCaptureConfirmed }

// SessionEnded tells the camera the session is over.
type SessionEnded struct {
	CheckpointName string `json:"checkpoint_name"`
	SessionID      string `json:"session_id,omitempty"`
	Message        string `json:"message"`
}

func (SessionEnded) EventType() Type { return TypeSessionEnded }

// CameraReady tells the display its camera is registered.
type CameraReady struct {
	DeviceID       string `json:"device_id"`
	CheckpointName string `json:"checkpoint_name"`
	Message        string `json:"message"`
}

func (CameraReady) EventType() Type { return TypeCameraReady }

// CameraDisconnected tells the display its camera went away.
type CameraDisconnected struct {
	CheckpointName string `json:"checkpoint_name"`
}

func (CameraDisconnected) EventType() Type { return TypeCameraDisconnected }

// DisplayConnected tells the camera its display is registered.
type DisplayConnected struct {
	DeviceID       string `json:"device_id"`
	CheckpointName string `json:"checkpoint_name"`
}

func (DisplayConnected) EventType() Type { return TypeDisplayConnected }

// DisplayDisconnected tells the camera its display went away.
type DisplayDisconnected struct {
	CheckpointName string `json:"checkpoint_name"`
}

func (DisplayDisconnected) EventType() Type { return TypeDisplayDisconnected }

// CaptureTimeout tells the display the camera never confirmed an image.
type CaptureTimeout struct {
	CheckpointName string `json:"checkpoint_name"`
	SessionID      string `json:"session_id"`
	ImageID        string `json:"image_id"`
	Attempts       int    `json:"attempts"`
}

func (CaptureTimeout) EventType() Type { return TypeCaptureTimeout }

// ServerShutdown is sent to every bound device before the process exits.
type ServerShutdown struct {
	CheckpointName string `json:"checkpoint_name"`
	Message        string `json:"message"`
}

func (ServerShutdown) EventType() Type { return TypeServerShutdown }

// Error reports a rejected inbound event to its sender.
type Error struct {
	// RequestID echoes the rejected frame's request id in the envelope.
	RequestID string         `json:"-"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (Error) EventType() Type { return TypeError }

// NewError converts err into an error event.
func NewError(requestID string, err error) Error {
	code := apperrors.CodeOf(err)
	out := Error{
		RequestID: requestID,
		Code:      string(code),
		Message:   apperrors.MessageOf(err),
		Retryable: code.Retryable(),
	}
	if code == apperrors.CodeUnknown {
		out.Message = "internal error"
	}
	var coded *apperrors.Error
	if errors.As(err, &coded) && len(coded.Metadata) > 0 {
		out.Details = make(map[string]any, len(coded.Metadata))
		for k, v := range coded.Metadata {
			out.Details[k] = v
		}
	}
	return out
}

func validateRegistration(deviceID, checkpoint *string) error {
	if err := validateCheckpoint(checkpoint); err != nil {
		return err
	}
	*deviceID = strings.TrimSpace(*deviceID)
	if *deviceID == "" {
		return invalid("device_id is required")
	}
	if utf8.RuneCountInString(*deviceID) > maxDeviceIDRunes {
		return invalid("device_id must be at most 128 characters")
	}
	return nil
}

func validateCheckpoint(checkpoint *string) error {
	name, err := domain.NormalizeCheckpoint(*checkpoint)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidEvent, apperrors.MessageOf(err), err)
	}
	*checkpoint = name
	return nil
}

func invalid(message string) error {
	return apperrors.New(apperrors.CodeInvalidEvent, message)
}
