package domain

import (
	"strings"

	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
)

// Role identifies which side of a checkpoint pairing a device plays.
type Role string

const (
	// RoleDisplay shows the reference image queue ("Device A").
	RoleDisplay Role = "display"
	// RoleCamera captures replacement photos ("Device B").
	RoleCamera Role = "camera"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleDisplay || r == RoleCamera
}

// Counterpart returns the role paired with r.
func (r Role) Counterpart() Role {
	if r == RoleDisplay {
		return RoleCamera
	}
	return RoleDisplay
}

const maxCheckpointLength = 255

// NormalizeCheckpoint trims surrounding whitespace and validates a checkpoint
// name. Names are case-sensitive and become path segments in blob storage,
// so separators and dot segments are rejected.
func NormalizeCheckpoint(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", apperrors.New(apperrors.CodeInvalidArgument, "checkpoint_name is required")
	case len(name) > maxCheckpointLength:
		return "", apperrors.New(apperrors.CodeInvalidArgument, "checkpoint_name must be at most 255 bytes")
	case name == "." || name == "..", strings.ContainsAny(name, `/\`):
		return "", apperrors.New(apperrors.CodeInvalidArgument, "checkpoint_name must not contain path separators")
	}
	return name, nil
}
