package domain

import apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"

// Sentinel errors compared with errors.Is; matching is by code so wrapped
// and metadata-carrying variants still match.
var (
	ErrNoImagesAvailable       = apperrors.New(apperrors.CodeNoImagesAvailable, "no unprocessed images found for this checkpoint")
	ErrSessionNotFound         = apperrors.New(apperrors.CodeSessionNotFound, "session not found")
	ErrSessionAlreadyCompleted = apperrors.New(apperrors.CodeSessionAlreadyCompleted, "session already completed")
	ErrSessionAlreadyActive    = apperrors.New(apperrors.CodeSessionAlreadyActive, "checkpoint already has an active session")
	ErrImageOutOfOrder         = apperrors.New(apperrors.CodeImageOutOfOrder, "image is not the current image of the session")
	ErrImageNotFound           = apperrors.New(apperrors.CodeNotFound, "original image not found")
	ErrImageAlreadyProcessed   = apperrors.New(apperrors.CodeAlreadyProcessed, "image already processed")
	ErrCheckpointMismatch      = apperrors.New(apperrors.CodeCheckpointMismatch, "session belongs to a different checkpoint")
)
