package domain

import (
	"path"
	"time"
)

// ImageQueueEntry is one reference image scheduled in a session. Entries are
// immutable once the session exists.
type ImageQueueEntry struct {
	ImageID          string `json:"image_id"`
	SequenceOrder    int64  `json:"sequence_order"`
	OriginalFilePath string `json:"original_file_path"`
	ImageURL         string `json:"image_url"`
}

// TargetFilename is the name the spoofed capture must be stored under.
func (e ImageQueueEntry) TargetFilename() string {
	if e.OriginalFilePath == "" {
		return ""
	}
	return path.Base(e.OriginalFilePath)
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Session is one run over a checkpoint's image queue.
type Session struct {
	ID           string            `json:"session_id"`
	Checkpoint   string            `json:"checkpoint_name"`
	DeviceAID    string            `json:"device_a_id"`
	Queue        []ImageQueueEntry `json:"images_queue"`
	CurrentIndex int               `json:"current_index"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  time.Time         `json:"completed_at,omitzero"`
}

// Total is the queue length.
func (s Session) Total() int {
	return len(s.Queue)
}

// Current returns the entry at the cursor while the session still has work.
func (s Session) Current() (ImageQueueEntry, bool) {
	if s.Status != StatusActive || s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Queue) {
		return ImageQueueEntry{}, false
	}
	return s.Queue[s.CurrentIndex], true
}

// Active reports whether the session still accepts captures.
func (s Session) Active() bool {
	return s.Status == StatusActive
}

// AdvanceResult reports the outcome of moving a session cursor forward.
type AdvanceResult struct {
	// NewIndex is the cursor after the advance.
	NewIndex int
	// Completed is set when NewIndex reached the end of the queue.
	Completed bool
}
