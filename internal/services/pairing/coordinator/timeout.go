package coordinator

import (
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/events"
	"go.uber.org/zap"
)

// arm starts or restarts the capture timer of event's checkpoint. Every
// request to show an image starts a fresh retry budget; only expiry counts
// attempts.
func (c *Coordinator) arm(event events.DisplayImage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pending, ok := c.inflight[event.CheckpointName]; ok {
		pending.timer.Stop()
		delete(c.inflight, event.CheckpointName)
	}
	if c.timeout <= 0 || c.closed {
		return
	}
	c.startLocked(event, event.Attempt)
}

func (c *Coordinator) startLocked(event events.DisplayImage, attempts int) {
	c.generation++
	generation := c.generation
	checkpoint := event.CheckpointName
	event.Attempt = attempts
	c.inflight[checkpoint] = &inflightCapture{
		event:      event,
		attempts:   attempts,
		generation: generation,
		timer: c.afterFunc(c.timeout, func() {
			c.expire(checkpoint, generation)
		}),
	}
}

// disarm cancels the checkpoint's capture timer. A non-empty imageID only
// cancels a timer waiting for that image.
func (c *Coordinator) disarm(checkpoint, imageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.inflight[checkpoint]
	if !ok {
		return
	}
	if imageID != "" && pending.event.ImageID != imageID {
		return
	}
	pending.timer.Stop()
	delete(c.inflight, checkpoint)
}

func (c *Coordinator) expire(checkpoint string, generation uint64) {
	c.mu.Lock()
	pending, ok := c.inflight[checkpoint]
	if !ok || pending.generation != generation || c.closed {
		c.mu.Unlock()
		return
	}
	if pending.attempts <= c.maxRetries {
		c.startLocked(pending.event, pending.attempts+1)
		retry := c.inflight[checkpoint].event
		c.mu.Unlock()

		c.log.Info("capture timed out, re-sending image",
			zap.String("checkpoint", checkpoint),
			zap.String("session_id", retry.SessionID),
			zap.String("image_id", retry.ImageID),
			zap.Int("attempt", retry.Attempt),
		)
		if camera, ok := c.registry.Lookup(checkpoint, domain.RoleCamera); ok {
			c.send(camera, retry)
		}
		return
	}
	delete(c.inflight, checkpoint)
	c.mu.Unlock()

	c.log.Warn("capture timed out",
		zap.String("checkpoint", checkpoint),
		zap.String("session_id", pending.event.SessionID),
		zap.String("image_id", pending.event.ImageID),
		zap.Int("attempts", pending.attempts),
	)
	if display, ok := c.registry.Lookup(checkpoint, domain.RoleDisplay); ok {
		c.send(display, events.CaptureTimeout{
			CheckpointName: checkpoint,
			SessionID:      pending.event.SessionID,
			ImageID:        pending.event.ImageID,
			Attempts:       pending.attempts,
		})
	}
}
