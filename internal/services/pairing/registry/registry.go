// Package registry tracks which connection is bound as the display and which
// as the camera of every checkpoint.
package registry

import (
	"cmp"
	"slices"
	"sync"

	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/events"
	"go.uber.org/zap"
)

// CameraReadyMessage is the human-readable text of camera_ready events.
const CameraReadyMessage = "Camera device connected and ready"

// Conn is one device connection.
type Conn interface {
	ID() string
	Send(events.Outbound) error
	Close() error
}

// Binding associates a device connection with a checkpoint role.
type Binding struct {
	Checkpoint string
	Role       domain.Role
	DeviceID   string
	Conn       Conn
}

type slot struct {
	checkpoint string
	role       domain.Role
}

// Registry holds at most one binding per (checkpoint, role) and at most one
// binding per connection. The zero value is not usable; call New.
type Registry struct {
	log *zap.Logger

	mu       sync.Mutex
	bindings map[slot]Binding
	byConn   map[string]slot
}

// New returns an empty registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:      log,
		bindings: make(map[slot]Binding),
		byConn:   make(map[string]slot),
	}
}

// Register binds conn as role for checkpoint, replacing any earlier binding
// for the same slot. The counterpart, if bound, is told the device is ready.
// When conn was bound elsewhere, that binding is released first and its
// counterpart is told of the disconnect.
//
// The returned binding is the counterpart present after registration.
func (r *Registry) Register(checkpoint string, role domain.Role, deviceID string, conn Conn) (Binding, bool) {
	target := slot{checkpoint: checkpoint, role: role}
	binding := Binding{Checkpoint: checkpoint, Role: role, DeviceID: deviceID, Conn: conn}

	r.mu.Lock()
	var released Binding
	var releasedSurvivor Binding
	var hasReleasedSurvivor bool
	if previous, ok := r.byConn[conn.ID()]; ok && previous != target {
		released = r.bindings[previous]
		delete(r.bindings, previous)
		releasedSurvivor, hasReleasedSurvivor = r.bindings[counterpartSlot(previous)]
	}
	if evicted, ok := r.bindings[target]; ok && evicted.Conn.ID() != conn.ID() {
		delete(r.byConn, evicted.Conn.ID())
		r.log.Info("registry evicted binding",
			zap.String("checkpoint", checkpoint),
			zap.String("role", string(role)),
			zap.String("conn_id", evicted.Conn.ID()),
		)
	}
	r.bindings[target] = binding
	r.byConn[conn.ID()] = target
	counterpart, hasCounterpart := r.bindings[counterpartSlot(target)]
	r.mu.Unlock()

	if hasReleasedSurvivor {
		r.notify(releasedSurvivor, disconnectedEvent(released))
	}
	if hasCounterpart {
		r.notify(counterpart, readyEvent(binding))
	}
	return counterpart, hasCounterpart
}

// UnregisterByConnection removes conn's binding, if it still owns one, and
// tells the counterpart. A connection already superseded by a newer
// registration is ignored.
func (r *Registry) UnregisterByConnection(conn Conn) (Binding, bool) {
	r.mu.Lock()
	target, ok := r.byConn[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return Binding{}, false
	}
	binding := r.bindings[target]
	delete(r.byConn, conn.ID())
	if binding.Conn == nil || binding.Conn.ID() != conn.ID() {
		r.mu.Unlock()
		return Binding{}, false
	}
	delete(r.bindings, target)
	survivor, hasSurvivor := r.bindings[counterpartSlot(target)]
	r.mu.Unlock()

	if hasSurvivor {
		r.notify(survivor, disconnectedEvent(binding))
	}
	return binding, true
}

// Lookup returns the binding for (checkpoint, role).
func (r *Registry) Lookup(checkpoint string, role domain.Role) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	binding, ok := r.bindings[slot{checkpoint: checkpoint, role: role}]
	return binding, ok
}

// BindingOf returns the binding owned by conn.
func (r *Registry) BindingOf(conn Conn) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.byConn[conn.ID()]
	if !ok {
		return Binding{}, false
	}
	binding, ok := r.bindings[target]
	return binding, ok
}

// Bindings returns every binding ordered by checkpoint then role.
func (r *Registry) Bindings() []Binding {
	r.mu.Lock()
	out := make([]Binding, 0, len(r.bindings))
	for _, binding := range r.bindings {
		out = append(out, binding)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Binding) int {
		return cmp.Or(cmp.Compare(a.Checkpoint, b.Checkpoint), cmp.Compare(a.Role, b.Role))
	})
	return out
}

func (r *Registry) notify(to Binding, event events.Outbound) {
	if err := to.Conn.Send(event); err != nil {
		r.log.Warn("registry notification failed",
			zap.String("checkpoint", to.Checkpoint),
			zap.String("conn_id", to.Conn.ID()),
			zap.String("event", string(event.EventType())),
			zap.Error(err),
		)
	}
}

func counterpartSlot(s slot) slot {
	return slot{checkpoint: s.checkpoint, role: s.role.Counterpart()}
}

func readyEvent(b Binding) events.Outbound {
	if b.Role == domain.RoleCamera {
		return events.CameraReady{DeviceID: b.DeviceID, CheckpointName: b.Checkpoint, Message: CameraReadyMessage}
	}
	return events.DisplayConnected{DeviceID: b.DeviceID, CheckpointName: b.Checkpoint}
}

func disconnectedEvent(b Binding) events.Outbound {
	if b.Role == domain.RoleCamera {
		return events.CameraDisconnected{CheckpointName: b.Checkpoint}
	}
	return events.DisplayDisconnected{CheckpointName: b.Checkpoint}
}
