// Package pairing coordinates display and camera devices bound to the same
// checkpoint.
//
// A display walks an ordered queue of reference images; the paired camera
// captures a replacement for each one. The coordinator keeps both devices in
// lockstep over a WebSocket event channel while the session store owns the
// authoritative cursor and durable repositories record the outcome.
package pairing
