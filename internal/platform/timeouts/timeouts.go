// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second

// Repository caps a single best-effort durable write.
const Repository = 5 * time.Second

// Capture is the default wait for a camera to confirm one displayed image.
const Capture = 2 * time.Minute

// WebSocketWrite caps a single outbound frame write to a device.
const WebSocketWrite = 10 * time.Second
