// Package id generates opaque identifiers for connections, sessions, and images.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a lowercase, unpadded base32 encoding of a random UUIDv4.
func NewID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(u[:])), nil
}

// Generator produces prefixed, time-ordered identifiers such as
// session_1712345678901_1a2b3c4d.
type Generator struct {
	now func() time.Time
}

// NewGenerator returns a Generator using the wall clock.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// SessionID returns a new session identifier.
func (g *Generator) SessionID() string {
	return g.prefixed("session")
}

// ImageID returns a new image identifier.
func (g *Generator) ImageID() string {
	return g.prefixed("img")
}

// Filename returns a unique stored filename with the given extension.
func (g *Generator) Filename(ext string) string {
	return fmt.Sprintf("%d-%s%s", g.clock().UnixMilli(), shortUUID(), ext)
}

func (g *Generator) prefixed(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, g.clock().UnixMilli(), shortUUID())
}

func (g *Generator) clock() time.Time {
	if g == nil || g.now == nil {
		return time.Now()
	}
	return g.now()
}

func shortUUID() string {
	return uuid.NewString()[:8]
}
