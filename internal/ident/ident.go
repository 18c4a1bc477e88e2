// Package ident generates item identifiers.
package ident

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces unique, lexically time-ordered ids. It is safe for
// concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// New returns a Generator backed by crypto/rand with monotonic entropy, so ids
// minted within the same millisecond still sort in creation order.
func New() *Generator {
	return NewFrom(rand.Reader, time.Now)
}

// NewFrom returns a Generator drawing on entropy and now. Two generators fed
// the same entropy and clock produce the same ids.
func NewFrom(entropy io.Reader, now func() time.Time) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
		now:     now,
	}
}

// NewID returns a fresh id.
func (g *Generator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	return strings.ToLower(id.String())
}
