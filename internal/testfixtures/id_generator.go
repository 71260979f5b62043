package testfixtures

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// runNamespace seeds the name-based UUIDs handed out by IDGenerator.
var runNamespace = uuid.MustParse("6f1c8a52-3b7e-4a43-9d0e-2f6c1b8e5a10")

// IDGenerator produces deterministic, UUID-shaped run identifiers for tests.
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
}

// NewIDGenerator constructs a generator whose identifiers are derived from
// prefix and a counter. When prefix is empty, "run" is used.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier in the sequence.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return uuid.NewSHA1(runNamespace, []byte(fmt.Sprintf("%s-%d", g.prefix, g.counter))).String()
}

// NextFunc exposes Next as a function suitable for dependency injection.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return uuid.NewString
	}
	return g.Next
}

// Reset rewinds the counter so the sequence repeats.
func (g *IDGenerator) Reset() {
	g.mu.Lock()
	g.counter = 0
	g.mu.Unlock()
}
