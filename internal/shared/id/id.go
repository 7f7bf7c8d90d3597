// Package id provides centralized ID generation for the gateway.
//
// Visitor sessions and upstream credentials both need opaque, unique,
// log-friendly identifiers. ULIDs are lexicographically sortable, so
// session ids double as creation-ordered keys in the session store.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// VisitID identifies one visitor browsing session.
type VisitID string

// CredentialID identifies one upstream sticky-session credential.
type CredentialID string

const (
	VisitPrefix      = "visit"
	CredentialPrefix = "cred"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewVisitID generates a new visitor session ID.
func NewVisitID() VisitID {
	return VisitID(Default().GenerateWithPrefix(VisitPrefix))
}

// NewCredentialID generates a new upstream credential ID.
func NewCredentialID() CredentialID {
	return CredentialID(Default().GenerateWithPrefix(CredentialPrefix))
}

func (id VisitID) String() string      { return string(id) }
func (id CredentialID) String() string { return string(id) }

// IsValid checks whether the part after the last underscore is a valid ULID.
func IsValid(id string) bool {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '_' {
			_, err := ulid.Parse(id[i+1:])
			return err == nil
		}
	}
	_, err := ulid.Parse(id)
	return err == nil
}
