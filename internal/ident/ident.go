// Package ident generates and validates coordination core identifiers.
//
// Generated identifiers follow the grammar
// ^(msn|srt|spc|lock|chk|evt|msg|mbx)-[0-9a-z]{8,}$ with an opaque suffix:
// lowercase base32 over a monotonic counter plus random bits. Externally
// owned identifiers (specialists registering themselves, mailbox addresses)
// are validated against a looser pattern since agents pick their own names.
package ident

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"regexp"
	"sync/atomic"
)

// Identifier prefixes, one per entity kind.
const (
	PrefixMission    = "msn"
	PrefixSortie     = "srt"
	PrefixSpecialist = "spc"
	PrefixLock       = "lock"
	PrefixCheckpoint = "chk"
	PrefixEvent      = "evt"
	PrefixMessage    = "msg"
	PrefixMailbox    = "mbx"
)

var (
	idPattern       = regexp.MustCompile(`^(msn|srt|spc|lock|chk|evt|msg|mbx)-[0-9a-z]{8,}$`)
	externalPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

	// base32hex with a lowercase alphabet keeps suffixes inside [0-9a-z].
	suffixEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)
)

// Generator produces identifiers. Safe for concurrent use.
type Generator struct {
	counter atomic.Uint32
}

// NewGenerator returns a Generator seeded with a random counter origin so
// two processes sharing a store do not mint colliding suffix prefixes.
func NewGenerator() *Generator {
	g := &Generator{}
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err == nil {
		g.counter.Store(binary.BigEndian.Uint32(seed[:]))
	}
	return g
}

// New returns a fresh identifier with the given prefix. The 16-character
// suffix encodes a 4-byte counter and 6 random bytes, 80 bits total.
func (g *Generator) New(prefix string) string {
	var buf [10]byte
	binary.BigEndian.PutUint32(buf[:4], g.counter.Add(1))
	if _, err := rand.Read(buf[4:]); err != nil {
		// crypto/rand failure means the process is in a hopeless state;
		// counter-only suffixes stay unique within this run.
		binary.BigEndian.PutUint32(buf[4:8], g.counter.Add(1))
	}
	return fmt.Sprintf("%s-%s", prefix, suffixEncoding.EncodeToString(buf[:]))
}

// Valid reports whether id matches the generated-identifier grammar.
func Valid(id string) bool {
	return idPattern.MatchString(id)
}

// ValidWithPrefix reports whether id is a valid identifier of the given kind.
func ValidWithPrefix(id, prefix string) bool {
	return Valid(id) && len(id) > len(prefix) && id[:len(prefix)+1] == prefix+"-"
}

// ValidExternal reports whether an externally owned identifier is acceptable.
// Specialists and mailboxes name themselves; the core only bounds the shape.
func ValidExternal(id string) bool {
	return externalPattern.MatchString(id)
}
