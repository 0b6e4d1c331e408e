package valueobjects

import (
	"crypto/rand"
	"errors"
	"io"
	mrand "math/rand/v2"

	"github.com/google/uuid"
)

// WishIDGenerator produces version-4 UUID strings for new wishes.
//
// Identifiers only need to avoid collisions inside one user's sky; when the
// secure source fails the generator falls back to math/rand, so callers must
// not rely on them for anything security related.
type WishIDGenerator struct {
	secure io.Reader
}

// NewWishIDGenerator creates a generator backed by crypto/rand.
func NewWishIDGenerator() *WishIDGenerator {
	return &WishIDGenerator{secure: rand.Reader}
}

// NewWishIDGeneratorFromReader creates a generator using r as its secure source.
func NewWishIDGeneratorFromReader(r io.Reader) *WishIDGenerator {
	return &WishIDGenerator{secure: r}
}

// New returns a fresh 36 character hyphenated identifier.
func (g *WishIDGenerator) New() string {
	if g.secure != nil {
		if id, err := uuid.NewRandomFromReader(g.secure); err == nil {
			return id.String()
		}
	}
	return fallbackUUID().String()
}

func fallbackUUID() uuid.UUID {
	var id uuid.UUID
	for i := 0; i < len(id); i += 8 {
		v := mrand.Uint64()
		for j := 0; j < 8; j++ {
			id[i+j] = byte(v >> (8 * j))
		}
	}
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}

// ValidateWishID checks that id is a well formed UUID.
func ValidateWishID(id string) error {
	if id == "" {
		return errors.New("wish ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return errors.New("wish ID must be a hyphenated UUID")
	}
	return nil
}
