// Package codegen produces ticket codes. Codes are bearer credentials, so
// they are drawn from crypto/rand and never derived from row ids.
package codegen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

// Alphabet is Crockford base32: no I, L, O or U, so codes survive being
// read aloud or hand-typed at a gate.
const Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// DefaultLength gives 60 bits of entropy.
const DefaultLength = 12

var ErrInvalidLength = errors.New("code length must be between 8 and 64")

type Generator interface {
	NextCode() (string, error)
}

type Random struct {
	length int
}

func NewRandom(length int) (*Random, error) {
	if length == 0 {
		length = DefaultLength
	}
	if length < 8 || length > 64 {
		return nil, ErrInvalidLength
	}
	return &Random{length: length}, nil
}

func (g *Random) NextCode() (string, error) {
	buf := make([]byte, g.length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("NextCode: %w", err)
	}
	// 256 is a multiple of 32, so masking keeps the distribution uniform.
	for i, b := range buf {
		buf[i] = Alphabet[b&31]
	}
	return string(buf), nil
}

// Valid reports whether s has the shape of a generated code.
func Valid(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !inAlphabet(s[i]) {
			return false
		}
	}
	return true
}

func inAlphabet(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z':
		return c != 'I' && c != 'L' && c != 'O' && c != 'U'
	}
	return false
}

// Sequence replays a fixed list of codes and then fails. Tests use it to
// force collisions.
type Sequence struct {
	mu    sync.Mutex
	codes []string
	next  int
}

func NewSequence(codes ...string) *Sequence {
	return &Sequence{codes: codes}
}

var ErrSequenceExhausted = errors.New("sequence exhausted")

func (s *Sequence) NextCode() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.codes) {
		return "", ErrSequenceExhausted
	}
	c := s.codes[s.next]
	s.next++
	return c, nil
}
