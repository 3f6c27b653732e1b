// Package idgenerator hands out session identifiers that are unique for the
// lifetime of the process.
package idgenerator

import (
	"errors"
	"sync/atomic"
)

// ErrExhausted is returned by Next once every uint32 after the start value has
// been handed out.
var ErrExhausted = errors.New("idgenerator: identifier space exhausted")

// IdGenerator generates increasing uint32 IDs in a concurrency-safe manner.
// The first call to Next returns startValue+1. Unlike a plain counter it never
// wraps around, so an ID handed out once is never handed out again.
type IdGenerator struct {
	last atomic.Uint32
	done atomic.Bool
}

// NewIdGenerator creates an IdGenerator whose first ID is startValue+1.
//
// Parameters:
//   - startValue: The value the counter starts from
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.last.Store(startValue)
	return gen
}

// Next returns the next unused ID. It is safe for concurrent use.
//
// Returns:
//   - The next uint32 ID
//   - ErrExhausted if the counter reached math.MaxUint32
func (g *IdGenerator) Next() (uint32, error) {
	for {
		if g.done.Load() {
			return 0, ErrExhausted
		}

		cur := g.last.Load()
		if cur == ^uint32(0) {
			g.done.Store(true)
			return 0, ErrExhausted
		}

		if g.last.CompareAndSwap(cur, cur+1) {
			return cur + 1, nil
		}
	}
}

// Last returns the most recently issued ID, or the start value if none has
// been issued yet.
func (g *IdGenerator) Last() uint32 {
	return g.last.Load()
}
