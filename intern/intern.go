// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package intern provides a goroutine-safe string interner built on
// hashtab.Table. Interning the same name twice yields the same *Symbol, so
// symbols may be compared by pointer.
package intern

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashtab"
	"github.com/cockroachdb/hashtab/internal/syncutil"
	"github.com/zeebo/xxh3"
)

// Symbol is an interned name.
type Symbol struct {
	name string
	hash uint32
}

// Name returns the symbol's name.
func (s *Symbol) Name() string {
	return s.name
}

// Hash returns the hash the symbol is stored under.
func (s *Symbol) Hash() uint32 {
	return s.hash
}

func (s *Symbol) String() string {
	return s.name
}

// Hash folds the 64-bit xxh3 hash of name into the 32 bits stored by a
// hashtab.Table.
func Hash(name string) uint32 {
	h := xxh3.HashString(name)
	return uint32(h) ^ uint32(h>>32)
}

func symbolEqual(stored, key *Symbol) bool {
	return stored.name == key.name
}

func nameEqual(stored *Symbol, name string) bool {
	return stored.name == name
}

func symbolHash(s *Symbol) uint32 {
	return Hash(s.name)
}

// Option configures an Interner.
type Option func(*config)

type config struct {
	release func(*Symbol)
}

// WithRelease specifies a function invoked on every symbol discarded when the
// Interner is closed.
func WithRelease(release func(*Symbol)) Option {
	return func(c *config) {
		c.release = release
	}
}

// Interner maps names to unique *Symbols.
type Interner struct {
	mu struct {
		syncutil.Mutex
		syms *hashtab.Table[*Symbol]
	}
}

// New constructs an Interner sized to hold sizeHint symbols without
// resizing.
func New(sizeHint int, opts ...Option) (*Interner, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	var tableOpts []hashtab.Option[*Symbol]
	if cfg.release != nil {
		tableOpts = append(tableOpts, hashtab.WithRelease(cfg.release))
	}
	syms, err := hashtab.New[*Symbol](hashtab.CapacityFor(sizeHint), tableOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating interner")
	}
	in := &Interner{}
	in.mu.syms = syms
	return in, nil
}

// Intern returns the Symbol for name, creating it if necessary.
func (in *Interner) Intern(name string) *Symbol {
	h := Hash(name)

	in.mu.Lock()
	defer in.mu.Unlock()
	syms := in.tableLocked()
	if sym, ok := hashtab.Find(syms, h, name, nameEqual); ok {
		return sym
	}
	sym, _ := syms.Lookup(h, &Symbol{name: name, hash: h}, symbolEqual, true /* insert */)
	return sym
}

// Get returns the Symbol for name if it has been interned.
func (in *Interner) Get(name string) (*Symbol, bool) {
	h := Hash(name)

	in.mu.Lock()
	defer in.mu.Unlock()
	return hashtab.Find(in.tableLocked(), h, name, nameEqual)
}

// Remove removes sym from the interner. A later Intern of the same name
// creates a new Symbol. It returns false if sym is not the interned symbol
// for its name.
func (in *Interner) Remove(sym *Symbol) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.tableLocked().Remove(sym.hash, sym)
}

// Sweep removes every symbol for which drop returns true and returns the
// number removed.
func (in *Interner) Sweep(drop func(sym *Symbol) bool) int {
	in.mu.Lock()
	defer in.mu.Unlock()

	var n int
	// The visitor never returns an error.
	_ = in.tableLocked().ForEachRemove(func(sym *Symbol) (hashtab.Verdict, error) {
		if drop(sym) {
			n++
			return hashtab.Remove, nil
		}
		return hashtab.Keep, nil
	})
	return n
}

// Len returns the number of interned symbols.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.tableLocked().Len()
}

// Stats describes the occupancy of the interner's table.
type Stats struct {
	Live       int
	Tombstones int
	Capacity   int
	Probe      hashtab.ProbeStats
}

// Stats returns occupancy and probe statistics for the interner.
func (in *Interner) Stats() Stats {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.statsLocked()
}

func (in *Interner) statsLocked() Stats {
	syms := in.tableLocked()
	return Stats{
		Live:       syms.Len(),
		Tombstones: syms.Tombstones(),
		Capacity:   syms.Capacity(),
		Probe:      syms.ProbeStats(symbolHash, symbolEqual),
	}
}

func (in *Interner) tableLocked() *hashtab.Table[*Symbol] {
	in.mu.AssertHeld()
	if in.mu.syms == nil {
		panic(errors.AssertionFailedf("intern: use of closed Interner"))
	}
	return in.mu.syms
}

// Close releases every symbol and the interner's table. Close may be called
// more than once; any other use of a closed Interner panics.
func (in *Interner) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.mu.syms.Close()
	in.mu.syms = nil
}
