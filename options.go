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

package hashtab

// Option provides an interface to do work on Table while it is being created.
type Option[V comparable] interface {
	apply(t *Table[V])
}

type releaseOption[V comparable] struct {
	release func(V)
}

func (op releaseOption[V]) apply(t *Table[V]) {
	t.release = op.release
}

// WithRelease is an option to specify a function invoked on every live value
// discarded by Table.Clear or Table.Close. It is never invoked by Remove or
// ForEachRemove.
func WithRelease[V comparable](release func(v V)) Option[V] {
	return releaseOption[V]{release}
}

// Allocator specifies an interface for allocating and releasing the slot
// arrays used by a Table. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// An Allocator signals failure by returning a slice whose length differs from
// the requested length (typically nil). Failure is reported as an error by
// New and is fatal during a resize.
type Allocator[V comparable] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[V], n).
	AllocSlots(n int) []Slot[V]

	// FreeSlots can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocSlots.
	FreeSlots(v []Slot[V])
}

type defaultAllocator[V comparable] struct{}

func (defaultAllocator[V]) AllocSlots(n int) []Slot[V] {
	return make([]Slot[V], n)
}

func (defaultAllocator[V]) FreeSlots(v []Slot[V]) {
}

type allocatorOption[V comparable] struct {
	allocator Allocator[V]
}

func (op allocatorOption[V]) apply(t *Table[V]) {
	t.allocator = op.allocator
}

// WithAllocator is an option to specify the Allocator to use for a Table[V].
func WithAllocator[V comparable](allocator Allocator[V]) Option[V] {
	return allocatorOption[V]{allocator}
}

type loggerOption[V comparable] struct {
	logger Logger
}

func (op loggerOption[V]) apply(t *Table[V]) {
	t.logger = op.logger
}

// WithLogger is an option to specify the Logger used for diagnostics and for
// reporting fatal resize failures. The default is DefaultLogger.
func WithLogger[V comparable](logger Logger) Option[V] {
	return loggerOption[V]{logger}
}
