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

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// distinct returns keys with duplicates removed, preserving order.
func distinct(keys []int) []int {
	seen := make(map[int]bool, len(keys))
	var r []int
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			r = append(r, k)
		}
	}
	return r
}

// insertAll inserts an entry for each key, hashing with hash, and returns the
// inserted entries.
func insertAll(tab *Table[*entry], keys []int, hash func(int) uint32) []*entry {
	var entries []*entry
	for _, k := range keys {
		v := &entry{key: k}
		tab.Lookup(hash(k), v, entryEqual, true)
		entries = append(entries, v)
	}
	return entries
}

func TestProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// Narrow hashes force long collision chains.
	narrowHash := func(k int) uint32 { return uint32(k) & 0xf }
	keysGen := gen.SliceOf(gen.IntRange(0, 1000))

	properties.Property("inserted keys are found", prop.ForAll(
		func(keys []int, hint int) bool {
			tab, err := New[*entry](hint)
			if err != nil {
				return false
			}
			keys = distinct(keys)
			entries := insertAll(tab, keys, narrowHash)
			for _, v := range entries {
				got, ok := tab.Lookup(narrowHash(v.key), &entry{key: v.key}, entryEqual, false)
				if !ok || got != v {
					return false
				}
			}
			return tab.Len() == len(keys)
		},
		keysGen, gen.IntRange(0, 64),
	))

	properties.Property("missing keys are absent within capacity probes", prop.ForAll(
		func(keys []int, missing []int) bool {
			tab, err := New[*entry](1)
			if err != nil {
				return false
			}
			insertAll(tab, distinct(keys), mixHash)
			for _, k := range missing {
				// Inserted keys are in [0, 1000]; the missing ones are not.
				k += 2000
				key := &entry{key: k}
				_, steps, found := tab.probe(mixHash(k), func(s *Slot[*entry]) bool {
					return s.hash == mixHash(k) && entryEqual(s.value, key)
				})
				if found || steps >= tab.Capacity() {
					return false
				}
			}
			return true
		},
		keysGen, gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.Property("insert N then remove N leaves the table empty", prop.ForAll(
		func(keys []int) bool {
			tab, err := New[*entry](1)
			if err != nil {
				return false
			}
			entries := insertAll(tab, distinct(keys), narrowHash)
			for _, v := range entries {
				if !tab.Remove(narrowHash(v.key), v) {
					return false
				}
				if _, ok := tab.Lookup(narrowHash(v.key), &entry{key: v.key}, entryEqual, false); ok {
					return false
				}
				if tab.Remove(narrowHash(v.key), v) {
					return false
				}
			}
			if tab.Len() != 0 {
				return false
			}
			dead := tab.Tombstones()
			tab.Clear()
			// Removal never resizes, so every removal left a tombstone.
			return tab.Len() == 0 && tab.Tombstones() == 0 && dead == len(entries)
		},
		keysGen,
	))

	properties.Property("load factor holds after every insertion", prop.ForAll(
		func(keys []int) bool {
			tab, err := New[*entry](1)
			if err != nil {
				return false
			}
			for i, k := range distinct(keys) {
				capacity := tab.Capacity()
				v := &entry{key: k}
				tab.Lookup(mixHash(k), v, entryEqual, true)
				if (tab.Len()+tab.Tombstones())*maxLoadDenominator > tab.Capacity()*maxLoadNumerator {
					return false
				}
				if tab.Capacity() != capacity && (tab.Capacity() != 2*capacity || tab.Tombstones() != 0) {
					return false
				}
				if i%4 == 3 && !tab.Remove(mixHash(k), v) {
					return false
				}
			}
			return true
		},
		keysGen,
	))

	properties.TestingRun(t)
}
