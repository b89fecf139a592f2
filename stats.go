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
	"fmt"

	"github.com/cockroachdb/errors"
)

// ProbeStats summarizes the probe lengths needed to relocate every live entry
// in a Table. A probe length is the number of slots passed over before the
// entry's slot is reached, so an entry in its home slot has length 0.
type ProbeStats struct {
	// Min, Max and Total are computed over the entries that were found.
	Min, Max, Total int
	// Count is the number of entries that were found.
	Count int
	// Missing is the number of live entries that could not be relocated with
	// the supplied hash and equality functions. It is non-zero only if those
	// functions disagree with the ones used at insertion.
	Missing int
	// Capacity is the table's capacity at the time of the scan.
	Capacity int
}

// Avg returns the mean probe length, or 0 if no entries were found.
func (s ProbeStats) Avg() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Total) / float64(s.Count)
}

func (s ProbeStats) String() string {
	str := fmt.Sprintf("probe: min=%d max=%d total=%d in %d (%d) avg=%.3f",
		s.Min, s.Max, s.Total, s.Count, s.Capacity, s.Avg())
	if s.Missing > 0 {
		str += fmt.Sprintf(" missing=%d", s.Missing)
	}
	return str
}

// ProbeStats recomputes the hash of every live value with hash and measures
// how many probe steps a Lookup using eq needs to find it. It is a diagnostic
// used to validate that the load factor keeps probe chains short, and visits
// every slot of the table once per live entry.
func (t *Table[V]) ProbeStats(hash func(v V) uint32, eq func(stored, key V) bool) ProbeStats {
	stats := ProbeStats{Capacity: len(t.slots)}
	for i := range t.slots {
		s := &t.slots[i]
		if s.state != slotOccupied {
			continue
		}
		h := hash(s.value)
		_, steps, found := t.probe(h, func(c *Slot[V]) bool {
			return c.hash == h && eq(c.value, s.value)
		})
		if !found {
			if invariants {
				panic(errors.AssertionFailedf("hashtab: slot(%d) [hash=%08x] not found by recomputed hash %08x",
					i, s.hash, h))
			}
			stats.Missing++
			continue
		}
		if stats.Count == 0 || steps < stats.Min {
			stats.Min = steps
		}
		if steps > stats.Max {
			stats.Max = steps
		}
		stats.Total += steps
		stats.Count++
	}
	return stats
}

// LogProbeStats computes ProbeStats and writes them to the table's Logger.
func (t *Table[V]) LogProbeStats(hash func(v V) uint32, eq func(stored, key V) bool) ProbeStats {
	stats := t.ProbeStats(hash, eq)
	t.logger.Infof("hashtab: %s", stats)
	return stats
}
