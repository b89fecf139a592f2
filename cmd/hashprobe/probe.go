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

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashtab"
	"github.com/cockroachdb/hashtab/intern"
	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

type probeOptions struct {
	sizeHint    int
	removeEvery int
	sweepPrefix string
}

func newRootCmd() *cobra.Command {
	var opts probeOptions
	cmd := &cobra.Command{
		Use:   "hashprobe [file...]",
		Short: "report hash table probe statistics for a set of keys",
		Long: `
Reads newline-separated keys from the named files (or stdin), interns them into
a hash table and reports occupancy and probe-length statistics.
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputs []io.Reader
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return errors.Wrapf(err, "opening %s", path)
				}
				defer f.Close()
				inputs = append(inputs, f)
			}
			if len(inputs) == 0 {
				inputs = append(inputs, cmd.InOrStdin())
			}
			return runProbe(cmd.OutOrStdout(), io.MultiReader(inputs...), opts)
		},
	}
	cmd.Flags().IntVar(&opts.sizeHint, "size-hint", 16,
		"number of keys the table is initially sized for")
	cmd.Flags().IntVar(&opts.removeEvery, "remove-every", 0,
		"remove every Nth distinct key after loading (0 disables)")
	cmd.Flags().StringVar(&opts.sweepPrefix, "sweep-prefix", "",
		"sweep all keys with this prefix after loading")
	return cmd
}

func runProbe(w io.Writer, r io.Reader, opts probeOptions) error {
	if opts.removeEvery < 0 {
		return errors.Newf("--remove-every must be non-negative: %d", opts.removeEvery)
	}
	in, err := intern.New(opts.sizeHint)
	if err != nil {
		return err
	}
	defer in.Close()

	var lines, distinct int
	var syms []*intern.Symbol
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key := strings.TrimSpace(scanner.Text())
		if key == "" {
			continue
		}
		lines++
		before := in.Len()
		sym := in.Intern(key)
		if in.Len() > before {
			distinct++
			syms = append(syms, sym)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading keys")
	}
	glog.V(1).Infof("loaded %d keys (%d distinct)", lines, distinct)

	var removed int
	if opts.removeEvery > 0 {
		for i := opts.removeEvery - 1; i < len(syms); i += opts.removeEvery {
			if in.Remove(syms[i]) {
				removed++
			}
		}
	}
	if opts.sweepPrefix != "" {
		removed += in.Sweep(func(sym *intern.Symbol) bool {
			return strings.HasPrefix(sym.Name(), opts.sweepPrefix)
		})
	}

	stats := in.Stats()
	slotBytes := uint64(stats.Capacity) * uint64(unsafe.Sizeof(hashtab.Slot[*intern.Symbol]{}))
	fmt.Fprintf(w, "keys:       %s (%s distinct, %s removed)\n",
		humanize.Comma(int64(lines)), humanize.Comma(int64(distinct)), humanize.Comma(int64(removed)))
	fmt.Fprintf(w, "live:       %s\n", humanize.Comma(int64(stats.Live)))
	fmt.Fprintf(w, "tombstones: %s\n", humanize.Comma(int64(stats.Tombstones)))
	fmt.Fprintf(w, "capacity:   %s (%s)\n", humanize.Comma(int64(stats.Capacity)), humanize.IBytes(slotBytes))
	fmt.Fprintf(w, "%s\n", stats.Probe)
	return nil
}
