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
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func genKeys(n int) string {
	var buf strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&buf, "key-%d\n", i)
	}
	return buf.String()
}

func TestRunProbe(t *testing.T) {
	// Duplicate every key and add some blank lines.
	input := genKeys(100) + "\n\n" + genKeys(100)

	var out bytes.Buffer
	err := runProbe(&out, strings.NewReader(input), probeOptions{sizeHint: 16, removeEvery: 10})
	require.NoError(t, err)

	s := out.String()
	require.Contains(t, s, "keys:       200 (100 distinct, 10 removed)")
	require.Contains(t, s, "live:       90\n")
	require.Contains(t, s, "tombstones: 10\n")
	require.Contains(t, s, "probe: min=0")
	require.Contains(t, s, " in 90 (")
}

func TestRunProbeSweep(t *testing.T) {
	input := genKeys(20) + "other-1\nother-2\n"

	var out bytes.Buffer
	err := runProbe(&out, strings.NewReader(input), probeOptions{sizeHint: 64, sweepPrefix: "other-"})
	require.NoError(t, err)
	require.Contains(t, out.String(), "keys:       22 (22 distinct, 2 removed)")
	require.Contains(t, out.String(), "live:       20\n")
}

func TestRunProbeInvalid(t *testing.T) {
	err := runProbe(&bytes.Buffer{}, strings.NewReader(""), probeOptions{removeEvery: -1})
	require.Error(t, err)
}

func TestRootCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(genKeys(50)))
	cmd.SetArgs([]string{"--size-hint=8", "--remove-every=5"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "keys:       50 (50 distinct, 10 removed)")
	require.Contains(t, out.String(), "live:       40\n")
}
