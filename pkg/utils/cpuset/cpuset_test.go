// Copyright 2024 The Mitosis Authors. All Rights Reserved.
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

package cpuset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnixRoundTrip(t *testing.T) {
	cset := MustParse("0-3,8,10")
	mask, err := ToUnix(cset)
	require.NoError(t, err)
	require.Equal(t, 6, mask.Count())
	require.True(t, FromUnix(mask).Equals(cset))
}

func TestToUnixOutOfRange(t *testing.T) {
	_, err := ToUnix(New(1 << 20))
	require.Error(t, err)
}

func TestShortCPUSet(t *testing.T) {
	tcases := map[string]string{
		"0":          "0",
		"0-3":        "0-3",
		"0,2,4,6":    "0-6:2",
		"0,2":        "0,2",
		"1-5,7,9,11": "1-5,7-11:2",
	}
	for in, out := range tcases {
		require.Equal(t, out, ShortCPUSet(MustParse(in)), "ShortCPUSet(%s)", in)
	}
}
