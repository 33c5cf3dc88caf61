// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//	http://aws.amazon.com/apache2.0/
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

package blocklayer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firecracker-microvm/stripevol/raid0"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		Name     string
		Sector   uint64
		Length   uint64
		Chunk    uint64
		Expected []raid0.Request
	}{
		{Name: "empty", Sector: 3, Length: 0, Chunk: 8},
		{
			Name:     "inside chunk",
			Sector:   2,
			Length:   4,
			Chunk:    8,
			Expected: []raid0.Request{{Sector: 2, Length: 4}},
		},
		{
			Name:     "whole chunk",
			Sector:   8,
			Length:   8,
			Chunk:    8,
			Expected: []raid0.Request{{Sector: 8, Length: 8}},
		},
		{
			Name:   "crossing",
			Sector: 6,
			Length: 20,
			Chunk:  8,
			Expected: []raid0.Request{
				{Sector: 6, Length: 2},
				{Sector: 8, Length: 8},
				{Sector: 16, Length: 8},
				{Sector: 24, Length: 2},
			},
		},
		{
			Name:   "odd chunk",
			Sector: 9,
			Length: 3,
			Chunk:  10,
			Expected: []raid0.Request{
				{Sector: 9, Length: 1},
				{Sector: 10, Length: 2},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			assert.Equal(t, tc.Expected, Split(tc.Sector, tc.Length, tc.Chunk))
		})
	}
}
