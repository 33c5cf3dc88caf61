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

package raid0

import (
	"fmt"

	"github.com/pkg/errors"
)

// BucketKind tells whether a bucket is served by one zone or by the tail of one zone and the
// head of the next.
type BucketKind int

const (
	// SingleZone buckets resolve every sector to Zone0
	SingleZone BucketKind = iota
	// StraddlingZones buckets resolve sectors past the end of Zone0 to Zone1
	StraddlingZones
)

func (k BucketKind) String() string {
	switch k {
	case SingleZone:
		return "single"
	case StraddlingZones:
		return "straddling"
	default:
		return fmt.Sprintf("BucketKind(%d)", int(k))
	}
}

// Bucket indexes one unit-sized slice of the logical volume.
// Zone1 is only meaningful when Kind is StraddlingZones.
type Bucket struct {
	Kind  BucketKind
	Zone0 int
	Zone1 int
}

// Straddles reports whether the bucket spans a zone boundary.
func (b Bucket) Straddles() bool {
	return b.Kind == StraddlingZones
}

func singleBucket(zone int) Bucket {
	return Bucket{Kind: SingleZone, Zone0: zone, Zone1: -1}
}

func straddlingBucket(zone0, zone1 int) Bucket {
	return Bucket{Kind: StraddlingZones, Zone0: zone0, Zone1: zone1}
}

// bucketCount returns ceil(total/unit).
func bucketCount(total, unit uint64) uint64 {
	n := total / unit
	if total%unit != 0 {
		n++
	}

	return n
}

// BuildHashIndex builds the direct lookup table keyed by sector/unit, where unit is the size
// of the smallest zone. Every zone is at least one unit long, so a bucket never spans more
// than two zones.
func BuildHashIndex(zones []Zone, smallest int) ([]Bucket, error) {
	if len(zones) == 0 {
		return nil, errors.Wrap(ErrCorruptGeometry, "empty zone table")
	}

	if smallest < 0 || smallest >= len(zones) {
		return nil, errors.Wrapf(ErrCorruptGeometry, "smallest zone %d out of range", smallest)
	}

	unit := zones[smallest].Size
	if unit == 0 {
		return nil, errors.Wrapf(ErrCorruptGeometry, "smallest zone %d is empty", smallest)
	}

	var (
		total   = zones[len(zones)-1].End()
		want    = bucketCount(total, unit)
		buckets = make([]Bucket, 0, want)
		cur     = 0
		size    = zones[0].Size
	)

	for cur < len(zones) {
		// The bucket is filled entirely by the current zone
		if size >= unit {
			buckets = append(buckets, singleBucket(cur))
			size -= unit

			if size == 0 {
				cur++
				if cur < len(zones) {
					size = zones[cur].Size
				}
			}

			continue
		}

		// Tail of the last zone
		if cur+1 == len(zones) {
			buckets = append(buckets, singleBucket(cur))
			cur++
			continue
		}

		// Remainder of this zone plus the head of the next one
		buckets = append(buckets, straddlingBucket(cur, cur+1))
		need := unit - size
		cur++
		if zones[cur].Size <= need {
			return nil, errors.Wrapf(ErrCorruptGeometry, "zone %d is smaller than the hash unit", cur)
		}
		size = zones[cur].Size - need
	}

	if uint64(len(buckets)) != want {
		return nil, errors.Wrapf(ErrCorruptGeometry, "built %d buckets, expected %d", len(buckets), want)
	}

	return buckets, nil
}
