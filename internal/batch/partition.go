// Package batch groups artifacts into time-bucketed batches.
package batch

import (
	"sort"
	"time"

	"llm-compiler-fuzz/internal/storage"
)

// Batch is a group of artifacts whose creation time falls in one bucket.
type Batch struct {
	Index     int   // 1-based, ascending
	Key       int64 // elapsed / width
	Artifacts []storage.Artifact
}

// Partition assigns every artifact to bucket floor(max(0, created-start)/width)
// and returns the non-empty buckets in ascending key order, renumbered from 1.
// Artifacts inside a batch are ordered by creation time, then index.
func Partition(artifacts []storage.Artifact, width time.Duration, start time.Time) []Batch {
	if width <= 0 || len(artifacts) == 0 {
		return nil
	}

	groups := make(map[int64][]storage.Artifact)
	for _, a := range artifacts {
		elapsed := a.CreatedAt.Sub(start)
		if elapsed < 0 {
			elapsed = 0
		}
		key := int64(elapsed / width)
		groups[key] = append(groups[key], a)
	}

	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	batches := make([]Batch, 0, len(keys))
	for i, k := range keys {
		members := groups[k]
		sort.SliceStable(members, func(i, j int) bool {
			if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
				return members[i].CreatedAt.Before(members[j].CreatedAt)
			}
			return members[i].Index < members[j].Index
		})
		batches = append(batches, Batch{Index: i + 1, Key: k, Artifacts: members})
	}
	return batches
}
