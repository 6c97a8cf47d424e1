package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-compiler-fuzz/internal/storage"
)

var start = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func at(index int, offset time.Duration) storage.Artifact {
	return storage.Artifact{Index: index, CreatedAt: start.Add(offset)}
}

func indexes(b Batch) []int {
	out := make([]int, len(b.Artifacts))
	for i, a := range b.Artifacts {
		out[i] = a.Index
	}
	return out
}

func TestPartition_ThreeArtifactsTwoBuckets(t *testing.T) {
	arts := []storage.Artifact{at(1, 10*time.Second), at(2, 40*time.Second), at(3, 70*time.Second)}

	got := Partition(arts, 60*time.Second, start)

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, int64(0), got[0].Key)
	assert.Equal(t, []int{1, 2}, indexes(got[0]))
	assert.Equal(t, 2, got[1].Index)
	assert.Equal(t, int64(1), got[1].Key)
	assert.Equal(t, []int{3}, indexes(got[1]))
}

func TestPartition_SparseBucketsAreNotPadded(t *testing.T) {
	arts := []storage.Artifact{at(1, 5*time.Second), at(2, 250*time.Second)}

	got := Partition(arts, 60*time.Second, start)

	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[0].Key)
	assert.Equal(t, int64(4), got[1].Key)
	assert.Equal(t, 2, got[1].Index, "batch indexes are dense even when keys are not")
}

func TestPartition_OrderWithinBatch(t *testing.T) {
	arts := []storage.Artifact{at(3, 30*time.Second), at(1, 10*time.Second), at(2, 10*time.Second)}

	got := Partition(arts, time.Minute, start)

	require.Len(t, got, 1)
	assert.Equal(t, []int{1, 2, 3}, indexes(got[0]))
}

func TestPartition_BeforeStartClampsToFirstBucket(t *testing.T) {
	arts := []storage.Artifact{at(1, -5*time.Second), at(2, 59*time.Second), at(3, 60*time.Second)}

	got := Partition(arts, time.Minute, start)

	require.Len(t, got, 2)
	assert.Equal(t, []int{1, 2}, indexes(got[0]))
	assert.Equal(t, []int{3}, indexes(got[1]))
}

func TestPartition_Empty(t *testing.T) {
	assert.Empty(t, Partition(nil, time.Minute, start))
	assert.Empty(t, Partition([]storage.Artifact{at(1, 0)}, 0, start))
}
