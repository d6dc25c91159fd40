package trace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, segmentSize, steps int) *Trace {
	t.Helper()
	r, err := NewRecorder(segmentSize)
	require.NoError(t, err)
	for i := 0; i < steps; i++ {
		r.Record(EventCall, uint32(i%7), uint64(i))
	}
	return r.Finish()
}

func TestRecorder_Segments(t *testing.T) {
	tests := []struct {
		segmentSize, steps, segments int
	}{
		{4, 0, 0},
		{4, 1, 1},
		{4, 4, 1},
		{4, 5, 2},
		{4, 17, 5},
		{1, 3, 3},
	}
	for _, tt := range tests {
		tr := record(t, tt.segmentSize, tt.steps)
		assert.Equal(t, uint64(tt.steps), tr.Steps)
		assert.Len(t, tr.Segments, tt.segments)
	}
}

func TestRecorder_RejectsBadSegmentSize(t *testing.T) {
	_, err := NewRecorder(0)
	assert.ErrorIs(t, err, ErrSegmentSize)
}

func TestRoot_Deterministic(t *testing.T) {
	a := record(t, 8, 100)
	b := record(t, 8, 100)
	assert.Equal(t, a.Root, b.Root)
	assert.Equal(t, a.Segments, b.Segments)
}

func TestRoot_SensitiveToEveryStep(t *testing.T) {
	base := record(t, 8, 50)

	r, err := NewRecorder(8)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		arg := uint64(i)
		if i == 37 {
			arg++
		}
		r.Record(EventCall, uint32(i%7), arg)
	}
	changed := r.Finish()
	assert.NotEqual(t, base.Root, changed.Root)

	longer := record(t, 8, 51)
	assert.NotEqual(t, base.Root, longer.Root)
}

func TestRecordData(t *testing.T) {
	r1, _ := NewRecorder(4)
	r1.RecordData(EventCommit, 0, []byte("journal"))
	r2, _ := NewRecorder(4)
	r2.RecordData(EventCommit, 0, []byte("journaL"))
	assert.NotEqual(t, r1.Finish().Root, r2.Finish().Root)
}

func TestEmptyTraceRoot(t *testing.T) {
	a := record(t, 4, 0)
	b := record(t, 16, 0)
	assert.Equal(t, a.Root, b.Root)
	assert.NotEqual(t, Digest{}, a.Root)
}

func TestRootCommitsToEverySegment(t *testing.T) {
	for _, steps := range []int{1, 2, 3, 5, 8, 13, 33} {
		tr := record(t, 1, steps)
		require.Equal(t, merkleRoot(tr.Segments), tr.Root)
		for i := range tr.Segments {
			segs := append([]Digest(nil), tr.Segments...)
			segs[i][0] ^= 0xff
			assert.NotEqual(t, tr.Root, merkleRoot(segs), "steps=%d segment=%d", steps, i)
		}
	}
}

func TestRootAfterJSONRoundTrip(t *testing.T) {
	tr := record(t, 2, 9)
	data, err := json.Marshal(tr)
	require.NoError(t, err)

	var back Trace
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, tr.Root, back.Root)
	assert.Equal(t, tr.Root, merkleRoot(back.Segments))
}
