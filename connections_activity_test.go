package htm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeActivityCountsConnectedAndPotential(t *testing.T) {
	c := NewConnections(10, 255, 255)
	seg := c.CreateSegment(4)
	c.CreateSynapse(seg, 0, 0.5)
	c.CreateSynapse(seg, 1, 0.3)
	c.CreateSynapse(seg, 2, 0.5)

	counts := NewActivityCounts(c.SegmentFlatListLength())
	ComputeActivity(counts, c, []CellIdx{0, 1, 2}, 0.5)

	assert.Equal(t, 2, counts.Connected(seg))
	assert.Equal(t, 3, counts.Potential(seg))
}

func TestComputeActivityIgnoresCellsWithNoSynapses(t *testing.T) {
	c := NewConnections(10, 255, 255)
	counts := NewActivityCounts(c.SegmentFlatListLength())
	ComputeActivity(counts, c, []CellIdx{9}, 0.5)
	assert.Equal(t, 0, counts.Connected(SegmentHandle(0)))
}

func TestComputeActivityForCellMatchesListOverload(t *testing.T) {
	c := NewConnections(10, 255, 255)
	seg := c.CreateSegment(4)
	c.CreateSynapse(seg, 3, 0.6)

	a := NewActivityCounts(c.SegmentFlatListLength())
	ComputeActivityForCell(a, c, 3, 0.5)

	b := NewActivityCounts(c.SegmentFlatListLength())
	ComputeActivity(b, c, []CellIdx{3}, 0.5)

	assert.Equal(t, b.Connected(seg), a.Connected(seg))
	assert.Equal(t, b.Potential(seg), a.Potential(seg))
}

func TestActivityCountsGrowsAcrossSegmentCreation(t *testing.T) {
	counts := NewActivityCounts(0)
	c := NewConnections(10, 255, 255)
	seg := c.CreateSegment(0)
	c.CreateSynapse(seg, 1, 0.5)

	ComputeActivity(counts, c, []CellIdx{1}, 0.5)
	assert.Equal(t, 1, counts.Connected(seg))
}

func TestActivityCountsOutOfRangeReadsReturnZero(t *testing.T) {
	counts := NewActivityCounts(1)
	assert.Equal(t, 0, counts.Connected(SegmentHandle(5)))
	assert.Equal(t, 0, counts.Potential(SegmentHandle(5)))
}
