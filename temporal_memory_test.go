package htm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultTestParams() *TemporalMemoryParams {
	p := NewTemporalMemoryParams()
	p.ColumnDimensions = []int{32}
	p.CellsPerColumn = 4
	p.ActivationThreshold = 3
	p.InitialPermanence = 0.21
	p.ConnectedPermanence = 0.5
	p.MinThreshold = 2
	p.MaxNewSynapseCount = 3
	p.PermanenceIncrement = 0.10
	p.PermanenceDecrement = 0.10
	p.PredictedSegmentDecrement = 0
	p.Seed = 42
	return p
}

func TestNewTemporalMemoryRejectsEmptyColumnDimensions(t *testing.T) {
	p := defaultTestParams()
	p.ColumnDimensions = nil
	_, err := NewTemporalMemory(p)
	assert.Error(t, err)
	_, ok := err.(*ConfigError)
	assert.True(t, ok)
}

func TestNewTemporalMemoryRejectsZeroCellsPerColumn(t *testing.T) {
	p := defaultTestParams()
	p.CellsPerColumn = 0
	_, err := NewTemporalMemory(p)
	assert.Error(t, err)
}

func TestNumberOfColumnsAndCells(t *testing.T) {
	tm, err := NewTemporalMemory(defaultTestParams())
	assert.NoError(t, err)
	assert.Equal(t, 32, tm.NumberOfColumns())
	assert.Equal(t, 128, tm.NumberOfCells())
}

func TestColumnForCell(t *testing.T) {
	tm, _ := NewTemporalMemory(defaultTestParams())
	assert.Equal(t, 0, tm.ColumnForCell(0))
	assert.Equal(t, 0, tm.ColumnForCell(3))
	assert.Equal(t, 1, tm.ColumnForCell(4))
}

func TestColumnForCellOutOfRangePanics(t *testing.T) {
	tm, _ := NewTemporalMemory(defaultTestParams())
	assert.Panics(t, func() { tm.ColumnForCell(-1) })
	assert.Panics(t, func() { tm.ColumnForCell(CellIdx(tm.NumberOfCells())) })
}

// Scenario 1: predicted activation.
func TestPredictedActivation(t *testing.T) {
	tm, _ := NewTemporalMemory(defaultTestParams())

	seg := tm.Connections.CreateSegment(4)
	tm.Connections.CreateSynapse(seg, 0, 0.5)
	tm.Connections.CreateSynapse(seg, 1, 0.5)
	tm.Connections.CreateSynapse(seg, 2, 0.5)
	tm.Connections.CreateSynapse(seg, 3, 0.5)

	tm.Compute([]int{0}, true)
	tm.Compute([]int{1}, true)

	assert.Equal(t, []CellIdx{4}, tm.GetActiveCells())
}

// Scenario 2: bursting.
func TestBurstingColumn(t *testing.T) {
	tm, _ := NewTemporalMemory(defaultTestParams())

	tm.Compute([]int{0}, true)

	assert.Equal(t, []CellIdx{0, 1, 2, 3}, tm.GetActiveCells())
	assert.Equal(t, 1, len(tm.GetWinnerCells()))
	assert.Contains(t, []CellIdx{0, 1, 2, 3}, tm.GetWinnerCells()[0])
}

// Scenario 3: zero active columns with prior prediction.
func TestZeroActiveColumnsClearsState(t *testing.T) {
	p := defaultTestParams()
	p.PredictedSegmentDecrement = 0.02
	tm, _ := NewTemporalMemory(p)

	seg := tm.Connections.CreateSegment(4)
	tm.Connections.CreateSynapse(seg, 0, 0.5)
	tm.Connections.CreateSynapse(seg, 1, 0.5)
	tm.Connections.CreateSynapse(seg, 2, 0.5)
	tm.Connections.CreateSynapse(seg, 3, 0.5)

	tm.Compute([]int{0}, true)
	tm.Compute([]int{}, true)

	assert.Empty(t, tm.GetActiveCells())
	assert.Empty(t, tm.GetWinnerCells())
	assert.Empty(t, tm.GetPredictiveCells())
}

// Scenario 4: reinforce.
func TestReinforceSegment(t *testing.T) {
	p := defaultTestParams()
	p.InitialPermanence = 0.2
	p.MaxNewSynapseCount = 4
	p.PermanenceDecrement = 0.08
	p.PredictedSegmentDecrement = 0.02
	tm, _ := NewTemporalMemory(p)

	seg := tm.Connections.CreateSegment(5)
	s0 := tm.Connections.CreateSynapse(seg, 0, 0.5)
	s1 := tm.Connections.CreateSynapse(seg, 1, 0.5)
	s2 := tm.Connections.CreateSynapse(seg, 2, 0.5)
	s81 := tm.Connections.CreateSynapse(seg, 81, 0.5)

	tm.Compute([]int{0}, true)
	tm.Compute([]int{1}, true)

	assert.InDelta(t, 0.6, tm.Connections.DataForSynapse(s0).Permanence, 1e-9)
	assert.InDelta(t, 0.6, tm.Connections.DataForSynapse(s1).Permanence, 1e-9)
	assert.InDelta(t, 0.6, tm.Connections.DataForSynapse(s2).Permanence, 1e-9)
	assert.InDelta(t, 0.42, tm.Connections.DataForSynapse(s81).Permanence, 1e-9)
}

// Scenario 5: weak-synapse destruction. Reinforces a segment whose
// presynaptic cells were only partly active; the synapse targeting the
// one inactive cell has too little permanence to survive the decrement.
func TestWeakSynapseDestroyedOnWrongPrediction(t *testing.T) {
	tm, _ := NewTemporalMemory(defaultTestParams())

	seg := tm.Connections.CreateSegment(5)
	tm.Connections.CreateSynapse(seg, 0, 0.5)
	tm.Connections.CreateSynapse(seg, 1, 0.5)
	tm.Connections.CreateSynapse(seg, 2, 0.5)
	tm.Connections.CreateSynapse(seg, 3, 0.015)

	prevActive := map[CellIdx]bool{0: true, 1: true, 2: true}
	tm.reinforceSegment(seg, prevActive)

	assert.Equal(t, 3, tm.Connections.NumSynapsesOnSegment(seg))
	for _, syn := range tm.Connections.SynapsesForSegment(seg) {
		assert.NotEqual(t, CellIdx(3), tm.Connections.DataForSynapse(syn).PresynapticCell)
	}
}

// Scenario 6: capacity-driven recycling. Growing synapses past
// maxSynapsesPerSegment evicts the lowest-permanence synapse first.
func TestCapacityDrivenSynapseRecycling(t *testing.T) {
	p := defaultTestParams()
	p.MaxSynapsesPerSegment = 3
	tm, _ := NewTemporalMemory(p)

	seg := tm.Connections.CreateSegment(4)
	tm.Connections.CreateSynapse(seg, 81, 0.6)
	tm.Connections.CreateSynapse(seg, 0, 0.11)

	tm.growSynapses(seg, []CellIdx{2, 3}, 2)

	assert.Equal(t, 3, tm.Connections.NumSynapsesOnSegment(seg))
	for _, syn := range tm.Connections.SynapsesForSegment(seg) {
		assert.NotEqual(t, CellIdx(0), tm.Connections.DataForSynapse(syn).PresynapticCell)
	}
}

func TestLearnFalseLeavesConnectionsUnchanged(t *testing.T) {
	tm, _ := NewTemporalMemory(defaultTestParams())

	seg := tm.Connections.CreateSegment(4)
	tm.Connections.CreateSynapse(seg, 0, 0.5)
	tm.Connections.CreateSynapse(seg, 1, 0.5)
	tm.Connections.CreateSynapse(seg, 2, 0.5)
	tm.Connections.CreateSynapse(seg, 3, 0.5)

	var buf bytes.Buffer
	assert.NoError(t, tm.Connections.Save(&buf))
	before := NewConnections(1, 1, 1)
	assert.NoError(t, before.Load(&buf))

	tm.Compute([]int{0}, false)
	tm.Compute([]int{1}, false)

	assert.True(t, before.Equal(tm.Connections))
	assert.Equal(t, before.Iteration(), tm.Connections.Iteration())
}

// A matching segment whose synapses are all near-zero permanence gets
// punished to nothing (not merely weakened) when its column isn't active.
func TestPunishedSegmentDestroyedWhenSynapsesRunOut(t *testing.T) {
	p := defaultTestParams()
	p.InitialPermanence = 0.2
	p.MaxNewSynapseCount = 4
	p.PredictedSegmentDecrement = 0.02
	tm, _ := NewTemporalMemory(p)

	const expectedActiveCell = CellIdx(5)
	seg := tm.Connections.CreateSegment(expectedActiveCell)
	tm.Connections.CreateSynapse(seg, 0, 0.015)
	tm.Connections.CreateSynapse(seg, 1, 0.015)
	tm.Connections.CreateSynapse(seg, 2, 0.015)
	tm.Connections.CreateSynapse(seg, 3, 0.015)

	tm.Compute([]int{0}, true)
	tm.Compute([]int{2}, true)

	assert.Equal(t, 0, tm.Connections.NumSegmentsOnCell(expectedActiveCell))
}

func TestResetClearsStateButNotConnections(t *testing.T) {
	tm, _ := NewTemporalMemory(defaultTestParams())
	seg := tm.Connections.CreateSegment(4)
	tm.Connections.CreateSynapse(seg, 0, 0.5)

	tm.Compute([]int{0}, true)
	assert.NotEmpty(t, tm.GetActiveCells())

	tm.Reset()
	assert.Empty(t, tm.GetActiveCells())
	assert.Empty(t, tm.GetWinnerCells())
	assert.Equal(t, 1, tm.Connections.NumSegments())
}

func TestComputeDuplicateActiveColumnPanics(t *testing.T) {
	tm, _ := NewTemporalMemory(defaultTestParams())
	assert.Panics(t, func() { tm.Compute([]int{0, 0}, true) })
}

func TestComputeOutOfRangeColumnPanics(t *testing.T) {
	tm, _ := NewTemporalMemory(defaultTestParams())
	assert.Panics(t, func() { tm.Compute([]int{tm.NumberOfColumns()}, true) })
}

func TestClampPermanence(t *testing.T) {
	assert.Equal(t, 1.0, clampPermanence(1.5))
	assert.Equal(t, 0.0, clampPermanence(-0.2))
	assert.InDelta(t, 0.42, clampPermanence(0.42), 1e-9)
}
