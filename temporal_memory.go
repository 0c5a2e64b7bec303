package htm

import (
	"sort"

	"github.com/gonum/floats"
	"github.com/htm-community/htm/utils"
)

// TemporalMemoryParams configures a TemporalMemory instance. All fields
// participate in TM's identity for equality and serialization purposes.
type TemporalMemoryParams struct {
	// ColumnDimensions is a non-empty vector of positive integers; its
	// product is the column count.
	ColumnDimensions []int
	CellsPerColumn   int

	// ActivationThreshold is the minimum connected-active synapse count
	// for a segment to be active.
	ActivationThreshold int
	// InitialPermanence is the starting permanence for newly grown
	// synapses.
	InitialPermanence float64
	// ConnectedPermanence is the threshold at or above which (within
	// epsilon) a synapse is connected.
	ConnectedPermanence float64
	// MinThreshold is the minimum potential-active synapse count for a
	// segment to be matching.
	MinThreshold int
	// MaxNewSynapseCount caps synapses grown per learning event on one
	// segment.
	MaxNewSynapseCount int

	PermanenceIncrement float64
	PermanenceDecrement float64

	// PredictedSegmentDecrement penalizes matching segments in
	// inactive-but-predicting columns. Zero disables punishment.
	PredictedSegmentDecrement float64

	Seed int64

	MaxSegmentsPerCell    int
	MaxSynapsesPerSegment int
}

// NewTemporalMemoryParams returns defaults matching the reference test
// configurations used across the test suite, following the
// constructor-with-defaults idiom used throughout this package.
func NewTemporalMemoryParams() *TemporalMemoryParams {
	return &TemporalMemoryParams{
		ColumnDimensions:          []int{32},
		CellsPerColumn:            4,
		ActivationThreshold:       3,
		InitialPermanence:         0.21,
		ConnectedPermanence:       0.5,
		MinThreshold:              2,
		MaxNewSynapseCount:        3,
		PermanenceIncrement:       0.10,
		PermanenceDecrement:       0.10,
		PredictedSegmentDecrement: 0,
		Seed:                      42,
		MaxSegmentsPerCell:        255,
		MaxSynapsesPerSegment:     255,
	}
}

// TemporalMemory is the sequence-learning state machine over a cortical
// column grid.
type TemporalMemory struct {
	params TemporalMemoryParams

	Connections *Connections

	rng *rng

	numColumns int
	numCells   int

	activeCells      []CellIdx
	winnerCells      []CellIdx
	activeSegments   []SegmentHandle
	matchingSegments []SegmentHandle
	activity         *ActivityCounts
}

// NewTemporalMemory constructs a TemporalMemory, failing with a
// *ConfigError when ColumnDimensions is empty or CellsPerColumn is zero.
func NewTemporalMemory(params *TemporalMemoryParams) (*TemporalMemory, error) {
	if len(params.ColumnDimensions) == 0 {
		return nil, &ConfigError{Msg: "columnDimensions must be non-empty"}
	}
	if params.CellsPerColumn <= 0 {
		return nil, &ConfigError{Msg: "cellsPerColumn must be > 0"}
	}
	if params.MaxSegmentsPerCell <= 0 {
		return nil, &ConfigError{Msg: "maxSegmentsPerCell must be > 0"}
	}
	if params.MaxSynapsesPerSegment <= 0 {
		return nil, &ConfigError{Msg: "maxSynapsesPerSegment must be > 0"}
	}

	numColumns := 1
	for _, d := range params.ColumnDimensions {
		if d <= 0 {
			return nil, &ConfigError{Msg: "columnDimensions entries must be > 0"}
		}
		numColumns *= d
	}
	numCells := numColumns * params.CellsPerColumn

	tm := &TemporalMemory{
		params:      *params,
		Connections: NewConnections(numCells, params.MaxSegmentsPerCell, params.MaxSynapsesPerSegment),
		rng:         newRNG(params.Seed),
		numColumns:  numColumns,
		numCells:    numCells,
		activity:    NewActivityCounts(0),
	}
	return tm, nil
}

// NumberOfColumns returns the fixed column count.
func (tm *TemporalMemory) NumberOfColumns() int { return tm.numColumns }

// NumberOfCells returns the fixed cell count.
func (tm *TemporalMemory) NumberOfCells() int { return tm.numCells }

// ColumnForCell returns the column owning cell, failing when cell is out
// of range (including negative).
func (tm *TemporalMemory) ColumnForCell(cell CellIdx) int {
	assertf(int(cell) >= 0 && int(cell) < tm.numCells, "ColumnForCell: cell %d out of range [0,%d)", cell, tm.numCells)
	return int(cell) / tm.params.CellsPerColumn
}

func (tm *TemporalMemory) cellsForColumn(column int) []CellIdx {
	first := CellIdx(column * tm.params.CellsPerColumn)
	cells := make([]CellIdx, tm.params.CellsPerColumn)
	for i := range cells {
		cells[i] = first + CellIdx(i)
	}
	return cells
}

// GetActiveCells returns the current tick's active cells, ascending by
// index.
func (tm *TemporalMemory) GetActiveCells() []CellIdx { return tm.activeCells }

// GetWinnerCells returns the current tick's winner cells, ascending by
// index.
func (tm *TemporalMemory) GetWinnerCells() []CellIdx { return tm.winnerCells }

// GetActiveSegments returns the current tick's active segments, sorted by
// (owning cell, idxOnCell).
func (tm *TemporalMemory) GetActiveSegments() []SegmentHandle { return tm.activeSegments }

// GetMatchingSegments returns the current tick's matching segments, sorted
// by (owning cell, idxOnCell).
func (tm *TemporalMemory) GetMatchingSegments() []SegmentHandle { return tm.matchingSegments }

// GetPredictiveCells returns the cells owning >= 1 active segment,
// ascending by index.
func (tm *TemporalMemory) GetPredictiveCells() []CellIdx {
	seen := make(map[CellIdx]bool)
	var cells []CellIdx
	for _, seg := range tm.activeSegments {
		cell := tm.Connections.CellForSegment(seg)
		if !seen[cell] {
			seen[cell] = true
			cells = append(cells, cell)
		}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i] < cells[j] })
	return cells
}

// Configuration getters, one per TemporalMemoryParams field.
func (tm *TemporalMemory) ColumnDimensions() []int            { return tm.params.ColumnDimensions }
func (tm *TemporalMemory) CellsPerColumn() int                { return tm.params.CellsPerColumn }
func (tm *TemporalMemory) ActivationThreshold() int           { return tm.params.ActivationThreshold }
func (tm *TemporalMemory) InitialPermanence() float64         { return tm.params.InitialPermanence }
func (tm *TemporalMemory) ConnectedPermanence() float64       { return tm.params.ConnectedPermanence }
func (tm *TemporalMemory) MinThreshold() int                  { return tm.params.MinThreshold }
func (tm *TemporalMemory) MaxNewSynapseCount() int             { return tm.params.MaxNewSynapseCount }
func (tm *TemporalMemory) PermanenceIncrement() float64        { return tm.params.PermanenceIncrement }
func (tm *TemporalMemory) PermanenceDecrement() float64        { return tm.params.PermanenceDecrement }
func (tm *TemporalMemory) PredictedSegmentDecrement() float64  { return tm.params.PredictedSegmentDecrement }
func (tm *TemporalMemory) Seed() int64                         { return tm.params.Seed }
func (tm *TemporalMemory) MaxSegmentsPerCell() int             { return tm.params.MaxSegmentsPerCell }
func (tm *TemporalMemory) MaxSynapsesPerSegment() int          { return tm.params.MaxSynapsesPerSegment }

// Reset clears the previous-tick summary and any derived predictive
// state. Does not clear Connections. Marks a sequence boundary.
func (tm *TemporalMemory) Reset() {
	tm.activeCells = nil
	tm.winnerCells = nil
	tm.activeSegments = nil
	tm.matchingSegments = nil
	tm.activity = NewActivityCounts(tm.Connections.SegmentFlatListLength())
}

// clampPermanence restricts p to [0,1].
func clampPermanence(p float64) float64 {
	upper := floats.Min([]float64{p, 1.0})
	return floats.Max([]float64{upper, 0.0})
}

// Compute runs one time step: determines active cells, winner cells, and
// predictive cells from activeColumns, and (if learn) applies Hebbian
// updates to Connections.
func (tm *TemporalMemory) Compute(activeColumns []int, learn bool) {
	prevActiveCells := tm.activeCells
	prevWinnerCells := tm.winnerCells
	prevActiveSegments := tm.activeSegments
	prevMatchingSegments := tm.matchingSegments
	prevActivity := tm.activity
	if prevActivity == nil {
		prevActivity = NewActivityCounts(tm.Connections.SegmentFlatListLength())
	}

	if learn {
		tm.Connections.StartNewIteration()
	}

	activeColumnsSet := make(map[int]bool, len(activeColumns))
	for _, col := range activeColumns {
		assertf(col >= 0 && col < tm.numColumns, "Compute: column %d out of range [0,%d)", col, tm.numColumns)
		assertf(!activeColumnsSet[col], "Compute: duplicate active column %d", col)
		activeColumnsSet[col] = true
	}

	sortedColumns := make([]int, len(activeColumns))
	copy(sortedColumns, activeColumns)
	sort.Ints(sortedColumns)

	prevActiveSegByColumn := tm.bucketSegmentsByColumn(prevActiveSegments)
	prevMatchingSegByColumn := tm.bucketSegmentsByColumn(prevMatchingSegments)

	prevActiveCellsSet := make(map[CellIdx]bool, len(prevActiveCells))
	for _, c := range prevActiveCells {
		prevActiveCellsSet[c] = true
	}

	var newActiveCells []CellIdx
	var newWinnerCells []CellIdx

	for _, column := range sortedColumns {
		segsInColumn := prevActiveSegByColumn[column]
		if len(segsInColumn) > 0 {
			cells := tm.activatePredictedColumn(segsInColumn, prevActivity, prevActiveCellsSet, prevWinnerCells, learn)
			newActiveCells = append(newActiveCells, cells...)
			newWinnerCells = append(newWinnerCells, cells...)
			continue
		}

		activeCells, winnerCell := tm.burstColumn(column, prevMatchingSegByColumn[column], prevActivity,
			prevActiveCellsSet, prevWinnerCells, learn)
		newActiveCells = append(newActiveCells, activeCells...)
		newWinnerCells = append(newWinnerCells, winnerCell)
	}

	if learn && tm.params.PredictedSegmentDecrement > 0 {
		tm.punishPredictedSegments(prevMatchingSegments, activeColumnsSet)
	}

	sort.Slice(newActiveCells, func(i, j int) bool { return newActiveCells[i] < newActiveCells[j] })
	sort.Slice(newWinnerCells, func(i, j int) bool { return newWinnerCells[i] < newWinnerCells[j] })

	tm.activeCells = newActiveCells
	tm.winnerCells = newWinnerCells

	tm.recomputePredictiveState(newActiveCells, learn)
}

// activatePredictedColumn handles a column containing >= 1 cell with a
// previously-active segment.
func (tm *TemporalMemory) activatePredictedColumn(segs []SegmentHandle, prevActivity *ActivityCounts,
	prevActiveCellsSet map[CellIdx]bool, prevWinnerCells []CellIdx, learn bool) []CellIdx {

	seen := make(map[CellIdx]bool)
	var cells []CellIdx
	for _, seg := range segs {
		cell := tm.Connections.CellForSegment(seg)
		if !seen[cell] {
			seen[cell] = true
			cells = append(cells, cell)
		}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i] < cells[j] })

	if learn {
		for _, seg := range segs {
			tm.reinforceSegment(seg, prevActiveCellsSet)
			if tm.Connections.segmentExists(seg) {
				n := tm.params.MaxNewSynapseCount - prevActivity.Potential(seg)
				tm.growSynapses(seg, prevWinnerCells, n)
			}
		}
	}

	return cells
}

// burstColumn handles a bursting column: all its cells become active, and
// exactly one is selected as winner.
func (tm *TemporalMemory) burstColumn(column int, matchSegs []SegmentHandle, prevActivity *ActivityCounts,
	prevActiveCellsSet map[CellIdx]bool, prevWinnerCells []CellIdx, learn bool) (activeCells []CellIdx, winnerCell CellIdx) {

	activeCells = tm.cellsForColumn(column)

	if len(matchSegs) > 0 {
		best := tm.bestMatchingSegment(matchSegs, prevActivity)
		winnerCell = tm.Connections.CellForSegment(best)

		if learn {
			tm.reinforceSegment(best, prevActiveCellsSet)
			if tm.Connections.segmentExists(best) {
				n := tm.params.MaxNewSynapseCount - prevActivity.Potential(best)
				tm.growSynapses(best, prevWinnerCells, n)
			}
		}
		return activeCells, winnerCell
	}

	winnerCell = tm.leastUsedCell(column)
	if learn && len(prevWinnerCells) > 0 {
		seg := tm.Connections.CreateSegment(winnerCell)
		n := tm.params.MaxNewSynapseCount
		if len(prevWinnerCells) < n {
			n = len(prevWinnerCells)
		}
		tm.growSynapses(seg, prevWinnerCells, n)
	}
	return activeCells, winnerCell
}

// bestMatchingSegment picks the segment with the greatest potential
// overlap, ties broken by lowest segment flat index (earliest creation
// order).
func (tm *TemporalMemory) bestMatchingSegment(matchSegs []SegmentHandle, prevActivity *ActivityCounts) SegmentHandle {
	best := matchSegs[0]
	bestOverlap := prevActivity.Potential(best)
	for _, seg := range matchSegs[1:] {
		overlap := prevActivity.Potential(seg)
		if overlap > bestOverlap || (overlap == bestOverlap && seg < best) {
			best = seg
			bestOverlap = overlap
		}
	}
	return best
}

// leastUsedCell returns the cell in column with the fewest segments, ties
// broken randomly via the configured PRNG.
func (tm *TemporalMemory) leastUsedCell(column int) CellIdx {
	cells := tm.cellsForColumn(column)

	minCount := -1
	var candidates []CellIdx
	for _, cell := range cells {
		n := tm.Connections.NumSegmentsOnCell(cell)
		switch {
		case minCount == -1 || n < minCount:
			minCount = n
			candidates = []CellIdx{cell}
		case n == minCount:
			candidates = append(candidates, cell)
		}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return candidates[tm.rng.Intn(len(candidates))]
}

// reinforceSegment applies the Hebbian update to every synapse on
// segment: permanenceIncrement for synapses whose presynaptic cell was
// previously active, permanenceDecrement otherwise, clamped to [0,1].
// Synapses that drop to <= 0 are destroyed; a segment left with zero
// synapses is destroyed.
func (tm *TemporalMemory) reinforceSegment(segment SegmentHandle, prevActiveCellsSet map[CellIdx]bool) {
	syns := append([]SynapseHandle(nil), tm.Connections.SynapsesForSegment(segment)...)
	for _, syn := range syns {
		data := tm.Connections.DataForSynapse(syn)
		var permanence float64
		if prevActiveCellsSet[data.PresynapticCell] {
			permanence = clampPermanence(data.Permanence + tm.params.PermanenceIncrement)
		} else {
			permanence = clampPermanence(data.Permanence - tm.params.PermanenceDecrement)
		}

		if permanence <= 0 {
			tm.Connections.DestroySynapse(syn)
		} else {
			tm.Connections.UpdateSynapsePermanence(syn, permanence)
		}
	}

	if tm.Connections.segmentExists(segment) && tm.Connections.numSynapsesOnSegment(segment) == 0 {
		tm.Connections.DestroySegment(segment)
	}
}

// growSynapses grows up to n new synapses on segment from candidates,
// sampling without replacement and excluding cells the segment is already
// connected to.
func (tm *TemporalMemory) growSynapses(segment SegmentHandle, candidates []CellIdx, n int) {
	if n <= 0 || len(candidates) == 0 {
		return
	}

	existingSyns := tm.Connections.SynapsesForSegment(segment)
	existing := make([]int, len(existingSyns))
	for i, syn := range existingSyns {
		existing[i] = int(tm.Connections.DataForSynapse(syn).PresynapticCell)
	}

	candidateInts := make([]int, len(candidates))
	for i, c := range candidates {
		candidateInts[i] = int(c)
	}

	pool := utils.Complement(candidateInts, existing)
	if len(pool) == 0 {
		return
	}

	picked := tm.rng.sampleWithoutReplacement(pool, n)
	for _, c := range picked {
		tm.Connections.CreateSynapse(segment, CellIdx(c), tm.params.InitialPermanence)
	}
}

// punishPredictedSegments applies predictedSegmentDecrement to every
// matching segment from the previous tick whose owning cell's column is
// not currently active.
func (tm *TemporalMemory) punishPredictedSegments(prevMatchingSegments []SegmentHandle, activeColumnsSet map[int]bool) {
	for _, seg := range prevMatchingSegments {
		if !tm.Connections.segmentExists(seg) {
			continue
		}
		column := tm.ColumnForCell(tm.Connections.CellForSegment(seg))
		if activeColumnsSet[column] {
			continue
		}

		syns := append([]SynapseHandle(nil), tm.Connections.SynapsesForSegment(seg)...)
		for _, syn := range syns {
			data := tm.Connections.DataForSynapse(syn)
			permanence := clampPermanence(data.Permanence - tm.params.PredictedSegmentDecrement)
			if permanence <= 0 {
				tm.Connections.DestroySynapse(syn)
			} else {
				tm.Connections.UpdateSynapsePermanence(syn, permanence)
			}
		}

		if tm.Connections.segmentExists(seg) && tm.Connections.numSynapsesOnSegment(seg) == 0 {
			tm.Connections.DestroySegment(seg)
		}
	}
}

// recomputePredictiveState scans activity against newActiveCells to
// determine the next tick's active/matching segments.
func (tm *TemporalMemory) recomputePredictiveState(newActiveCells []CellIdx, learn bool) {
	activity := NewActivityCounts(tm.Connections.SegmentFlatListLength())
	ComputeActivity(activity, tm.Connections, newActiveCells, tm.params.ConnectedPermanence)

	var activeSegments, matchingSegments []SegmentHandle
	for s := 0; s < tm.Connections.SegmentFlatListLength(); s++ {
		seg := SegmentHandle(s)
		if !tm.Connections.segmentExists(seg) {
			continue
		}
		if activity.Connected(seg) >= tm.params.ActivationThreshold {
			activeSegments = append(activeSegments, seg)
			if learn {
				tm.Connections.RecordSegmentActivity(seg)
			}
		}
		if activity.Potential(seg) >= tm.params.MinThreshold {
			matchingSegments = append(matchingSegments, seg)
		}
	}

	tm.Connections.sortSegments(activeSegments)
	tm.Connections.sortSegments(matchingSegments)

	tm.activeSegments = activeSegments
	tm.matchingSegments = matchingSegments
	tm.activity = activity
}

func (tm *TemporalMemory) bucketSegmentsByColumn(segs []SegmentHandle) map[int][]SegmentHandle {
	buckets := make(map[int][]SegmentHandle)
	for _, seg := range segs {
		column := tm.ColumnForCell(tm.Connections.CellForSegment(seg))
		buckets[column] = append(buckets[column], seg)
	}
	return buckets
}
