package htm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// temporalMemoryVersion is the current TM textual/binary wrapper version.
const temporalMemoryVersion = 2

// Save writes tm to w as a marker block wrapping its configuration, its
// previous-tick summary, and a nested Connections block.
func (tm *TemporalMemory) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "TemporalMemory")
	fmt.Fprintln(bw, temporalMemoryVersion)

	fmt.Fprintln(bw, len(tm.params.ColumnDimensions))
	for _, d := range tm.params.ColumnDimensions {
		fmt.Fprintf(bw, "%d ", d)
	}
	fmt.Fprintln(bw)
	fmt.Fprintf(bw, "%d %d %.17g %.17g %d %d %.17g %.17g %.17g %d %d %d\n",
		tm.params.CellsPerColumn,
		tm.params.ActivationThreshold,
		tm.params.InitialPermanence,
		tm.params.ConnectedPermanence,
		tm.params.MinThreshold,
		tm.params.MaxNewSynapseCount,
		tm.params.PermanenceIncrement,
		tm.params.PermanenceDecrement,
		tm.params.PredictedSegmentDecrement,
		tm.params.Seed,
		tm.params.MaxSegmentsPerCell,
		tm.params.MaxSynapsesPerSegment,
	)

	writeCellList(bw, tm.activeCells)
	writeCellList(bw, tm.winnerCells)
	tm.writeSegmentList(bw, tm.activeSegments)
	tm.writeSegmentList(bw, tm.matchingSegments)

	if err := bw.Flush(); err != nil {
		return err
	}

	if err := tm.Connections.Save(w); err != nil {
		return err
	}

	bw = bufio.NewWriter(w)
	fmt.Fprintln(bw, "~TemporalMemory")
	return bw.Flush()
}

func writeCellList(w io.Writer, cells []CellIdx) {
	fmt.Fprintf(w, "%d ", len(cells))
	for _, c := range cells {
		fmt.Fprintf(w, "%d ", c)
	}
	fmt.Fprintln(w)
}

// writeSegmentList persists segment handles as (cell, idxOnCell) pairs
// rather than raw flat indices, since flat indices may be renumbered by a
// Connections round-trip.
func (tm *TemporalMemory) writeSegmentList(w io.Writer, segs []SegmentHandle) {
	fmt.Fprintf(w, "%d ", len(segs))
	for _, seg := range segs {
		data := tm.Connections.DataForSegment(seg)
		fmt.Fprintf(w, "%d %d ", data.Cell, data.IdxOnCell)
	}
	fmt.Fprintln(w)
}

// Load replaces tm's contents with the textual stream read from r.
func (tm *TemporalMemory) Load(r io.Reader) error {
	tr := newTextTokenizer(r)

	marker, err := tr.token()
	if err != nil {
		return err
	}
	if marker != "TemporalMemory" {
		return &SerializationError{Msg: fmt.Sprintf("expected marker %q, got %q", "TemporalMemory", marker)}
	}

	version, err := tr.int()
	if err != nil {
		return err
	}
	if version > temporalMemoryVersion {
		return &SerializationError{Msg: fmt.Sprintf("stream version %d is newer than supported version %d", version, temporalMemoryVersion)}
	}

	numDims, err := tr.int()
	if err != nil {
		return err
	}
	dims := make([]int, numDims)
	for i := range dims {
		d, err := tr.int()
		if err != nil {
			return err
		}
		dims[i] = d
	}

	params := TemporalMemoryParams{ColumnDimensions: dims}
	if params.CellsPerColumn, err = tr.int(); err != nil {
		return err
	}
	if params.ActivationThreshold, err = tr.int(); err != nil {
		return err
	}
	if params.InitialPermanence, err = tr.float(); err != nil {
		return err
	}
	if params.ConnectedPermanence, err = tr.float(); err != nil {
		return err
	}
	if params.MinThreshold, err = tr.int(); err != nil {
		return err
	}
	if params.MaxNewSynapseCount, err = tr.int(); err != nil {
		return err
	}
	if params.PermanenceIncrement, err = tr.float(); err != nil {
		return err
	}
	if params.PermanenceDecrement, err = tr.float(); err != nil {
		return err
	}
	if params.PredictedSegmentDecrement, err = tr.float(); err != nil {
		return err
	}
	seed, err := tr.int()
	if err != nil {
		return err
	}
	params.Seed = int64(seed)
	if params.MaxSegmentsPerCell, err = tr.int(); err != nil {
		return err
	}
	if params.MaxSynapsesPerSegment, err = tr.int(); err != nil {
		return err
	}

	loaded, configErr := NewTemporalMemory(&params)
	if configErr != nil {
		return &SerializationError{Msg: fmt.Sprintf("invalid persisted configuration: %v", configErr)}
	}

	loaded.activeCells, err = readCellList(tr)
	if err != nil {
		return err
	}
	loaded.winnerCells, err = readCellList(tr)
	if err != nil {
		return err
	}
	activeSegPairs, err := readSegmentPairs(tr)
	if err != nil {
		return err
	}
	matchingSegPairs, err := readSegmentPairs(tr)
	if err != nil {
		return err
	}

	if err := loaded.Connections.loadFromTokenizer(tr); err != nil {
		return err
	}

	loaded.activeSegments = resolveSegmentPairs(loaded.Connections, activeSegPairs)
	loaded.matchingSegments = resolveSegmentPairs(loaded.Connections, matchingSegPairs)
	loaded.activity = NewActivityCounts(loaded.Connections.SegmentFlatListLength())
	ComputeActivity(loaded.activity, loaded.Connections, loaded.activeCells, loaded.params.ConnectedPermanence)

	closing, err := tr.token()
	if err != nil {
		return err
	}
	if closing != "~TemporalMemory" {
		return &SerializationError{Msg: fmt.Sprintf("expected closing marker %q, got %q", "~TemporalMemory", closing)}
	}

	*tm = *loaded
	return nil
}

func readCellList(tr *textTokenizer) ([]CellIdx, error) {
	n, err := tr.int()
	if err != nil {
		return nil, err
	}
	cells := make([]CellIdx, n)
	for i := range cells {
		v, err := tr.int()
		if err != nil {
			return nil, err
		}
		cells[i] = CellIdx(v)
	}
	return cells, nil
}

type segmentPair struct {
	cell      CellIdx
	idxOnCell int
}

func readSegmentPairs(tr *textTokenizer) ([]segmentPair, error) {
	n, err := tr.int()
	if err != nil {
		return nil, err
	}
	pairs := make([]segmentPair, n)
	for i := range pairs {
		cell, err := tr.int()
		if err != nil {
			return nil, err
		}
		idx, err := tr.int()
		if err != nil {
			return nil, err
		}
		pairs[i] = segmentPair{cell: CellIdx(cell), idxOnCell: idx}
	}
	return pairs, nil
}

func resolveSegmentPairs(connections *Connections, pairs []segmentPair) []SegmentHandle {
	if len(pairs) == 0 {
		return nil
	}
	segs := make([]SegmentHandle, 0, len(pairs))
	for _, p := range pairs {
		onCell := connections.SegmentsForCell(p.cell)
		if p.idxOnCell < len(onCell) {
			segs = append(segs, onCell[p.idxOnCell])
		}
	}
	return segs
}

// Write serializes tm to w in the structured binary format.
func (tm *TemporalMemory) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.LittleEndian, uint32(temporalMemoryVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(tm.params.ColumnDimensions))); err != nil {
		return err
	}
	for _, d := range tm.params.ColumnDimensions {
		if err := binary.Write(bw, binary.LittleEndian, uint32(d)); err != nil {
			return err
		}
	}

	fields := []interface{}{
		uint32(tm.params.CellsPerColumn),
		uint32(tm.params.ActivationThreshold),
		tm.params.InitialPermanence,
		tm.params.ConnectedPermanence,
		uint32(tm.params.MinThreshold),
		uint32(tm.params.MaxNewSynapseCount),
		tm.params.PermanenceIncrement,
		tm.params.PermanenceDecrement,
		tm.params.PredictedSegmentDecrement,
		tm.params.Seed,
		uint32(tm.params.MaxSegmentsPerCell),
		uint32(tm.params.MaxSynapsesPerSegment),
	}
	for _, f := range fields {
		if err := binary.Write(bw, binary.LittleEndian, f); err != nil {
			return err
		}
	}

	writeBinaryCellList(bw, tm.activeCells)
	writeBinaryCellList(bw, tm.winnerCells)
	tm.writeBinarySegmentList(bw, tm.activeSegments)
	tm.writeBinarySegmentList(bw, tm.matchingSegments)

	if err := bw.Flush(); err != nil {
		return err
	}
	return tm.Connections.Write(w)
}

func writeBinaryCellList(w io.Writer, cells []CellIdx) {
	binary.Write(w, binary.LittleEndian, uint32(len(cells)))
	for _, c := range cells {
		binary.Write(w, binary.LittleEndian, uint32(c))
	}
}

func (tm *TemporalMemory) writeBinarySegmentList(w io.Writer, segs []SegmentHandle) {
	binary.Write(w, binary.LittleEndian, uint32(len(segs)))
	for _, seg := range segs {
		data := tm.Connections.DataForSegment(seg)
		binary.Write(w, binary.LittleEndian, uint32(data.Cell))
		binary.Write(w, binary.LittleEndian, uint32(data.IdxOnCell))
	}
}

// Read replaces tm's contents with the structured binary stream read from
// r.
func (tm *TemporalMemory) Read(r io.Reader) error {
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return serializationReadErr(err)
	}
	if version > temporalMemoryVersion {
		return &SerializationError{Msg: fmt.Sprintf("stream version %d is newer than supported version %d", version, temporalMemoryVersion)}
	}

	var numDims uint32
	if err := binary.Read(r, binary.LittleEndian, &numDims); err != nil {
		return serializationReadErr(err)
	}
	dims := make([]int, numDims)
	for i := range dims {
		var d uint32
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return serializationReadErr(err)
		}
		dims[i] = int(d)
	}

	params := TemporalMemoryParams{ColumnDimensions: dims}
	var cellsPerColumn, activationThreshold, minThreshold, maxNewSynapseCount uint32
	var maxSegmentsPerCell, maxSynapsesPerSegment uint32
	var seed int64

	readFields := []interface{}{
		&cellsPerColumn, &activationThreshold,
		&params.InitialPermanence, &params.ConnectedPermanence,
		&minThreshold, &maxNewSynapseCount,
		&params.PermanenceIncrement, &params.PermanenceDecrement, &params.PredictedSegmentDecrement,
		&seed,
		&maxSegmentsPerCell, &maxSynapsesPerSegment,
	}
	for _, f := range readFields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return serializationReadErr(err)
		}
	}
	params.CellsPerColumn = int(cellsPerColumn)
	params.ActivationThreshold = int(activationThreshold)
	params.MinThreshold = int(minThreshold)
	params.MaxNewSynapseCount = int(maxNewSynapseCount)
	params.Seed = seed
	params.MaxSegmentsPerCell = int(maxSegmentsPerCell)
	params.MaxSynapsesPerSegment = int(maxSynapsesPerSegment)

	loaded, configErr := NewTemporalMemory(&params)
	if configErr != nil {
		return &SerializationError{Msg: fmt.Sprintf("invalid persisted configuration: %v", configErr)}
	}

	var err error
	if loaded.activeCells, err = readBinaryCellList(r); err != nil {
		return err
	}
	if loaded.winnerCells, err = readBinaryCellList(r); err != nil {
		return err
	}
	activeSegPairs, err := readBinarySegmentPairs(r)
	if err != nil {
		return err
	}
	matchingSegPairs, err := readBinarySegmentPairs(r)
	if err != nil {
		return err
	}

	if err := loaded.Connections.Read(r); err != nil {
		return err
	}

	loaded.activeSegments = resolveSegmentPairs(loaded.Connections, activeSegPairs)
	loaded.matchingSegments = resolveSegmentPairs(loaded.Connections, matchingSegPairs)
	loaded.activity = NewActivityCounts(loaded.Connections.SegmentFlatListLength())
	ComputeActivity(loaded.activity, loaded.Connections, loaded.activeCells, loaded.params.ConnectedPermanence)

	*tm = *loaded
	return nil
}

func readBinaryCellList(r io.Reader) ([]CellIdx, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, serializationReadErr(err)
	}
	cells := make([]CellIdx, n)
	for i := range cells {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, serializationReadErr(err)
		}
		cells[i] = CellIdx(v)
	}
	return cells, nil
}

func readBinarySegmentPairs(r io.Reader) ([]segmentPair, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, serializationReadErr(err)
	}
	pairs := make([]segmentPair, n)
	for i := range pairs {
		var cell, idx uint32
		if err := binary.Read(r, binary.LittleEndian, &cell); err != nil {
			return nil, serializationReadErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return nil, serializationReadErr(err)
		}
		pairs[i] = segmentPair{cell: CellIdx(cell), idxOnCell: int(idx)}
	}
	return pairs, nil
}

// Equal reports whether tm and other are attribute-equal: equal
// configuration, equal previous-tick summary (by structural segment
// identity, not raw handle value), and equal embedded Connections
// via Connections.Equal.
func (tm *TemporalMemory) Equal(other *TemporalMemory) bool {
	if !paramsEqual(&tm.params, &other.params) {
		return false
	}
	if !cellsEqual(tm.activeCells, other.activeCells) {
		return false
	}
	if !cellsEqual(tm.winnerCells, other.winnerCells) {
		return false
	}
	if !tm.segmentsStructurallyEqual(tm.activeSegments, other, other.activeSegments) {
		return false
	}
	if !tm.segmentsStructurallyEqual(tm.matchingSegments, other, other.matchingSegments) {
		return false
	}
	return tm.Connections.Equal(other.Connections)
}

func paramsEqual(a, b *TemporalMemoryParams) bool {
	if len(a.ColumnDimensions) != len(b.ColumnDimensions) {
		return false
	}
	for i := range a.ColumnDimensions {
		if a.ColumnDimensions[i] != b.ColumnDimensions[i] {
			return false
		}
	}
	return a.CellsPerColumn == b.CellsPerColumn &&
		a.ActivationThreshold == b.ActivationThreshold &&
		a.InitialPermanence == b.InitialPermanence &&
		a.ConnectedPermanence == b.ConnectedPermanence &&
		a.MinThreshold == b.MinThreshold &&
		a.MaxNewSynapseCount == b.MaxNewSynapseCount &&
		a.PermanenceIncrement == b.PermanenceIncrement &&
		a.PermanenceDecrement == b.PermanenceDecrement &&
		a.PredictedSegmentDecrement == b.PredictedSegmentDecrement &&
		a.Seed == b.Seed &&
		a.MaxSegmentsPerCell == b.MaxSegmentsPerCell &&
		a.MaxSynapsesPerSegment == b.MaxSynapsesPerSegment
}

func cellsEqual(a, b []CellIdx) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (tm *TemporalMemory) segmentsStructurallyEqual(segs []SegmentHandle, other *TemporalMemory, otherSegs []SegmentHandle) bool {
	if len(segs) != len(otherSegs) {
		return false
	}
	for i := range segs {
		d := tm.Connections.DataForSegment(segs[i])
		od := other.Connections.DataForSegment(otherSegs[i])
		if d.Cell != od.Cell || d.IdxOnCell != od.IdxOnCell {
			return false
		}
	}
	return true
}
