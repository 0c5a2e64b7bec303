package htm

import (
	"sort"

	"github.com/cznic/mathutil"
)

// epsilon is the absolute tolerance used for all floating-point
// minimum-permanence and connected-threshold comparisons, so behavior is
// identical across floating-point environments.
const epsilon = 1e-5

// CellIdx identifies a cell by its dense zero-based index in
// [0, numCells).
type CellIdx int

// SegmentHandle is a stable flat index into the segments dense array.
// Destroyed entries are pushed onto a free-list and reused by the next
// createSegment call; the handle is never reused while the segment it
// names is alive.
type SegmentHandle int

// SynapseHandle is a stable flat index into the synapses dense array,
// with the same free-list recycling discipline as SegmentHandle.
type SynapseHandle int

// SegmentData is the externally-visible record for a segment.
type SegmentData struct {
	Cell              CellIdx
	Synapses          []SynapseHandle
	LastUsedIteration int
	IdxOnCell         int
}

// SynapseData is the externally-visible record for a synapse.
type SynapseData struct {
	Segment         SegmentHandle
	PresynapticCell CellIdx
	Permanence      float64
	IdxOnSegment    int
}

type cellData struct {
	segments []SegmentHandle
}

// Connections owns the dense cell→segment→synapse graph: creation,
// destruction, index recycling, activity computation, and serialization.
type Connections struct {
	numCells              int
	maxSegmentsPerCell    int
	maxSynapsesPerSegment int

	cells    []cellData
	segments []SegmentData
	synapses []SynapseData

	destroyedSegments []SegmentHandle
	destroyedSynapses []SynapseHandle

	// synapsesForPresynapticCell maps a presynaptic cell to the ordered
	// list of synapse handles that target it. A missing key means no live
	// synapse targets that cell.
	synapsesForPresynapticCell map[CellIdx][]SynapseHandle

	iteration int

	events *eventDispatcher
}

// NewConnections constructs a Connections store. Panics via ConfigError-
// shaped validation is intentionally NOT done here: Connections is an
// internal collaborator of TemporalMemory, which performs all
// configuration validation once at its own construction time;
// Connections itself only requires its three parameters be
// positive, checked with assertions since a negative/zero value reaching
// here is already a programmer bug in the caller, not new user input.
func NewConnections(numCells, maxSegmentsPerCell, maxSynapsesPerSegment int) *Connections {
	assertf(numCells > 0, "numCells must be > 0, got %d", numCells)
	assertf(maxSegmentsPerCell > 0, "maxSegmentsPerCell must be > 0, got %d", maxSegmentsPerCell)
	assertf(maxSynapsesPerSegment > 0, "maxSynapsesPerSegment must be > 0, got %d", maxSynapsesPerSegment)

	c := &Connections{
		numCells:                   numCells,
		maxSegmentsPerCell:         maxSegmentsPerCell,
		maxSynapsesPerSegment:      maxSynapsesPerSegment,
		cells:                      make([]cellData, numCells),
		synapsesForPresynapticCell: make(map[CellIdx][]SynapseHandle),
		events:                     newEventDispatcher(),
	}
	return c
}

// NumCells returns the fixed cell count.
func (c *Connections) NumCells() int { return c.numCells }

// MaxSegmentsPerCell returns the configured per-cell segment capacity.
func (c *Connections) MaxSegmentsPerCell() int { return c.maxSegmentsPerCell }

// MaxSynapsesPerSegment returns the configured per-segment synapse
// capacity.
func (c *Connections) MaxSynapsesPerSegment() int { return c.maxSynapsesPerSegment }

// Iteration returns the current monotonic iteration counter.
func (c *Connections) Iteration() int { return c.iteration }

// StartNewIteration advances the iteration counter.
func (c *Connections) StartNewIteration() {
	c.iteration++
}

// SegmentFlatListLength returns one past the highest segment flat index
// ever allocated; activity buffers are pre-sized to this length.
func (c *Connections) SegmentFlatListLength() int {
	return len(c.segments)
}

// CreateSegment creates a new segment on cell, evicting the
// least-recently-used segment on that cell first if it is at capacity.
func (c *Connections) CreateSegment(cell CellIdx) SegmentHandle {
	for c.numSegmentsOnCell(cell) >= c.maxSegmentsPerCell {
		c.DestroySegment(c.leastRecentlyUsedSegment(cell))
	}

	var seg SegmentHandle
	if n := len(c.destroyedSegments); n > 0 {
		seg = c.destroyedSegments[n-1]
		c.destroyedSegments = c.destroyedSegments[:n-1]
	} else {
		seg = SegmentHandle(len(c.segments))
		c.segments = append(c.segments, SegmentData{})
	}

	cd := &c.cells[cell]
	c.segments[seg] = SegmentData{
		Cell:              cell,
		LastUsedIteration: c.iteration,
		IdxOnCell:         len(cd.segments),
	}
	cd.segments = append(cd.segments, seg)

	c.events.fireCreateSegment(seg)
	return seg
}

// CreateSynapse creates a new synapse on segment targeting presynapticCell
// with the given permanence, evicting the lowest-permanence synapse on
// that segment first if it is at capacity.
func (c *Connections) CreateSynapse(segment SegmentHandle, presynapticCell CellIdx, permanence float64) SynapseHandle {
	assertf(permanence > 0, "synapse permanence must be > 0, got %v", permanence)

	for c.numSynapsesOnSegment(segment) >= c.maxSynapsesPerSegment {
		c.DestroySynapse(c.minPermanenceSynapse(segment))
	}

	var syn SynapseHandle
	if n := len(c.destroyedSynapses); n > 0 {
		syn = c.destroyedSynapses[n-1]
		c.destroyedSynapses = c.destroyedSynapses[:n-1]
	} else {
		syn = SynapseHandle(len(c.synapses))
		c.synapses = append(c.synapses, SynapseData{})
	}

	sd := &c.segments[segment]
	c.synapses[syn] = SynapseData{
		Segment:         segment,
		PresynapticCell: presynapticCell,
		Permanence:      permanence,
		IdxOnSegment:    len(sd.Synapses),
	}
	sd.Synapses = append(sd.Synapses, syn)

	c.synapsesForPresynapticCell[presynapticCell] = append(c.synapsesForPresynapticCell[presynapticCell], syn)

	c.events.fireCreateSynapse(syn)
	return syn
}

// DestroySegment destroys segment and every synapse on it.
func (c *Connections) DestroySegment(segment SegmentHandle) {
	assertf(c.segmentExists(segment), "destroySegment: segment %d does not exist", segment)

	c.events.fireDestroySegment(segment)

	sd := &c.segments[segment]
	for _, syn := range sd.Synapses {
		// Don't call DestroySynapse: no index-shifting is needed on a
		// segment's own synapse list, since the whole segment is going
		// away.
		c.removeSynapseFromPresynapticMap(syn)
		c.destroyedSynapses = append(c.destroyedSynapses, syn)
	}
	sd.Synapses = nil

	cd := &c.cells[sd.Cell]
	idx := sd.IdxOnCell
	cd.segments = append(cd.segments[:idx], cd.segments[idx+1:]...)
	for i := idx; i < len(cd.segments); i++ {
		c.segments[cd.segments[i]].IdxOnCell--
	}

	c.destroyedSegments = append(c.destroyedSegments, segment)
}

// DestroySynapse destroys a single synapse, shifting successor indices on
// its owning segment.
func (c *Connections) DestroySynapse(synapse SynapseHandle) {
	assertf(c.synapseExists(synapse), "destroySynapse: synapse %d does not exist", synapse)

	c.events.fireDestroySynapse(synapse)

	c.removeSynapseFromPresynapticMap(synapse)

	syn := c.synapses[synapse]
	sd := &c.segments[syn.Segment]
	idx := syn.IdxOnSegment
	sd.Synapses = append(sd.Synapses[:idx], sd.Synapses[idx+1:]...)
	for i := idx; i < len(sd.Synapses); i++ {
		c.synapses[sd.Synapses[i]].IdxOnSegment--
	}

	c.destroyedSynapses = append(c.destroyedSynapses, synapse)
}

// UpdateSynapsePermanence overwrites a synapse's permanence. Callers are
// responsible for destroying the synapse if the new value is <= 0.
func (c *Connections) UpdateSynapsePermanence(synapse SynapseHandle, permanence float64) {
	c.events.fireUpdateSynapsePermanence(synapse, permanence)
	c.synapses[synapse].Permanence = permanence
}

// RecordSegmentActivity stamps segment's lastUsedIteration with the
// current iteration.
func (c *Connections) RecordSegmentActivity(segment SegmentHandle) {
	c.segments[segment].LastUsedIteration = c.iteration
}

// SegmentsForCell returns cell's segment handles in insertion order.
func (c *Connections) SegmentsForCell(cell CellIdx) []SegmentHandle {
	return c.cells[cell].segments
}

// SynapsesForSegment returns segment's synapse handles in insertion
// order.
func (c *Connections) SynapsesForSegment(segment SegmentHandle) []SynapseHandle {
	return c.segments[segment].Synapses
}

// DataForSegment returns the record for segment.
func (c *Connections) DataForSegment(segment SegmentHandle) SegmentData {
	return c.segments[segment]
}

// DataForSynapse returns the record for synapse.
func (c *Connections) DataForSynapse(synapse SynapseHandle) SynapseData {
	return c.synapses[synapse]
}

// CellForSegment returns segment's owning cell.
func (c *Connections) CellForSegment(segment SegmentHandle) CellIdx {
	return c.segments[segment].Cell
}

// SynapsesForPresynapticCell returns, in insertion order, the synapse
// handles whose presynaptic cell is presynapticCell. Returns nil if none
// exist.
func (c *Connections) SynapsesForPresynapticCell(presynapticCell CellIdx) []SynapseHandle {
	return c.synapsesForPresynapticCell[presynapticCell]
}

// NumSegments returns the total number of live segments.
func (c *Connections) NumSegments() int {
	return len(c.segments) - len(c.destroyedSegments)
}

// NumSegmentsOnCell returns the number of live segments on cell.
func (c *Connections) NumSegmentsOnCell(cell CellIdx) int {
	return c.numSegmentsOnCell(cell)
}

func (c *Connections) numSegmentsOnCell(cell CellIdx) int {
	return len(c.cells[cell].segments)
}

// NumSynapses returns the total number of live synapses.
func (c *Connections) NumSynapses() int {
	return len(c.synapses) - len(c.destroyedSynapses)
}

// NumSynapsesOnSegment returns the number of live synapses on segment.
func (c *Connections) NumSynapsesOnSegment(segment SegmentHandle) int {
	return c.numSynapsesOnSegment(segment)
}

func (c *Connections) numSynapsesOnSegment(segment SegmentHandle) int {
	return len(c.segments[segment].Synapses)
}

// Subscribe registers handler for Connections mutation events, returning
// a token usable with Unsubscribe.
func (c *Connections) Subscribe(handler ConnectionsEventHandler) int {
	return c.events.subscribe(handler)
}

// Unsubscribe removes a previously-subscribed handler.
func (c *Connections) Unsubscribe(token int) {
	c.events.unsubscribe(token)
}

func (c *Connections) removeSynapseFromPresynapticMap(synapse SynapseHandle) {
	cell := c.synapses[synapse].PresynapticCell
	syns := c.synapsesForPresynapticCell[cell]
	for i, s := range syns {
		if s == synapse {
			syns = append(syns[:i], syns[i+1:]...)
			break
		}
	}
	if len(syns) == 0 {
		delete(c.synapsesForPresynapticCell, cell)
	} else {
		c.synapsesForPresynapticCell[cell] = syns
	}
}

func (c *Connections) segmentExists(segment SegmentHandle) bool {
	if int(segment) < 0 || int(segment) >= len(c.segments) {
		return false
	}
	sd := c.segments[segment]
	for _, s := range c.cells[sd.Cell].segments {
		if s == segment {
			return true
		}
	}
	return false
}

func (c *Connections) synapseExists(synapse SynapseHandle) bool {
	if int(synapse) < 0 || int(synapse) >= len(c.synapses) {
		return false
	}
	syn := c.synapses[synapse]
	for _, s := range c.segments[syn.Segment].Synapses {
		if s == synapse {
			return true
		}
	}
	return false
}

// leastRecentlyUsedSegment returns the segment on cell with the smallest
// lastUsedIteration, ties broken by lowest idxOnCell.
func (c *Connections) leastRecentlyUsedSegment(cell CellIdx) SegmentHandle {
	segs := c.cells[cell].segments
	assertf(len(segs) > 0, "leastRecentlyUsedSegment: cell %d has no segments", cell)

	best := segs[0]
	bestIteration := c.segments[best].LastUsedIteration
	for _, s := range segs[1:] {
		it := c.segments[s].LastUsedIteration
		if mn := mathutil.Min(it, bestIteration); mn < bestIteration {
			best = s
			bestIteration = mn
		}
	}
	return best
}

// minPermanenceSynapse returns the lowest-permanence synapse on segment,
// using an absolute epsilon tolerance so the choice is stable across
// floating-point environments.
func (c *Connections) minPermanenceSynapse(segment SegmentHandle) SynapseHandle {
	syns := c.segments[segment].Synapses
	assertf(len(syns) > 0, "minPermanenceSynapse: segment %d has no synapses", segment)

	found := false
	var minSyn SynapseHandle
	minPermanence := 0.0
	for _, s := range syns {
		p := c.synapses[s].Permanence
		if !found || p < minPermanence-epsilon {
			minSyn = s
			minPermanence = p
			found = true
		}
	}
	assertf(found, "minPermanenceSynapse: no minimum found on segment %d", segment)
	return minSyn
}

// compareSegments orders segments by (owning cell, idxOnCell), the stable
// iteration order used for active/matching segment lists.
func (c *Connections) compareSegments(a, b SegmentHandle) bool {
	ad, bd := c.segments[a], c.segments[b]
	if ad.Cell != bd.Cell {
		return ad.Cell < bd.Cell
	}
	return ad.IdxOnCell < bd.IdxOnCell
}

// sortSegments sorts segs in place by (owning cell, idxOnCell).
func (c *Connections) sortSegments(segs []SegmentHandle) {
	sort.Slice(segs, func(i, j int) bool {
		return c.compareSegments(segs[i], segs[j])
	})
}

// Equal reports whether c and other are structurally equivalent:
// equal cell→segment→synapse structure element-wise, equal
// presynaptic cells, permanences, idxOnCell/idxOnSegment, lastUsedIteration
// on every segment, and equal reverse indices. Flat handle values
// themselves need not match.
func (c *Connections) Equal(other *Connections) bool {
	if c.maxSegmentsPerCell != other.maxSegmentsPerCell {
		return false
	}
	if c.maxSynapsesPerSegment != other.maxSynapsesPerSegment {
		return false
	}
	if len(c.cells) != len(other.cells) {
		return false
	}

	for i := range c.cells {
		segs := c.cells[i].segments
		oSegs := other.cells[i].segments
		if len(segs) != len(oSegs) {
			return false
		}
		for j := range segs {
			sd := c.segments[segs[j]]
			osd := other.segments[oSegs[j]]
			if len(sd.Synapses) != len(osd.Synapses) ||
				sd.LastUsedIteration != osd.LastUsedIteration ||
				sd.IdxOnCell != osd.IdxOnCell {
				return false
			}
			for k := range sd.Synapses {
				syn := c.synapses[sd.Synapses[k]]
				osyn := other.synapses[osd.Synapses[k]]
				if syn.PresynapticCell != osyn.PresynapticCell ||
					syn.Permanence != osyn.Permanence ||
					syn.IdxOnSegment != osyn.IdxOnSegment {
					return false
				}
			}
		}
	}

	if len(c.synapsesForPresynapticCell) != len(other.synapsesForPresynapticCell) {
		return false
	}
	for cell, syns := range c.synapsesForPresynapticCell {
		oSyns, ok := other.synapsesForPresynapticCell[cell]
		if !ok || len(syns) != len(oSyns) {
			return false
		}
		for j := range syns {
			syn := c.synapses[syns[j]]
			seg := c.segments[syn.Segment]
			osyn := other.synapses[oSyns[j]]
			oseg := other.segments[osyn.Segment]
			if seg.Cell != oseg.Cell || seg.IdxOnCell != oseg.IdxOnCell || syn.IdxOnSegment != osyn.IdxOnSegment {
				return false
			}
		}
	}

	return c.iteration == other.iteration
}
