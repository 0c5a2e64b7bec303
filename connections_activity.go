package htm

// ActivityCounts holds the per-segment overlap counts produced by
// ComputeActivity: the number of active connected synapses and the number
// of active potential synapses (any permanence) for every segment flat
// index.
type ActivityCounts struct {
	connected []int
	potential []int
}

// NewActivityCounts allocates counts pre-sized to length (normally
// Connections.SegmentFlatListLength()).
func NewActivityCounts(length int) *ActivityCounts {
	return &ActivityCounts{
		connected: make([]int, length),
		potential: make([]int, length),
	}
}

// Connected returns the active-connected-synapse count for segment.
func (a *ActivityCounts) Connected(segment SegmentHandle) int {
	if int(segment) >= len(a.connected) {
		return 0
	}
	return a.connected[segment]
}

// Potential returns the active-potential-synapse count for segment.
func (a *ActivityCounts) Potential(segment SegmentHandle) int {
	if int(segment) >= len(a.potential) {
		return 0
	}
	return a.potential[segment]
}

func (a *ActivityCounts) incrConnected(segment SegmentHandle) {
	a.ensure(int(segment) + 1)
	a.connected[segment]++
}

func (a *ActivityCounts) incrPotential(segment SegmentHandle) {
	a.ensure(int(segment) + 1)
	a.potential[segment]++
}

func (a *ActivityCounts) ensure(length int) {
	if length <= len(a.connected) {
		return
	}
	grown := make([]int, length)
	copy(grown, a.connected)
	a.connected = grown

	grown = make([]int, length)
	copy(grown, a.potential)
	a.potential = grown
}

// ComputeActivity scans the reverse index for every cell in
// activePresynapticCells and accumulates, for each synapse found, its
// segment's active-potential count (always) and active-connected count
// (when the synapse's permanence is at or above connectedPermanence,
// within epsilon). Missing reverse-index entries are no-ops.
func ComputeActivity(counts *ActivityCounts, connections *Connections, activePresynapticCells []CellIdx, connectedPermanence float64) {
	for _, cell := range activePresynapticCells {
		for _, syn := range connections.SynapsesForPresynapticCell(cell) {
			data := connections.DataForSynapse(syn)
			counts.incrPotential(data.Segment)

			assertf(data.Permanence > 0, "ComputeActivity: synapse %d has non-positive permanence", syn)
			if data.Permanence >= connectedPermanence-epsilon {
				counts.incrConnected(data.Segment)
			}
		}
	}
}

// ComputeActivityForCell is the single-cell overload of ComputeActivity,
// for callers with a single active presynaptic cell rather than a list.
func ComputeActivityForCell(counts *ActivityCounts, connections *Connections, activePresynapticCell CellIdx, connectedPermanence float64) {
	ComputeActivity(counts, connections, []CellIdx{activePresynapticCell}, connectedPermanence)
}
