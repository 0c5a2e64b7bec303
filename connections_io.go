package htm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// connectionsVersion is the current textual/binary format version.
// Version 1 streams carried per-segment and per-synapse "destroyed" flags;
// version 2 drops them from new writes but both readers still accept them.
const connectionsVersion = 2

// Save writes c to w in the human-readable textual format.
func (c *Connections) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "Connections")
	fmt.Fprintln(bw, connectionsVersion)
	fmt.Fprintf(bw, "%d %d %d\n", c.numCells, c.maxSegmentsPerCell, c.maxSynapsesPerSegment)

	for cell := 0; cell < c.numCells; cell++ {
		segs := c.cells[cell].segments
		fmt.Fprintf(bw, "%d ", len(segs))
		for _, seg := range segs {
			sd := c.segments[seg]
			fmt.Fprintf(bw, "%d %d ", sd.LastUsedIteration, len(sd.Synapses))
			for _, syn := range sd.Synapses {
				synd := c.synapses[syn]
				fmt.Fprintf(bw, "%d %s ", synd.PresynapticCell, formatPermanence(synd.Permanence))
			}
		}
		fmt.Fprintln(bw)
	}
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, c.iteration)
	fmt.Fprintln(bw, "~Connections")

	return bw.Flush()
}

func formatPermanence(p float64) string {
	return fmt.Sprintf("%.17g", p)
}

// Load replaces c's contents with the textual stream read from r.
// Readers accept legacy version-1 streams, which
// additionally carried "destroyed" flags on every segment and synapse;
// entries so flagged are read and silently dropped.
func (c *Connections) Load(r io.Reader) error {
	return c.loadFromTokenizer(newTextTokenizer(r))
}

// loadFromTokenizer is split out from Load so that TemporalMemory's own
// textual codec can share a single textTokenizer (and its single
// bufio.Reader) across both the TM header and the nested Connections
// block, rather than wrapping a second bufio.Reader around the first and
// losing whatever the first had already buffered ahead.
func (c *Connections) loadFromTokenizer(tr *textTokenizer) error {
	marker, err := tr.token()
	if err != nil {
		return err
	}
	if marker != "Connections" {
		return &SerializationError{Msg: fmt.Sprintf("expected marker %q, got %q", "Connections", marker)}
	}

	version, err := tr.int()
	if err != nil {
		return err
	}
	if version > connectionsVersion {
		return &SerializationError{Msg: fmt.Sprintf("stream version %d is newer than supported version %d", version, connectionsVersion)}
	}

	numCells, err := tr.int()
	if err != nil {
		return err
	}
	maxSegmentsPerCell, err := tr.int()
	if err != nil {
		return err
	}
	maxSynapsesPerSegment, err := tr.int()
	if err != nil {
		return err
	}

	loaded := NewConnections(numCells, maxSegmentsPerCell, maxSynapsesPerSegment)

	for cell := 0; cell < numCells; cell++ {
		numSegments, err := tr.int()
		if err != nil {
			return err
		}
		for s := 0; s < numSegments; s++ {
			destroyedSegment := false
			if version < 2 {
				b, err := tr.int()
				if err != nil {
					return err
				}
				destroyedSegment = b != 0
			}

			lastUsedIteration, err := tr.int()
			if err != nil {
				return err
			}

			var seg SegmentHandle
			var segData *SegmentData
			if !destroyedSegment {
				cd := &loaded.cells[cell]
				seg = SegmentHandle(len(loaded.segments))
				loaded.segments = append(loaded.segments, SegmentData{
					Cell:              CellIdx(cell),
					LastUsedIteration: lastUsedIteration,
					IdxOnCell:         len(cd.segments),
				})
				cd.segments = append(cd.segments, seg)
				segData = &loaded.segments[seg]
			}

			numSynapses, err := tr.int()
			if err != nil {
				return err
			}
			for k := 0; k < numSynapses; k++ {
				presynapticCell, err := tr.int()
				if err != nil {
					return err
				}
				permanence, err := tr.float()
				if err != nil {
					return err
				}

				destroyedSynapse := false
				if version < 2 {
					b, err := tr.int()
					if err != nil {
						return err
					}
					destroyedSynapse = b != 0
				}

				if destroyedSegment || destroyedSynapse {
					continue
				}

				syn := SynapseHandle(len(loaded.synapses))
				loaded.synapses = append(loaded.synapses, SynapseData{
					Segment:         seg,
					PresynapticCell: CellIdx(presynapticCell),
					Permanence:      permanence,
					IdxOnSegment:    len(segData.Synapses),
				})
				segData.Synapses = append(segData.Synapses, syn)
				loaded.synapsesForPresynapticCell[CellIdx(presynapticCell)] = append(
					loaded.synapsesForPresynapticCell[CellIdx(presynapticCell)], syn)
			}
		}
	}

	iteration, err := tr.int()
	if err != nil {
		return err
	}
	loaded.iteration = iteration

	closing, err := tr.token()
	if err != nil {
		return err
	}
	if closing != "~Connections" {
		return &SerializationError{Msg: fmt.Sprintf("expected closing marker %q, got %q", "~Connections", closing)}
	}

	*c = *loaded
	return nil
}

// --- structured binary codec -------------------------------------------
//
// Field-addressable binary schema used for cross-language exchange.
// The schema retains Destroyed flags on segment and
// synapse records for historical reasons even though current writers
// always emit false; readers skip entries
// flagged destroyed.

// Write serializes c to w in the structured binary format.
func (c *Connections) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.LittleEndian, uint32(connectionsVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(c.numCells)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(c.maxSegmentsPerCell)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(c.maxSynapsesPerSegment)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(c.iteration)); err != nil {
		return err
	}

	for cell := 0; cell < c.numCells; cell++ {
		segs := c.cells[cell].segments
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(segs))); err != nil {
			return err
		}
		for _, seg := range segs {
			sd := c.segments[seg]
			if err := binary.Write(bw, binary.LittleEndian, uint32(sd.LastUsedIteration)); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, false); err != nil { // Destroyed
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(sd.Synapses))); err != nil {
				return err
			}
			for _, syn := range sd.Synapses {
				synd := c.synapses[syn]
				if err := binary.Write(bw, binary.LittleEndian, uint32(synd.PresynapticCell)); err != nil {
					return err
				}
				if err := binary.Write(bw, binary.LittleEndian, synd.Permanence); err != nil {
					return err
				}
				if err := binary.Write(bw, binary.LittleEndian, false); err != nil { // Destroyed
					return err
				}
			}
		}
	}

	return bw.Flush()
}

// Read replaces c's contents with the structured binary stream read from
// r.
func (c *Connections) Read(r io.Reader) error {
	var version, numCells, maxSegmentsPerCell, maxSynapsesPerSegment, iteration uint32

	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return serializationReadErr(err)
	}
	if version > connectionsVersion {
		return &SerializationError{Msg: fmt.Sprintf("stream version %d is newer than supported version %d", version, connectionsVersion)}
	}
	if err := binary.Read(r, binary.LittleEndian, &numCells); err != nil {
		return serializationReadErr(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &maxSegmentsPerCell); err != nil {
		return serializationReadErr(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &maxSynapsesPerSegment); err != nil {
		return serializationReadErr(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &iteration); err != nil {
		return serializationReadErr(err)
	}

	loaded := NewConnections(int(numCells), int(maxSegmentsPerCell), int(maxSynapsesPerSegment))
	loaded.iteration = int(iteration)

	for cell := 0; cell < int(numCells); cell++ {
		var numSegments uint32
		if err := binary.Read(r, binary.LittleEndian, &numSegments); err != nil {
			return serializationReadErr(err)
		}
		for s := uint32(0); s < numSegments; s++ {
			var lastUsedIteration uint32
			var segDestroyed bool
			var numSynapses uint32
			if err := binary.Read(r, binary.LittleEndian, &lastUsedIteration); err != nil {
				return serializationReadErr(err)
			}
			if err := binary.Read(r, binary.LittleEndian, &segDestroyed); err != nil {
				return serializationReadErr(err)
			}
			if err := binary.Read(r, binary.LittleEndian, &numSynapses); err != nil {
				return serializationReadErr(err)
			}

			var seg SegmentHandle
			var segData *SegmentData
			if !segDestroyed {
				cd := &loaded.cells[cell]
				seg = SegmentHandle(len(loaded.segments))
				loaded.segments = append(loaded.segments, SegmentData{
					Cell:              CellIdx(cell),
					LastUsedIteration: int(lastUsedIteration),
					IdxOnCell:         len(cd.segments),
				})
				cd.segments = append(cd.segments, seg)
				segData = &loaded.segments[seg]
			}

			for k := uint32(0); k < numSynapses; k++ {
				var presynapticCell uint32
				var permanence float64
				var synDestroyed bool
				if err := binary.Read(r, binary.LittleEndian, &presynapticCell); err != nil {
					return serializationReadErr(err)
				}
				if err := binary.Read(r, binary.LittleEndian, &permanence); err != nil {
					return serializationReadErr(err)
				}
				if err := binary.Read(r, binary.LittleEndian, &synDestroyed); err != nil {
					return serializationReadErr(err)
				}

				if segDestroyed || synDestroyed {
					continue
				}

				syn := SynapseHandle(len(loaded.synapses))
				loaded.synapses = append(loaded.synapses, SynapseData{
					Segment:         seg,
					PresynapticCell: CellIdx(presynapticCell),
					Permanence:      permanence,
					IdxOnSegment:    len(segData.Synapses),
				})
				segData.Synapses = append(segData.Synapses, syn)
				loaded.synapsesForPresynapticCell[CellIdx(presynapticCell)] = append(
					loaded.synapsesForPresynapticCell[CellIdx(presynapticCell)], syn)
			}
		}
	}

	*c = *loaded
	return nil
}

func serializationReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &SerializationError{Msg: "truncated stream"}
	}
	return err
}

// textTokenizer reads whitespace-separated tokens from r, the way an
// istream's >> operator would tokenize a whitespace-delimited stream.
type textTokenizer struct {
	r *bufio.Reader
}

func newTextTokenizer(r io.Reader) *textTokenizer {
	return &textTokenizer{r: bufio.NewReader(r)}
}

func (t *textTokenizer) token() (string, error) {
	var buf []byte
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			if len(buf) > 0 {
				return string(buf), nil
			}
			return "", serializationReadErr(err)
		}
		if b == ' ' || b == '\n' || b == '\t' || b == '\r' {
			if len(buf) == 0 {
				continue
			}
			return string(buf), nil
		}
		buf = append(buf, b)
	}
}

func (t *textTokenizer) int() (int, error) {
	tok, err := t.token()
	if err != nil {
		return 0, err
	}
	var v int
	if _, err := fmt.Sscanf(tok, "%d", &v); err != nil {
		return 0, &SerializationError{Msg: fmt.Sprintf("expected integer, got %q", tok)}
	}
	return v, nil
}

func (t *textTokenizer) float() (float64, error) {
	tok, err := t.token()
	if err != nil {
		return 0, err
	}
	var v float64
	if _, err := fmt.Sscanf(tok, "%g", &v); err != nil {
		return 0, &SerializationError{Msg: fmt.Sprintf("expected float, got %q", tok)}
	}
	return v, nil
}
