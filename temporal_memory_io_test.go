package htm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildSampleTemporalMemory() *TemporalMemory {
	tm, _ := NewTemporalMemory(defaultTestParams())
	tm.Compute([]int{0}, true)
	tm.Compute([]int{1}, true)
	return tm
}

func TestTemporalMemoryTextualSaveLoadRoundTrip(t *testing.T) {
	tm := buildSampleTemporalMemory()

	var buf bytes.Buffer
	assert.NoError(t, tm.Save(&buf))

	loaded, err := NewTemporalMemory(defaultTestParams())
	assert.NoError(t, err)
	assert.NoError(t, loaded.Load(&buf))

	assert.True(t, tm.Equal(loaded))
}

func TestTemporalMemoryBinaryWriteReadRoundTrip(t *testing.T) {
	tm := buildSampleTemporalMemory()

	var buf bytes.Buffer
	assert.NoError(t, tm.Write(&buf))

	loaded, err := NewTemporalMemory(defaultTestParams())
	assert.NoError(t, err)
	assert.NoError(t, loaded.Read(&buf))

	assert.True(t, tm.Equal(loaded))
}

func TestTemporalMemoryLoadRejectsWrongMarker(t *testing.T) {
	buf := bytes.NewBufferString("NotTemporalMemory\n2\n")
	loaded, _ := NewTemporalMemory(defaultTestParams())
	err := loaded.Load(buf)
	assert.Error(t, err)
	_, ok := err.(*SerializationError)
	assert.True(t, ok)
}

func TestTemporalMemoryLoadRejectsFutureVersion(t *testing.T) {
	tm := buildSampleTemporalMemory()
	var buf bytes.Buffer
	assert.NoError(t, tm.Save(&buf))

	patched := bytes.Replace(buf.Bytes(), []byte("TemporalMemory\n2\n"), []byte("TemporalMemory\n999\n"), 1)

	loaded, _ := NewTemporalMemory(defaultTestParams())
	err := loaded.Load(bytes.NewReader(patched))
	assert.Error(t, err)
}

func TestTemporalMemoryLoadPreservesActiveAndWinnerCells(t *testing.T) {
	tm := buildSampleTemporalMemory()

	var buf bytes.Buffer
	assert.NoError(t, tm.Save(&buf))

	loaded, err := NewTemporalMemory(defaultTestParams())
	assert.NoError(t, err)
	assert.NoError(t, loaded.Load(&buf))

	assert.Equal(t, tm.GetActiveCells(), loaded.GetActiveCells())
	assert.Equal(t, tm.GetWinnerCells(), loaded.GetWinnerCells())
}
