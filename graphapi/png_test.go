package graphapi

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChunk(buf *bytes.Buffer, chunkType string, data []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.WriteString(chunkType)
	buf.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(chunkType))
	crc.Write(data)
	binary.Write(buf, binary.BigEndian, crc.Sum32())
}

func buildPNG(texts map[string]string) []byte {
	buf := &bytes.Buffer{}
	buf.Write(pngSignature)

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], 1)
	binary.BigEndian.PutUint32(ihdr[4:], 1)
	ihdr[8] = 8
	ihdr[9] = 2
	writeChunk(buf, "IHDR", ihdr)

	for k, v := range texts {
		writeChunk(buf, "tEXt", append(append([]byte(k), 0), []byte(v)...))
	}
	writeChunk(buf, "IDAT", []byte{0x78, 0x9c, 0x62, 0x00, 0x00})
	writeChunk(buf, "IEND", nil)
	return buf.Bytes()
}

func TestNewGraphFromPNGReader(t *testing.T) {
	workflow, err := os.ReadFile("testdata/txt2img_api.json")
	require.NoError(t, err)

	data := buildPNG(map[string]string{
		"prompt":   string(workflow),
		"workflow": `{"last_node_id": 9, "nodes": []}`,
	})
	assert.True(t, IsPNG(data))

	g, err := NewGraphFromPNGReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 7, g.Len())
	assert.Equal(t, "KSampler", g.GetNodeById("3").ClassType)
}

func TestNewGraphFromPNGWithoutPrompt(t *testing.T) {
	data := buildPNG(map[string]string{"parameters": "steps: 20"})

	g, err := NewGraphFromPNGReader(bytes.NewReader(data))
	assert.Nil(t, g)
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
	assert.ErrorIs(t, err, ErrNoPromptMetadata)
}

func TestGetPngMetadataRejectsNonPNG(t *testing.T) {
	_, err := GetPngMetadata(bytes.NewReader([]byte(`{"3": {}}`)))
	assert.Error(t, err)
	assert.False(t, IsPNG([]byte(`{"3": {}}`)))
}

func TestGetPngMetadataStopsAtIEND(t *testing.T) {
	data := buildPNG(map[string]string{"prompt": "x"})
	data = append(data, []byte("trailing garbage")...)

	metadata, err := GetPngMetadata(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"prompt": "x"}, metadata)
}

func truncatedTextChunk(length uint32) []byte {
	buf := &bytes.Buffer{}
	buf.Write(pngSignature)
	binary.Write(buf, binary.BigEndian, length)
	buf.WriteString("tEXt")
	buf.WriteString("prompt\x00{")
	return buf.Bytes()
}

func TestGetPngMetadataHugeTextChunk(t *testing.T) {
	data := truncatedTextChunk(1 << 30)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := GetPngMetadata(bytes.NewReader(data))
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestGetPngMetadataRejectsOutOfRangeLength(t *testing.T) {
	_, err := GetPngMetadata(bytes.NewReader(truncatedTextChunk(1 << 31)))
	assert.ErrorContains(t, err, "out of range")
}
