package graphapi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNoPromptMetadata is returned for PNG files that carry no API-format workflow
var ErrNoPromptMetadata = errors.New("png does not contain prompt metadata")

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// chunk lengths above 2^31-1 are invalid PNG
const maxChunkLength = 1<<31 - 1

// GetPngMetadata returns the keyword -> text map of every tEXt chunk in the PNG
func GetPngMetadata(r io.Reader) (map[string]string, error) {
	header := make([]byte, 8)
	_, err := io.ReadFull(r, header)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(header, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	txtChunks := make(map[string]string)

	for {
		var length uint32
		err = binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if length > maxChunkLength {
			return nil, fmt.Errorf("chunk length %d out of range", length)
		}

		chunkType := make([]byte, 4)
		if _, err = io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}

		switch string(chunkType) {
		case "tEXt":
			// the buffer only grows as bytes arrive, whatever the header claims
			var buf bytes.Buffer
			if _, err = io.CopyN(&buf, r, int64(length)); err != nil {
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return nil, err
			}
			chunkData := buf.Bytes()

			keywordEnd := bytes.IndexByte(chunkData, 0)
			if keywordEnd == -1 {
				return nil, errors.New("malformed tEXt chunk")
			}
			txtChunks[string(chunkData[:keywordEnd])] = string(chunkData[keywordEnd+1:])
		case "IEND":
			return txtChunks, nil
		default:
			if _, err = io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// CRC
		if _, err = io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
	}

	return txtChunks, nil
}

// NewGraphFromPNGReader extracts the API-format workflow ComfyUI stores in the "prompt"
// text chunk of every image it saves. The "workflow" chunk holds the editor format and is not used.
func NewGraphFromPNGReader(r io.Reader) (*Graph, error) {
	metadata, err := GetPngMetadata(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}

	prompt, ok := metadata["prompt"]
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWorkflow, ErrNoPromptMetadata)
	}
	return NewGraphFromJsonString(prompt)
}

// NewGraphFromPNGFile extracts the API-format workflow from a PNG file
func NewGraphFromPNGFile(path string) (*Graph, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return NewGraphFromPNGReader(file)
}

// IsPNG reports whether data starts with the PNG signature
func IsPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngSignature)
}
