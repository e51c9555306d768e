// Package explain answers legal questions from retrieved law chunks.
package explain

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Corpus is the retrieval corpus holding law chunks.
const Corpus = "laws"

// Chunk is one pre-processed slice of a legal document.
type Chunk struct {
	ID       string         `json:"chunk_id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// LoadChunks reads a JSON array of chunks. Chunks without an id or text are
// rejected.
func LoadChunks(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reading chunks %s", path)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, eris.Wrapf(err, "decoding chunks %s", path)
	}
	for i, c := range chunks {
		if strings.TrimSpace(c.ID) == "" {
			return nil, eris.Errorf("chunk %d has no chunk_id", i)
		}
		if strings.TrimSpace(c.Text) == "" {
			return nil, eris.Errorf("chunk %s has no text", c.ID)
		}
	}
	return chunks, nil
}

// stringMetadata flattens chunk metadata into the string map the vector
// index stores. Nested values are JSON-encoded.
func stringMetadata(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		case float64, bool:
			out[k] = fmt.Sprint(val)
		default:
			if b, err := json.Marshal(val); err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}
