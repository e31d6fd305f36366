package text

import (
	"fmt"
	"regexp"
	"strings"

	"pdfsearch/internal/apperr"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Chunk is a window of normalized document text. Sizes and offsets are
// counted in runes.
type Chunk struct {
	ID      string
	Ordinal int
	Text    string
	Start   int
}

// ChunkID is the record id shared by the vector index and the metadata
// store: "{file_name}_{ordinal}".
func ChunkID(fileName string, ordinal int) string {
	return fmt.Sprintf("%s_%d", fileName, ordinal)
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Normalize canonicalizes extracted PDF text before chunking: unix line
// endings, no NUL or form feeds, no trailing blanks and at most one empty
// line in a row.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Split cuts normalized text into windows of size runes, each starting
// size-overlap runes after the previous one. The final window ends at the
// end of the text; a window that would add nothing new is never emitted.
func Split(fileName, content string, size, overlap int) ([]Chunk, error) {
	if size <= 0 {
		return nil, apperr.Validation("chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		return nil, apperr.Validation("chunk overlap must be in [0, size)")
	}

	runes := []rune(Normalize(content))
	if len(runes) == 0 {
		return []Chunk{}, nil
	}

	step := size - overlap
	chunks := make([]Chunk, 0, (len(runes)+step-1)/step)
	for start := 0; ; start += step {
		end := min(start+size, len(runes))
		ordinal := len(chunks)
		chunks = append(chunks, Chunk{
			ID:      ChunkID(fileName, ordinal),
			Ordinal: ordinal,
			Text:    string(runes[start:end]),
			Start:   start,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// Reconstruct reverses Split: the first chunk whole, then every later
// chunk without its leading overlap.
func Reconstruct(chunks []Chunk, overlap int) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i == 0 {
			sb.WriteString(c.Text)
			continue
		}
		r := []rune(c.Text)
		if overlap < len(r) {
			sb.WriteString(string(r[overlap:]))
		}
	}
	return sb.String()
}
