// Package ingest holds the text processing pipeline that turns raw source
// content into embeddable chunks: extraction, normalization and windowing.
package ingest

// Piece is one window of text produced by the chunker. Offsets are rune
// positions into the normalized document, end exclusive.
type Piece struct {
	Text        string
	StartOffset int
	EndOffset   int
}

// Chunker splits text into fixed-size windows with overlap. Window and
// overlap are measured in runes so multi-byte text chunks evenly.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	return &Chunker{size: size, overlap: overlap}
}

// Split windows the text. Consecutive pieces overlap by the configured
// amount; when overlap >= size the start still advances by at least one rune
// per iteration, so Split always terminates. Empty input yields no pieces.
func (c *Chunker) Split(text string) []Piece {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var pieces []Piece
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, Piece{
			Text:        string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})
		if end >= len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			start += max(1, c.size-c.overlap)
		} else {
			start = next
		}
	}
	return pieces
}
