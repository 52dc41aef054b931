package chunker

import "strings"

const DefaultChunkTokens = 500

// Chunk splits text into pieces of at most size whitespace-delimited
// tokens. Empty input yields no chunks.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkTokens
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(tokens)+size-1)/size)
	for i := 0; i < len(tokens); i += size {
		end := i + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[i:end], " "))
	}
	return chunks
}
