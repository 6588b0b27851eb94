package pipeline

import (
	"iter"
	"strings"
	"unicode"
)

// Chunks splits text into word-boundary-respecting pieces of at most
// maxChunkSize characters. Words accumulate greedily into a chunk until
// the next word would overflow it. A single word longer than
// maxChunkSize is emitted alone, unshortened. Joining the chunks with
// single spaces reproduces the input's word sequence exactly.
//
// The sequence is lazy and restartable: ranging over it twice yields the
// same chunks. Empty or all-whitespace input yields no chunks.
func Chunks(text string, maxChunkSize int) iter.Seq[string] {
	return func(yield func(string) bool) {
		var b strings.Builder
		for word := range words(text) {
			if b.Len() == 0 {
				b.WriteString(word)
				continue
			}
			if b.Len()+1+len(word) > maxChunkSize {
				if !yield(b.String()) {
					return
				}
				b.Reset()
				b.WriteString(word)
				continue
			}
			b.WriteByte(' ')
			b.WriteString(word)
		}
		if b.Len() > 0 {
			yield(b.String())
		}
	}
}

// Split collects Chunks into a slice.
func Split(text string, maxChunkSize int) []string {
	var chunks []string
	for c := range Chunks(text, maxChunkSize) {
		chunks = append(chunks, c)
	}
	return chunks
}

// words iterates the whitespace-delimited words of s without splitting
// the whole string up front.
func words(s string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := -1
		for i, r := range s {
			if unicode.IsSpace(r) {
				if start >= 0 {
					if !yield(s[start:i]) {
						return
					}
					start = -1
				}
				continue
			}
			if start < 0 {
				start = i
			}
		}
		if start >= 0 {
			yield(s[start:])
		}
	}
}
