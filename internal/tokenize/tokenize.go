// Package tokenize counts and slices text by token, using the same
// byte-pair encoding the embedding model's API counts against, so chunk
// size decisions match what the remote model actually bills and bounds.
package tokenize

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encoding is the BPE vocabulary shared by most OpenAI-compatible
// embedding endpoints (text-embedding-3-*, gpt-3.5/4 family).
const encoding = "cl100k_base"

var (
	once   sync.Once
	enc    *tiktoken.Tiktoken
	encErr error
)

func encoder() (*tiktoken.Tiktoken, error) {
	once.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encoding)
	})
	return enc, encErr
}

// Count returns the exact BPE token count for text. Falls back to a
// chars/4 estimate if the encoder cannot be loaded (e.g. offline without
// a cached vocabulary file), never erroring the caller out.
func Count(text string) int {
	e, err := encoder()
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(e.Encode(text, nil, nil))
}

// CountLines returns the per-line token count for text split on "\n",
// used by the chunker's accumulate-until-exceeds loop.
func CountLines(lines []string) []int {
	e, err := encoder()
	counts := make([]int, len(lines))
	for i, l := range lines {
		if err != nil {
			counts[i] = (len(l) + 3) / 4
			continue
		}
		counts[i] = len(e.Encode(l, nil, nil))
	}
	return counts
}
