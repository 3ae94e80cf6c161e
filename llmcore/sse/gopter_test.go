package sse

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// byteAtATimeReader hands an underlying string back one byte per Read
// call, whatever buffer size is passed in, simulating the caller-invisible
// way a real network socket hands bytes back regardless of how the
// writer framed them.
type byteAtATimeReader struct {
	remaining string
}

func (r *byteAtATimeReader) Read(p []byte) (int, error) {
	if len(r.remaining) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.remaining[:1])
	r.remaining = r.remaining[1:]
	return n, nil
}

func (r *byteAtATimeReader) Close() error { return nil }

// buildOpenAIStream renders contents as one OpenAI-shape SSE event per
// string, followed by [DONE].
func buildOpenAIStream(contents []string) string {
	var b strings.Builder
	for _, c := range contents {
		fmt.Fprintf(&b, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// TestSSE_PrefixIndependenceOfByteFraming is SPEC_FULL §8's
// prefix-independence property: however the underlying transport
// splits the bytes of a well-formed SSE stream across reads, the
// adapter's output is the same sequence of chunks.
func TestSSE_PrefixIndependenceOfByteFraming(t *testing.T) {
	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)

	contentGen := gen.AlphaString().SuchThat(func(s string) bool { return s != "" })

	props.Property("byte-at-a-time framing reproduces the same content sequence as a single read", prop.ForAll(
		func(contents []string) bool {
			raw := buildOpenAIStream(contents)

			ch := Stream(context.Background(), &byteAtATimeReader{remaining: raw})
			var got []string
			for chunk := range ch {
				if chunk.HasContent {
					got = append(got, chunk.Content)
				}
			}

			if len(got) != len(contents) {
				return false
			}
			for i := range contents {
				if got[i] != contents[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, contentGen),
	))

	props.TestingRun(t)
}

func TestSSE_PrefixIndependenceOfArbitrarySplitPoints(t *testing.T) {
	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)

	props.Property("splitting a fixed stream at any single byte offset still parses identically", prop.ForAll(
		func(splitAt int) bool {
			raw := buildOpenAIStream([]string{"hello", " world", "!"})
			if splitAt < 0 {
				splitAt = -splitAt
			}
			if len(raw) == 0 {
				return true
			}
			splitAt = splitAt % len(raw)

			r := io.MultiReader(strings.NewReader(raw[:splitAt]), strings.NewReader(raw[splitAt:]))
			ch := Stream(context.Background(), io.NopCloser(r))

			var content strings.Builder
			for chunk := range ch {
				if chunk.HasContent {
					content.WriteString(chunk.Content)
				}
			}
			return content.String() == "hello world!"
		},
		gen.IntRange(0, 10_000),
	))

	props.TestingRun(t)
}
