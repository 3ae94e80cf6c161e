package sse

import (
	"context"
	"io"

	"github.com/paxoscn/llmdispatch/llmcore"
)

// Stream adapts body (an SSE byte stream, already positioned at the
// start of the response) into a channel of llmcore.ChatStreamChunk per
// §4.2's non-buffering contract: one chunk per input event, terminating
// when either a [DONE] sentinel, or a chunk carrying finish_reason or
// usage, has been emitted — whichever comes first — or when the
// upstream body ends.
//
// The goroutine owns body exclusively and closes both body and the
// returned channel on every exit path, including context cancellation,
// matching the teacher's StreamSSE shape and SPEC_FULL §5's cancellation
// requirement.
func Stream(ctx context.Context, body io.ReadCloser) <-chan llmcore.ChatStreamChunk {
	out := make(chan llmcore.ChatStreamChunk)

	go func() {
		defer close(out)
		defer body.Close()

		events := make(chan rawEvent)
		go func() {
			defer close(events)
			readEvents(body, events)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.done {
					send(ctx, out, llmcore.ChatStreamChunk{FinishReason: llmcore.FinishStop, HasFinishReason: true})
					return
				}
				chunk, matched := parseChunk(ev.data)
				if !matched {
					continue
				}
				if !send(ctx, out, chunk) {
					return
				}
				if chunk.IsTerminal() {
					return
				}
			}
		}
	}()

	return out
}

// send delivers chunk on out, honoring cancellation. Returns false if
// the context was cancelled before the send completed.
func send(ctx context.Context, out chan<- llmcore.ChatStreamChunk, chunk llmcore.ChatStreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- chunk:
		return true
	}
}

// StreamError builds a single-chunk stream carrying err, for the "error
// before first chunk" case of §4.3's stream_chat failure column.
func StreamError(err error) <-chan llmcore.ChatStreamChunk {
	out := make(chan llmcore.ChatStreamChunk, 1)
	out <- llmcore.ChatStreamChunk{Err: err}
	close(out)
	return out
}
