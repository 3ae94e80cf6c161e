package sse

import (
	"context"
	"strings"

	"github.com/paxoscn/llmdispatch/llmcore"
)

// DefaultBufferThreshold is the accumulated-byte size at which
// BufferedStream flushes even without a finish_reason, per §4.2's
// buffering-variant bullet (b).
const DefaultBufferThreshold = 4096

// BufferedStream wraps inner, accumulating content and reasoning_content
// across successive chunks and re-emitting the accumulation as one
// chunk when any of §4.2's three triggers fires: (a) a finish_reason
// arrives, (b) the accumulated text reaches thresholdBytes, or (c) no
// further chunk is immediately available on inner. It never drops
// reasoning_content, finish_reason, or usage — ported from the Rust
// original's BufferedStream (original_source/.../streaming.rs), whose
// three-way flush condition (Poll::Ready(content)/size/Poll::Pending)
// maps directly onto a non-blocking channel receive here.
func BufferedStream(ctx context.Context, inner <-chan llmcore.ChatStreamChunk, thresholdBytes int) <-chan llmcore.ChatStreamChunk {
	if thresholdBytes <= 0 {
		thresholdBytes = DefaultBufferThreshold
	}
	out := make(chan llmcore.ChatStreamChunk)

	go func() {
		defer close(out)

		var content, reasoning strings.Builder

		flush := func(finish *llmcore.FinishReason, usage *llmcore.ChatUsage) bool {
			if content.Len() == 0 && reasoning.Len() == 0 && finish == nil && usage == nil {
				return true
			}
			chunk := llmcore.ChatStreamChunk{}
			if content.Len() > 0 {
				chunk.Content = content.String()
				chunk.HasContent = true
				content.Reset()
			}
			if reasoning.Len() > 0 {
				chunk.ReasoningContent = reasoning.String()
				chunk.HasReasoning = true
				reasoning.Reset()
			}
			if finish != nil {
				chunk.FinishReason = *finish
				chunk.HasFinishReason = true
			}
			if usage != nil {
				chunk.Usage = *usage
				chunk.HasUsage = true
			}
			return send(ctx, out, chunk)
		}

		accumulate := func(c llmcore.ChatStreamChunk) (terminal bool, finish *llmcore.FinishReason, usage *llmcore.ChatUsage) {
			if c.HasContent {
				content.WriteString(c.Content)
			}
			if c.HasReasoning {
				reasoning.WriteString(c.ReasoningContent)
			}
			if c.HasFinishReason {
				f := c.FinishReason
				finish = &f
				terminal = true
			}
			if c.HasUsage {
				u := c.Usage
				usage = &u
				terminal = true
			}
			return
		}

		sizeTrigger := func() bool {
			return content.Len()+reasoning.Len() >= thresholdBytes
		}

		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-inner:
				if !ok {
					flush(nil, nil)
					return
				}
				if chunk.Err != nil {
					flush(nil, nil)
					send(ctx, out, chunk)
					return
				}
				terminal, finish, usage := accumulate(chunk)
				if terminal || sizeTrigger() {
					if !flush(finish, usage) {
						return
					}
					if terminal {
						return
					}
					continue
				}

				// Trigger (c): drain whatever is immediately available
				// before falling back to a blocking wait, flushing as
				// soon as nothing more is ready without blocking.
			drain:
				for {
					select {
					case next, ok2 := <-inner:
						if !ok2 {
							flush(nil, nil)
							return
						}
						if next.Err != nil {
							flush(nil, nil)
							send(ctx, out, next)
							return
						}
						t2, f2, u2 := accumulate(next)
						if t2 || sizeTrigger() {
							if !flush(f2, u2) {
								return
							}
							if t2 {
								return
							}
						}
					default:
						if !flush(nil, nil) {
							return
						}
						break drain
					}
				}
			}
		}
	}()

	return out
}
