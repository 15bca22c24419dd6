package bailian

import (
	"context"
	"strings"
	"sync"

	"github.com/Dancing-Pierre/alibaba-bailian-api/audit"
	"github.com/Dancing-Pierre/alibaba-bailian-api/llm"
	"github.com/Dancing-Pierre/alibaba-bailian-api/memory"
)

// Stream is a single-use handle over one streaming exchange. Fragments
// arrive on Fragments() in model order; the channel closes when the
// exchange reaches a terminal state. After the close, Err reports nil
// for a completed stream or the abort cause, and Text returns the
// accumulated content.
//
// A completed stream commits the user turn and the aggregated assistant
// turn exactly once. An aborted or cancelled stream commits nothing and
// leaves an error record carrying the partial text in the audit log.
type Stream struct {
	out    chan llm.Fragment
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	err  error
	text string
}

func newStream(ctx context.Context, cancel context.CancelFunc, chat *Chat, mem *memory.Manager, aud *audit.Manager, requestID, message string, fragments <-chan llm.Fragment) *Stream {
	s := &Stream{
		out:    make(chan llm.Fragment),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.run(ctx, chat, mem, aud, requestID, message, fragments)
	return s
}

// Fragments returns the channel of content fragments. It is closed once
// the stream completes or aborts.
func (s *Stream) Fragments() <-chan llm.Fragment {
	return s.out
}

// Err blocks until the stream reaches a terminal state and returns nil
// on completion or the abort cause.
func (s *Stream) Err() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Text blocks until the stream reaches a terminal state and returns the
// accumulated content, partial if the stream aborted.
func (s *Stream) Text() string {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Cancel aborts the stream. No further fragments are delivered after it
// returns the stream to a terminal state; cancelling a finished stream
// is a no-op.
func (s *Stream) Cancel() {
	s.cancel()
}

func (s *Stream) run(ctx context.Context, chat *Chat, mem *memory.Manager, aud *audit.Manager, requestID, message string, fragments <-chan llm.Fragment) {
	defer close(s.done)
	defer close(s.out)
	defer s.cancel()

	var buf strings.Builder

	abort := func(cause error) {
		partial := buf.String()
		s.finish(partial, &ModelCallError{Err: cause})
		aud.RecordError(context.WithoutCancel(ctx), chat.key, requestID, map[string]any{
			"error":   cause.Error(),
			"partial": partial,
		})
	}

	for {
		select {
		case f, ok := <-fragments:
			if !ok {
				// The model collaborator closed without a terminal
				// fragment; treat it as completion.
				s.complete(ctx, chat, mem, aud, requestID, message, buf.String())
				return
			}
			if f.Err != nil {
				abort(f.Err)
				return
			}
			if f.Done {
				s.complete(ctx, chat, mem, aud, requestID, message, buf.String())
				return
			}

			buf.WriteString(f.Content)
			select {
			case s.out <- f:
			case <-ctx.Done():
				abort(ctx.Err())
				return
			}
		case <-ctx.Done():
			abort(ctx.Err())
			return
		}
	}
}

func (s *Stream) complete(ctx context.Context, chat *Chat, mem *memory.Manager, aud *audit.Manager, requestID, message, content string) {
	s.finish(content, nil)

	// Commits run even when the consumer cancelled after the terminal
	// fragment arrived.
	ctx = context.WithoutCancel(ctx)
	aud.RecordResponse(ctx, chat.key, requestID, map[string]any{
		"content": content,
		"stream":  true,
	})
	chat.commit(ctx, mem, message, content, nil)
}

func (s *Stream) finish(text string, err error) {
	s.mu.Lock()
	s.text = text
	s.err = err
	s.mu.Unlock()
}
