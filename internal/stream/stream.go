// Package stream presents one pipeline invocation as an ordered event
// sequence: started, zero or more deltas, then exactly one done or error.
// The gateway never retries on its own; the single-shot endpoint is the
// caller's retry path.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/macroscope-ai/macroscope/internal/flowctx"
	"github.com/macroscope-ai/macroscope/internal/synth"
)

type EventType string

const (
	EventStarted EventType = "started"
	EventDelta   EventType = "delta"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one NDJSON line of the stream. done carries the full answer.
type Event struct {
	Type      EventType             `json:"type"`
	FlowRunID string                `json:"flow_run_id,omitempty"`
	Text      string                `json:"text,omitempty"`
	Answer    *synth.AnswerResponse `json:"answer,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Write encodes one event as an NDJSON line.
func Write(w io.Writer, e Event) error {
	return json.NewEncoder(w).Encode(e)
}

// Gateway chunks a finished answer into delta events. Single producer,
// single consumer per request.
type Gateway struct {
	chunkSize int
}

// NewGateway creates a gateway emitting deltas of roughly chunkSize bytes.
func NewGateway(chunkSize int) *Gateway {
	if chunkSize <= 0 {
		chunkSize = 48
	}
	return &Gateway{chunkSize: chunkSize}
}

// Stream runs produce and emits its outcome as events. The channel always
// closes after a terminal event or after the consumer cancels; cancellation
// after done is a no-op.
func (g *Gateway) Stream(ctx context.Context, produce func(context.Context) (*synth.AnswerResponse, error)) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		send := func(e Event) bool {
			if ctx.Err() != nil {
				return false
			}
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		started := Event{Type: EventStarted}
		if f, ok := flowctx.From(ctx); ok {
			started.FlowRunID = f.RunID
		}
		if !send(started) {
			return
		}

		ans, err := produce(ctx)
		if err != nil {
			send(Event{Type: EventError, Error: err.Error()})
			return
		}
		for _, chunk := range Chunk(ans.Text, g.chunkSize) {
			if !send(Event{Type: EventDelta, Text: chunk}) {
				return
			}
		}
		send(Event{Type: EventDone, Answer: ans})
	}()
	return out
}

// Chunk splits text into pieces of roughly size bytes without breaking
// words. Concatenating the chunks reproduces the input exactly.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = 48
	}
	var out []string
	for len(text) > size {
		cut := strings.LastIndexByte(text[:size+1], ' ')
		if cut <= 0 {
			next := strings.IndexByte(text[size:], ' ')
			if next < 0 {
				break
			}
			cut = size + next
		}
		out = append(out, text[:cut+1])
		text = text[cut+1:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
