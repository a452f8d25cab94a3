// Package stream serializes the engine's internal event sequence into the
// line-delimited wire protocol consumed by clients: one JSON object per
// logical event, each frame terminated by a blank line, closed by a typed
// terminator frame plus a bare [DONE] sentinel for clients that expect one.
//
// The encoder matches the closed core.Event union exhaustively; an event kind
// it does not know is a programming error and is reported rather than written
// as a malformed frame.
package stream

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hupe1980/agentrelay/core"
)

// Frame type tags of the wire protocol.
const (
	frameTextStart      = "text-start"
	frameRoute          = "route"
	frameModel          = "model"
	frameTextDelta      = "text-delta"
	frameToolInvocation = "tool-invocation"
	frameFinish         = "finish"
	frameError          = "error"
	frameDone           = "[DONE]"
)

// doneSentinel is the bare terminator emitted after the typed [DONE] frame.
const doneSentinel = "[DONE]"

// Options configure an Encoder.
type Options struct {
	// Flush is invoked after every frame; wire it to http.Flusher.Flush for
	// real-time delivery.
	Flush func()
}

// Encoder writes the wire framing for one execution. It is single-writer by
// design: the event sink already serializes emission order, so the encoder
// needs no locking of its own.
type Encoder struct {
	w        io.Writer
	flush    func()
	started  bool
	finished bool
}

// NewEncoder creates an encoder over w.
func NewEncoder(w io.Writer, optFns ...func(o *Options)) *Encoder {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Encoder{w: w, flush: opts.Flush}
}

// Start writes the single text-start frame opening the stream.
func (e *Encoder) Start() error {
	if e.started {
		return fmt.Errorf("stream already started")
	}
	e.started = true
	return e.writeFrame(map[string]string{"type": frameTextStart})
}

// Encode writes the wire frame for ev. Start must have been called first.
func (e *Encoder) Encode(ev core.Event) error {
	if !e.started {
		return fmt.Errorf("stream not started")
	}
	if e.finished {
		return fmt.Errorf("stream already finished")
	}

	switch v := ev.(type) {
	case core.RouteEvent:
		return e.writeFrame(struct {
			Type string `json:"type"`
			core.RouteEvent
		}{frameRoute, v})
	case core.ModelSelectedEvent:
		return e.writeFrame(struct {
			Type string `json:"type"`
			core.ModelSelectedEvent
		}{frameModel, v})
	case core.TextDeltaEvent:
		return e.writeFrame(struct {
			Type string `json:"type"`
			core.TextDeltaEvent
		}{frameTextDelta, v})
	case core.ToolInvocationEvent:
		return e.writeFrame(struct {
			Type           string                   `json:"type"`
			ToolInvocation core.ToolInvocationEvent `json:"toolInvocation"`
		}{frameToolInvocation, v})
	case core.FinishEvent:
		return e.writeFrame(struct {
			Type string `json:"type"`
			core.FinishEvent
		}{frameFinish, v})
	case core.ErrorEvent:
		return e.writeFrame(struct {
			Type string `json:"type"`
			core.ErrorEvent
		}{frameError, v})
	default:
		return fmt.Errorf("unknown event type %T", ev)
	}
}

// Done writes the typed terminator frame followed by the bare [DONE]
// sentinel. Calling Done more than once is a no-op.
func (e *Encoder) Done() error {
	if e.finished {
		return nil
	}
	e.finished = true

	if err := e.writeFrame(map[string]string{"type": frameDone}); err != nil {
		return err
	}

	if _, err := io.WriteString(e.w, doneSentinel+"\n\n"); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}
	if e.flush != nil {
		e.flush()
	}
	return nil
}

func (e *Encoder) writeFrame(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := e.w.Write(append(b, '\n', '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if e.flush != nil {
		e.flush()
	}
	return nil
}
