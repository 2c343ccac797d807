package main

import (
	"encoding/json"
	"time"

	"github.com/raffel-dev/raffel/core"
)

// registerDemoProcedures wires a handful of illustrative handlers so
// raffeld is runnable out of the box: a request/response echo, a stream
// that ticks on an interval, and a fire-and-forget event. Embedding
// applications register their own procedures against a core.Registry the
// same way and pass it to server.New instead of this one.
func registerDemoProcedures(registry *core.Registry) error {
	if err := registry.RegisterProcedure("echo", echoProcedure); err != nil {
		return err
	}
	if err := registry.RegisterStream("ticks", tickStream); err != nil {
		return err
	}
	if err := registry.RegisterEvent("ping", pingEvent); err != nil {
		return err
	}
	return nil
}

func echoProcedure(ctx *core.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

type tickInput struct {
	Count      int `json:"count"`
	IntervalMs int `json:"interval_ms"`
}

func tickStream(ctx *core.Context, payload []byte) (*core.Stream, error) {
	var in tickInput
	_ = json.Unmarshal(payload, &in)
	if in.Count <= 0 {
		in.Count = 10
	}
	if in.IntervalMs <= 0 {
		in.IntervalMs = 1000
	}

	stream, items := core.NewStream(0)
	go func() {
		defer close(items)
		ticker := time.NewTicker(time.Duration(in.IntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for i := 1; i <= in.Count; i++ {
			select {
			case <-ticker.C:
			case <-stream.Done():
				return
			}
			b, _ := json.Marshal(map[string]any{"sequence": i, "at": time.Now().UTC().Format(time.RFC3339)})
			select {
			case items <- core.StreamItem{Payload: b}:
			case <-stream.Done():
				return
			}
		}
	}()
	return stream, nil
}

func pingEvent(ctx *core.Context, payload []byte) error {
	return nil
}
