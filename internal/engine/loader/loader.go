// Package loader builds a Pipeline from a declarative JSON graph
// description: a "modules" object naming and configuring each filter, and
// a "connections" array wiring their ports together.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/streamgraph-io/streamgraph/internal/engine/filter"
	"github.com/streamgraph-io/streamgraph/internal/engine/pipeline"
	"github.com/streamgraph-io/streamgraph/pkg/ordermap"
)

// SupportedVersion is the only graph-document version this loader accepts.
const SupportedVersion = 1

// Factory instantiates a filter.Module for the named module type, given its
// decoded config object. Callers own the registry of known module types;
// the loader only dispatches to it.
type Factory func(moduleType string, config map[string]any) (filter.Module, error)

type rawModule struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

type rawDoc struct {
	Version     int                  `json:"version"`
	Modules     map[string]rawModule `json:"modules"`
	Connections []json.RawMessage    `json:"connections"`
}

// pin is one endpoint of a connection entry: a module name plus a port
// index on that module.
type pin struct {
	module string
	index  int
}

// Load parses data as a graph document, instantiates every module via
// factory, adds each to p, and wires every connection in document order.
// It returns the filter handles keyed by their module name, so the caller
// can look up a particular filter (e.g. to attach I/O) after loading.
func Load(p *pipeline.Pipeline, data []byte, factory Factory) (map[string]*filter.Filter, error) {
	var doc rawDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("loader: invalid JSON: %w", err)
	}
	if doc.Version != SupportedVersion {
		return nil, fmt.Errorf("loader: unsupported graph version %d, want %d", doc.Version, SupportedVersion)
	}

	handles := make(map[string]*filter.Filter, len(doc.Modules))
	for name, m := range doc.Modules {
		cfg := map[string]any{}
		if len(m.Config) > 0 {
			if err := json.Unmarshal(m.Config, &cfg); err != nil {
				return nil, fmt.Errorf("loader: module %q: invalid config: %w", name, err)
			}
		}
		mod, err := factory(m.Type, cfg)
		if err != nil {
			return nil, fmt.Errorf("loader: module %q: %w", name, err)
		}
		handles[name] = p.AddModule(name, mod)
	}

	for i, raw := range doc.Connections {
		pins, err := decodeConnectionPins(raw)
		if err != nil {
			return nil, fmt.Errorf("loader: connection %d: %w", i, err)
		}
		if len(pins) < 2 {
			return nil, fmt.Errorf("loader: connection %d: needs a source pin and at least one destination pin", i)
		}

		srcPin := pins[0]
		srcFilter, ok := handles[srcPin.module]
		if !ok {
			return nil, fmt.Errorf("loader: connection %d: unknown module %q", i, srcPin.module)
		}
		out := pipeline.OutputPin{Filter: srcFilter, Index: srcPin.index}

		for _, dstPin := range pins[1:] {
			dstFilter, ok := handles[dstPin.module]
			if !ok {
				return nil, fmt.Errorf("loader: connection %d: unknown module %q", i, dstPin.module)
			}
			in := pipeline.InputPin{Filter: dstFilter, Index: dstPin.index}
			if err := p.Connect(out, in, false); err != nil {
				return nil, fmt.Errorf("loader: connection %d: %s:%d -> %s:%d: %w",
					i, srcPin.module, srcPin.index, dstPin.module, dstPin.index, err)
			}
		}
	}

	return handles, nil
}

// decodeConnectionPins reads a connection entry — a JSON object whose keys
// are module names and whose values are port indices — preserving key
// order via a streaming token scan, since the first key is the source pin
// and the rest are destinations. encoding/json's map decoding does not
// preserve source order, so a plain map[string]int cannot express this;
// ordermap.Map gives the same ordered-iteration guarantee here that it
// gives the signal/slot core for subscriber emit order.
func decodeConnectionPins(raw json.RawMessage) ([]pin, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("connection entry must be a JSON object")
	}

	var ordered ordermap.Map[pin]
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("connection key must be a string")
		}
		var index int
		if err := dec.Decode(&index); err != nil {
			return nil, fmt.Errorf("pin %q: %w", key, err)
		}
		ordered.Insert(pin{module: key, index: index})
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, err
	}

	pins := make([]pin, 0, ordered.Len())
	ordered.Range(func(_ int, p pin) { pins = append(pins, p) })
	return pins, nil
}
