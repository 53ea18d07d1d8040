package parser

import (
	"bytes"
	"fmt"
	"io"
)

// Registry holds parsers in detection order
type Registry struct {
	parsers []Parser
	byName  map[string]Parser
}

// NewRegistry creates a registry; detection probes parsers in the given order
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{byName: make(map[string]Parser)}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// Register appends p. A later parser with the same name replaces the earlier
// one for explicit lookup but keeps its detection slot.
func (r *Registry) Register(p Parser) {
	if _, exists := r.byName[p.Name()]; !exists {
		r.parsers = append(r.parsers, p)
	} else {
		for i, existing := range r.parsers {
			if existing.Name() == p.Name() {
				r.parsers[i] = p
			}
		}
	}
	r.byName[p.Name()] = p
}

// Get returns the parser registered under name
func (r *Registry) Get(name string) (Parser, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return p, nil
}

// Detect returns the first parser whose Detect accepts header
func (r *Registry) Detect(header []byte) (Parser, error) {
	if len(header) > HeaderSize {
		header = header[:HeaderSize]
	}
	for _, p := range r.parsers {
		if p.Detect(header) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no parser recognised the file", ErrUnknownFormat)
}

// Resolve selects a parser explicitly when name is set, otherwise by detection
// over the head of data.
func (r *Registry) Resolve(name string, data []byte) (Parser, error) {
	if name != "" {
		return r.Get(name)
	}
	return r.Detect(data)
}

// Peek reads the header from rd and returns a reader that replays it
func Peek(rd io.Reader) ([]byte, io.Reader, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(rd, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	header = header[:n]
	return header, io.MultiReader(bytes.NewReader(header), rd), nil
}

// Names lists registered parsers in detection order
func (r *Registry) Names() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}
