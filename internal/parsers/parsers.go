// Package parsers assembles the statement parser registry
package parsers

import (
	"github.com/Dan9191/bank-feed/internal/parser"
	"github.com/Dan9191/bank-feed/internal/parsers/camt"
	"github.com/Dan9191/bank-feed/internal/parsers/csv"
	"github.com/Dan9191/bank-feed/internal/parsers/mt940"
	"github.com/Dan9191/bank-feed/internal/parsers/ofx"
)

// NewRegistry registers the structured formats first, then one CSV parser
// per layout. A nil layouts slice uses the built-in layouts.
func NewRegistry(layouts []csv.Layout) (*parser.Registry, error) {
	if layouts == nil {
		layouts = csv.DefaultLayouts()
	}
	csvParsers, err := csv.NewParsers(layouts)
	if err != nil {
		return nil, err
	}

	reg := parser.NewRegistry(mt940.NewParser(), camt.NewParser(), ofx.NewParser())
	for _, p := range csvParsers {
		reg.Register(p)
	}
	return reg, nil
}
