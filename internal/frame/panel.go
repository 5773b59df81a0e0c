// Package frame implements the (date, symbol)-indexed column table shared by
// the data providers and the backtest engine: a column store of float64
// slices over a sorted date index and an interned symbol table. Missing cells
// are NaN internally and reported as absent by accessors.
package frame

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quantrun/quantrun/internal/domain"
)

// Panel is an immutable two-level table keyed by (date, symbol). Dates are
// unique and ascending; cell addressing is dateIdx*len(symbols)+symIdx.
type Panel struct {
	dates   []time.Time
	symbols []string
	symIdx  map[string]int
	columns map[string][]float64
	order   []string
}

// Builder accumulates cells and freezes them into a Panel.
type Builder struct {
	cells   map[string]map[cellKey]float64
	order   []string
	dates   map[time.Time]struct{}
	symbols map[string]struct{}
	symSeen []string
}

type cellKey struct {
	date   time.Time
	symbol string
}

// NewBuilder starts an empty builder. Columns are registered lazily on first
// Set, preserving first-seen order.
func NewBuilder() *Builder {
	return &Builder{
		cells:   make(map[string]map[cellKey]float64),
		dates:   make(map[time.Time]struct{}),
		symbols: make(map[string]struct{}),
	}
}

// Set records one cell. Later writes to the same (date, symbol, column) win.
func (b *Builder) Set(date time.Time, symbol, column string, value float64) {
	date = domain.DayOf(date)
	col, ok := b.cells[column]
	if !ok {
		col = make(map[cellKey]float64)
		b.cells[column] = col
		b.order = append(b.order, column)
	}
	col[cellKey{date, symbol}] = value
	b.dates[date] = struct{}{}
	if _, seen := b.symbols[symbol]; !seen {
		b.symbols[symbol] = struct{}{}
		b.symSeen = append(b.symSeen, symbol)
	}
}

// Build freezes the accumulated cells into a Panel. Dates sort ascending;
// symbols keep first-seen order.
func (b *Builder) Build() *Panel {
	dates := make([]time.Time, 0, len(b.dates))
	for d := range b.dates {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	symbols := append([]string(nil), b.symSeen...)
	symIdx := make(map[string]int, len(symbols))
	for i, s := range symbols {
		symIdx[s] = i
	}

	n := len(dates) * len(symbols)
	columns := make(map[string][]float64, len(b.cells))
	for name, cells := range b.cells {
		col := make([]float64, n)
		for i := range col {
			col[i] = math.NaN()
		}
		for i, d := range dates {
			for j, s := range symbols {
				if v, ok := cells[cellKey{d, s}]; ok {
					col[i*len(symbols)+j] = v
				}
			}
		}
		columns[name] = col
	}

	return &Panel{
		dates:   dates,
		symbols: symbols,
		symIdx:  symIdx,
		columns: columns,
		order:   append([]string(nil), b.order...),
	}
}

// Empty returns a panel with no dates, symbols or columns.
func Empty() *Panel {
	return &Panel{symIdx: map[string]int{}, columns: map[string][]float64{}}
}

// IsEmpty reports whether the panel has no rows.
func (p *Panel) IsEmpty() bool { return len(p.dates) == 0 || len(p.symbols) == 0 }

// Dates returns the ascending unique date index.
func (p *Panel) Dates() []time.Time { return p.dates }

// Symbols returns the symbol table in first-seen order.
func (p *Panel) Symbols() []string { return p.symbols }

// Columns returns the column names in first-seen order.
func (p *Panel) Columns() []string { return p.order }

// HasColumn reports whether the panel carries the named column.
func (p *Panel) HasColumn(name string) bool {
	_, ok := p.columns[name]
	return ok
}

func (p *Panel) dateIndex(date time.Time) (int, bool) {
	date = domain.DayOf(date)
	i := sort.Search(len(p.dates), func(i int) bool { return !p.dates[i].Before(date) })
	if i < len(p.dates) && p.dates[i].Equal(date) {
		return i, true
	}
	return 0, false
}

// Value returns the cell at (date, symbol, column). ok is false when the
// cell is absent or not finite.
func (p *Panel) Value(date time.Time, symbol, column string) (float64, bool) {
	di, ok := p.dateIndex(date)
	if !ok {
		return 0, false
	}
	si, ok := p.symIdx[symbol]
	if !ok {
		return 0, false
	}
	col, ok := p.columns[column]
	if !ok {
		return 0, false
	}
	v := col[di*len(p.symbols)+si]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// SymbolSeries returns the column values for one symbol aligned with Dates();
// missing cells are NaN.
func (p *Panel) SymbolSeries(symbol, column string) []float64 {
	si, ok := p.symIdx[symbol]
	if !ok {
		return nil
	}
	col, ok := p.columns[column]
	if !ok {
		return nil
	}
	out := make([]float64, len(p.dates))
	for i := range p.dates {
		out[i] = col[i*len(p.symbols)+si]
	}
	return out
}

// Slice restricts the panel to dates within [start, end] inclusive. Zero
// bounds are open. Columns share backing storage with the parent.
func (p *Panel) Slice(start, end time.Time) *Panel {
	lo, hi := 0, len(p.dates)
	if !start.IsZero() {
		s := domain.DayOf(start)
		lo = sort.Search(len(p.dates), func(i int) bool { return !p.dates[i].Before(s) })
	}
	if !end.IsZero() {
		e := domain.DayOf(end)
		hi = sort.Search(len(p.dates), func(i int) bool { return p.dates[i].After(e) })
	}
	if lo >= hi {
		return Empty()
	}
	cols := make(map[string][]float64, len(p.columns))
	w := len(p.symbols)
	for name, col := range p.columns {
		cols[name] = col[lo*w : hi*w]
	}
	return &Panel{
		dates:   p.dates[lo:hi],
		symbols: p.symbols,
		symIdx:  p.symIdx,
		columns: cols,
		order:   p.order,
	}
}

// Snapshot returns the single-date view at the given index date.
func (p *Panel) Snapshot(date time.Time) (Snapshot, error) {
	di, ok := p.dateIndex(date)
	if !ok {
		return Snapshot{}, fmt.Errorf("no row for date %s: %w",
			domain.FormatDate(date), domain.ErrInvalidInput)
	}
	return Snapshot{panel: p, dateIdx: di, Date: p.dates[di]}, nil
}

// At returns the snapshot at position i of the date index.
func (p *Panel) At(i int) Snapshot {
	return Snapshot{panel: p, dateIdx: i, Date: p.dates[i]}
}

// Snapshot is a single-date view over a Panel, indexed by symbol.
type Snapshot struct {
	panel   *Panel
	dateIdx int
	Date    time.Time
}

// Symbols returns the panel's symbol table.
func (s Snapshot) Symbols() []string { return s.panel.symbols }

// Value returns the cell for (symbol, column) on the snapshot date; ok is
// false when absent or not finite.
func (s Snapshot) Value(symbol, column string) (float64, bool) {
	si, ok := s.panel.symIdx[symbol]
	if !ok {
		return 0, false
	}
	col, ok := s.panel.columns[column]
	if !ok {
		return 0, false
	}
	v := col[s.dateIdx*len(s.panel.symbols)+si]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Price resolves a usable price for symbol: the primary column first, then
// the fallback. Non-positive values count as unavailable.
func (s Snapshot) Price(symbol, field, fallback string) (float64, bool) {
	if v, ok := s.Value(symbol, field); ok && v > 0 {
		return v, true
	}
	if fallback != "" && fallback != field {
		if v, ok := s.Value(symbol, fallback); ok && v > 0 {
			return v, true
		}
	}
	return 0, false
}
