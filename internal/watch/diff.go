package watch

import (
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// Changes is the symbol-level delta between two polls of one whale
type Changes struct {
	Opened []venue.PositionSample // in current, not in previous
	Closed []venue.PositionSample // in previous, not in current (previous sample)
}

type positionKey struct {
	symbol string
	market venue.Market
	side   venue.Side
}

// Diff compares the previous snapshot against the current position set and
// returns which (symbol, market, side) keys appeared and which disappeared.
// A side flip within one poll therefore closes the previous side and opens
// the new one. At most one entry per key in each direction; size changes
// within a held position are intentionally ignored.
func Diff(previous, current []venue.PositionSample) Changes {
	prev := make(map[positionKey]venue.PositionSample, len(previous))
	for _, p := range previous {
		prev[positionKey{p.Symbol, p.Market, p.Side}] = p
	}

	var ch Changes
	seen := make(map[positionKey]bool, len(current))
	for _, c := range current {
		k := positionKey{c.Symbol, c.Market, c.Side}
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, held := prev[k]; !held {
			ch.Opened = append(ch.Opened, c)
		}
	}
	for k, p := range prev {
		if !seen[k] {
			ch.Closed = append(ch.Closed, p)
		}
	}
	return ch
}
