package footprint

import "fmt"

// Grouping is the runtime table of footprint price widths per timeframe.
type Grouping struct {
	widths map[Timeframe]float64
}

// NewGrouping starts from the timeframe defaults and applies overrides on top.
func NewGrouping(overrides map[string]float64) (*Grouping, []error) {
	g := &Grouping{widths: make(map[Timeframe]float64, len(validTimeframes))}
	for tf, meta := range validTimeframes {
		g.widths[tf] = meta.DefaultGrouping
	}
	errs := g.Merge(overrides)
	return g, errs
}

// Merge updates the given timeframes and leaves the rest untouched. Unknown keys and
// non-positive widths are skipped and reported.
func (g *Grouping) Merge(update map[string]float64) []error {
	var errs []error
	for key, width := range update {
		tf, err := ParseTimeframe(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if width <= 0 {
			errs = append(errs, fmt.Errorf("grouping for %s must be positive, got %v", tf, width))
			continue
		}
		g.widths[tf] = width
	}
	return errs
}

// Width returns the grouping for tf, falling back to 1 for anything unusable.
func (g *Grouping) Width(tf Timeframe) float64 {
	if w, ok := g.widths[tf]; ok && w > 0 {
		return w
	}
	return 1
}

// Snapshot copies the table keyed by wire name.
func (g *Grouping) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(g.widths))
	for tf, w := range g.widths {
		out[string(tf)] = w
	}
	return out
}
