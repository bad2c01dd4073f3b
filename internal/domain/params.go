package domain

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// param is one named knob inside a ParameterSet.
type param struct {
	name  string
	value float64
}

// ParameterSet is an immutable mapping of named numeric strategy knobs.
// Two sets with the same names and values have the same Key.
type ParameterSet struct {
	params []param // sorted by name
}

// NewParameterSet copies values into a new ParameterSet.
func NewParameterSet(values map[string]float64) ParameterSet {
	ps := ParameterSet{params: make([]param, 0, len(values))}
	for name, v := range values {
		ps.params = append(ps.params, param{name: name, value: v})
	}
	sort.Slice(ps.params, func(i, j int) bool {
		return ps.params[i].name < ps.params[j].name
	})
	return ps
}

// Get returns the value of the named knob.
func (ps ParameterSet) Get(name string) (float64, bool) {
	i := sort.Search(len(ps.params), func(i int) bool { return ps.params[i].name >= name })
	if i < len(ps.params) && ps.params[i].name == name {
		return ps.params[i].value, true
	}
	return 0, false
}

// Float returns the named knob or def when it is absent.
func (ps ParameterSet) Float(name string, def float64) float64 {
	if v, ok := ps.Get(name); ok {
		return v
	}
	return def
}

// Len returns the number of knobs.
func (ps ParameterSet) Len() int { return len(ps.params) }

// Names returns the knob names in sorted order.
func (ps ParameterSet) Names() []string {
	names := make([]string, len(ps.params))
	for i, p := range ps.params {
		names[i] = p.name
	}
	return names
}

// Map returns a copy of the knobs as a plain map.
func (ps ParameterSet) Map() map[string]float64 {
	m := make(map[string]float64, len(ps.params))
	for _, p := range ps.params {
		m[p.name] = p.value
	}
	return m
}

// Key is the canonical string form, usable as a map key for deduplication.
func (ps ParameterSet) Key() string {
	var sb strings.Builder
	for i, p := range ps.params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.name)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatFloat(p.value, 'g', -1, 64))
	}
	return sb.String()
}

// Equal reports whether both sets hold the same knobs with the same values.
func (ps ParameterSet) Equal(other ParameterSet) bool {
	return ps.Key() == other.Key()
}

func (ps ParameterSet) String() string {
	return "{" + ps.Key() + "}"
}

// MarshalJSON encodes the set as a JSON object.
func (ps ParameterSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ps.Map())
}

// UnmarshalJSON decodes a JSON object of numbers.
func (ps *ParameterSet) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*ps = NewParameterSet(m)
	return nil
}

// OptimizationResult is the scored outcome of one parameter set.
type OptimizationResult struct {
	Params         ParameterSet `json:"params"`
	ReturnPct      float64      `json:"return_pct"`
	Sharpe         float64      `json:"sharpe"`
	MaxDrawdownPct float64      `json:"max_drawdown_pct"`
	WinRatePct     float64      `json:"win_rate_pct"`
	Trades         int          `json:"trades"`

	// Index is the enumeration order of Params within its grid.
	Index int `json:"index"`
}

// ResultFromMetrics builds an OptimizationResult from a run's metrics.
func ResultFromMetrics(ps ParameterSet, index int, m Metrics) OptimizationResult {
	return OptimizationResult{
		Params:         ps,
		ReturnPct:      m.TotalReturnPct,
		Sharpe:         m.Sharpe,
		MaxDrawdownPct: m.MaxDrawdownPct(),
		WinRatePct:     m.WinRatePct,
		Trades:         m.TotalTrades,
		Index:          index,
	}
}
