// Package optimize searches strategy parameter space by exhaustive grid
// search and validates the winners with rolling walk-forward windows.
package optimize

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"tradelab/internal/domain"
)

// ParamRange is an inclusive start/stop/step range for one named knob.
type ParamRange struct {
	Name  string
	Start float64
	Stop  float64
	Step  float64
}

// RangeFrom builds a ParamRange from a [start, stop, step] triplet as it
// appears in configuration.
func RangeFrom(name string, triplet []float64) (ParamRange, error) {
	if len(triplet) != 3 {
		return ParamRange{}, fmt.Errorf("%w: %s must be [start, stop, step], got %v", domain.ErrInvalidConfig, name, triplet)
	}
	r := ParamRange{Name: name, Start: triplet[0], Stop: triplet[1], Step: triplet[2]}
	return r, r.validate()
}

func (r ParamRange) validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: parameter range without a name", domain.ErrInvalidConfig)
	case !(r.Step > 0):
		return fmt.Errorf("%w: %s step must be positive, got %v", domain.ErrInvalidConfig, r.Name, r.Step)
	case r.Stop < r.Start:
		return fmt.Errorf("%w: %s stop %v is below start %v", domain.ErrInvalidConfig, r.Name, r.Stop, r.Start)
	}
	return nil
}

// Values enumerates the range from Start to Stop inclusive. Values are
// rounded to ten decimals so 0.1 steps land on 0.3, not 0.30000000000000004.
func (r ParamRange) Values() []float64 {
	if r.validate() != nil {
		return nil
	}
	n := int(math.Floor((r.Stop-r.Start)/r.Step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round((r.Start+float64(i)*r.Step)*1e10) / 1e10
	}
	return out
}

// Grid returns the Cartesian product of ranges. The first range varies
// slowest, so the enumeration order is fixed for identical inputs. Sets
// that compare equal are kept once, at their first position. No ranges
// yields a single empty set, which runs a strategy with its defaults.
func Grid(ranges []ParamRange) ([]domain.ParameterSet, error) {
	seen := make(map[string]bool, len(ranges))
	for _, r := range ranges {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: parameter %s given twice", domain.ErrInvalidConfig, r.Name)
		}
		seen[r.Name] = true
	}

	combos := []map[string]float64{{}}
	for _, r := range ranges {
		values := r.Values()
		next := make([]map[string]float64, 0, len(combos)*len(values))
		for _, c := range combos {
			for _, v := range values {
				m := make(map[string]float64, len(c)+1)
				for k, x := range c {
					m[k] = x
				}
				m[r.Name] = v
				next = append(next, m)
			}
		}
		combos = next
	}

	sets := lo.Map(combos, func(m map[string]float64, _ int) domain.ParameterSet {
		return domain.NewParameterSet(m)
	})
	return lo.UniqBy(sets, domain.ParameterSet.Key), nil
}
