// Package gather defines the contract shared by market-data downloaders.
package gather

import (
	"context"
	"time"
)

// Gatherer downloads market data into a bar store.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one download and returns when it finishes or ctx ends.
	Run(ctx context.Context) error
}

// DateRange is an inclusive range of trading dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days the range covers.
func (r DateRange) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}
