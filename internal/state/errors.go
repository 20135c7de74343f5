package state

import (
	"errors"
	"fmt"
)

// ErrZeroMargin is returned when a leverage computation would divide by a
// zero remaining margin.
var ErrZeroMargin = errors.New("remaining margin is zero, leverage undefined")

// MissingFundingSnapshotError is returned when a position modification
// references a funding index with no recorded snapshot. Processing must
// not continue with fabricated funding data.
type MissingFundingSnapshotError struct {
	Pool  string
	Index int64
}

func (e *MissingFundingSnapshotError) Error() string {
	return fmt.Sprintf("no funding snapshot for pool %s at index %d", e.Pool, e.Index)
}
