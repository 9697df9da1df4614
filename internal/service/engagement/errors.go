package engagement

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the engagement service layer.
var (
	ErrNotFound = errors.New("engagement not found")

	// ErrAggregationDrift means a cached aggregate disagreed with a replay of
	// the event log. The replay wins; drift is reported, never fatal.
	ErrAggregationDrift = errors.New("aggregation drift")
)

// DriftError lists the cached fields that disagreed with the log for a lead.
type DriftError struct {
	LeadID string
	Fields []string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("aggregation drift for lead %s: %s", e.LeadID, strings.Join(e.Fields, ","))
}

func (e *DriftError) Unwrap() error {
	return ErrAggregationDrift
}
