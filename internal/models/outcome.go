package models

import "fmt"

// OutcomeKind classifies how processing of one address ended.
type OutcomeKind int

const (
	// OutcomeUpdated means coordinates were written back to the store.
	OutcomeUpdated OutcomeKind = iota
	// OutcomeNoMatch means no coordinates were found for the address.
	OutcomeNoMatch
	// OutcomeFailed means geocoding or the store update failed.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUpdated:
		return "updated"
	case OutcomeNoMatch:
		return "no_result"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is produced once per unique address in a batch.
type Outcome struct {
	Kind        OutcomeKind
	Address     string
	Query       string
	Coordinates *Coordinates
	Miss        MissReason // set for OutcomeNoMatch
	Reason      string     // audit reason for OutcomeNoMatch and OutcomeFailed
}

// Counters are run-level totals. They are advisory only.
type Counters struct {
	Updated  int
	NoResult int
	Failed   int
}

// Add increments the counter matching the outcome kind.
func (c *Counters) Add(kind OutcomeKind) {
	switch kind {
	case OutcomeUpdated:
		c.Updated++
	case OutcomeNoMatch:
		c.NoResult++
	case OutcomeFailed:
		c.Failed++
	}
}

// Total returns the number of outcomes counted so far.
func (c Counters) Total() int {
	return c.Updated + c.NoResult + c.Failed
}
