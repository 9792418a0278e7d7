package models

// MissReason explains why a lookup produced no coordinates.
// All reasons are reported in the same no_result bucket.
type MissReason string

const (
	// MissNone is used when the lookup matched.
	MissNone MissReason = ""
	// MissNoMatch means the service answered with an empty result list.
	MissNoMatch MissReason = "no_match"
	// MissRetriesExhausted means every attempt failed with a transient error.
	MissRetriesExhausted MissReason = "retries_exhausted"
	// MissEmptyQuery means normalization left nothing to look up.
	MissEmptyQuery MissReason = "empty_query"
)

// Result is the outcome of geocoding a single query.
type Result struct {
	Coordinates *Coordinates
	Miss        MissReason
}

// Found reports whether the result carries coordinates.
func (r Result) Found() bool {
	return r.Coordinates != nil
}

// Match builds a result for a successful lookup.
func Match(lat, lon float64) Result {
	return Result{Coordinates: &Coordinates{Latitude: lat, Longitude: lon}}
}

// Miss builds an empty result with the given reason.
func Miss(reason MissReason) Result {
	return Result{Miss: reason}
}
