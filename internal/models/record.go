package models

// Record is a stored address row. The address string identifies the row for updates.
type Record struct {
	Address   string   // Address is the raw address as stored.
	Latitude  *float64 // Latitude is nil while the record is unresolved.
	Longitude *float64 // Longitude is nil while the record is unresolved.
}

// Resolved reports whether the record already carries coordinates.
func (r Record) Resolved() bool {
	return r.Latitude != nil
}
