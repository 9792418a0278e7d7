// Package address turns raw stored addresses into geocoder-ready queries.
package address

import (
	"regexp"
	"strings"
)

// CountrySuffix is appended to queries that do not already name the country.
const CountrySuffix = "USA"

var (
	// zip4 matches standalone 4-digit tokens, e.g. 2116 for 02116.
	zip4 = regexp.MustCompile(`\b(\d{4})\b`)
	// bareUnit matches segments like "610" or "3A".
	bareUnit = regexp.MustCompile(`(?i)^\d+[A-Z]?$`)
	// unitSegment matches segments that start with a unit designator.
	unitSegment = regexp.MustCompile(`(?i)^(?:#|(?:APT|APARTMENT|UNIT|STE|SUITE|FL|FLOOR|RM|ROOM)\b)`)
	// unitSuffix matches a designator trailing the street part of a segment.
	// The unit token must carry a digit or be a single letter.
	unitSuffix = regexp.MustCompile(
		`(?i)(?:\s+(?:APT|APARTMENT|UNIT|STE|SUITE|RM|ROOM)\.?\s*#?|\s*#)\s*(?:[A-Z]?-?\d[A-Z0-9-]*|[A-Z])$`,
	)
	// statePostal matches "MA 02116" or "FL 33101"; these always survive.
	statePostal = regexp.MustCompile(`(?i)^[A-Z]{2}\s+\d{4,5}(?:-\d{4})?$`)
	// barePostal matches "2116" or "02116-1234"; kept only as the last segment.
	barePostal = regexp.MustCompile(`^\d{4,5}(?:-\d{4})?$`)
)

// Normalize builds the lookup query for a raw address.
// It drops unit segments, pads 4-digit postal codes and appends the country.
// An address with nothing left to look up yields "".
func Normalize(raw string) string {
	base := StripUnits(raw)
	if base == "" {
		return ""
	}

	base = PadPostalCodes(base)

	if !strings.Contains(strings.ToUpper(base), CountrySuffix) {
		base += ", " + CountrySuffix
	}

	return base
}

// StripUnits removes apartment, suite, floor and similar tokens, keeping
// street, city, state and postal code segments.
func StripUnits(raw string) string {
	collapsed := strings.Join(strings.Fields(raw), " ")
	if collapsed == "" {
		return ""
	}

	parts := make([]string, 0, strings.Count(collapsed, ",")+1)
	for _, part := range strings.Split(collapsed, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}

	// a bare code is a postal code only at the end, before an optional country segment
	zipAt := len(parts) - 1
	if zipAt > 0 && strings.EqualFold(parts[zipAt], CountrySuffix) {
		zipAt--
	}

	kept := make([]string, 0, len(parts))
	for i, part := range parts {
		if statePostal.MatchString(part) || (i == zipAt && barePostal.MatchString(part)) {
			kept = append(kept, part)
			continue
		}

		if bareUnit.MatchString(part) || unitSegment.MatchString(part) {
			continue
		}

		if part = strings.TrimSpace(unitSuffix.ReplaceAllString(part, "")); part != "" {
			kept = append(kept, part)
		}
	}

	return strings.Join(kept, ", ")
}

// PadPostalCodes prefixes a zero to every standalone 4-digit token.
func PadPostalCodes(s string) string {
	return zip4.ReplaceAllString(s, "0$1")
}
