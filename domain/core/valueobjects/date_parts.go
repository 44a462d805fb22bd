package valueobjects

import "time"

// TimestampLayout is fixed width so stored timestamps sort lexicographically.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
	yearLayout  = "2006"
)

// DateParts are the denormalized creation date fields used by aggregation
// queries. They are only ever built from a timestamp, never set directly.
type DateParts struct {
	Day   string
	Month string
	Year  string
}

// NewDateParts derives the day, month and year of t in UTC.
func NewDateParts(t time.Time) DateParts {
	utc := t.UTC()
	return DateParts{
		Day:   utc.Format(dayLayout),
		Month: utc.Format(monthLayout),
		Year:  utc.Format(yearLayout),
	}
}

// Consistent reports whether the parts match the given timestamp.
func (d DateParts) Consistent(t time.Time) bool {
	return d == NewDateParts(t)
}

// FormatTimestamp renders t in the stored layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a stored timestamp. RFC3339 is accepted for values
// written by other tools.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
