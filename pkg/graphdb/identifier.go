package graphdb

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]*$`)

// InvalidIdentifierError is returned for a label, relationship type or
// property key that cannot be safely placed in a statement.
type InvalidIdentifierError struct {
	Kind  string
	Value string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Kind, e.Value)
}

// QuoteIdentifier validates an identifier and backtick-quotes it. Labels,
// relationship types and property keys cannot be bound as parameters, so
// they are the only text ever placed directly in a statement.
func QuoteIdentifier(kind, value string) (string, error) {
	if len(value) > 128 || !identifierPattern.MatchString(value) {
		return "", &InvalidIdentifierError{Kind: kind, Value: value}
	}
	return "`" + value + "`", nil
}

func quoteLabels(labels []string) (string, error) {
	var sb strings.Builder
	for _, l := range labels {
		q, err := QuoteIdentifier("label", l)
		if err != nil {
			return "", err
		}
		sb.WriteString(":")
		sb.WriteString(q)
	}
	return sb.String(), nil
}
