package common

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Cix-16/opencti/pkg/errors"
	"github.com/Cix-16/opencti/pkg/graphdb"
)

// Order modes
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

const cursorPrefix = "cursor:"

// PaginationArgs are the listing options of a connection query.
type PaginationArgs struct {
	First     int              `json:"first"`
	After     string           `json:"after,omitempty"`
	OrderBy   string           `json:"orderBy,omitempty"`
	OrderMode string           `json:"orderMode,omitempty"`
	Filters   []graphdb.Filter `json:"filters,omitempty" validate:"dive"`
	WithCount bool             `json:"withCount,omitempty"`
}

// PageWindow is the absolute slice of the ordered result set to read.
type PageWindow struct {
	Offset     int
	First      int
	OrderBy    string
	Descending bool
}

// Window resolves defaults, caps the page size and decodes the cursor.
func (a PaginationArgs) Window(defaultSize, maxSize int) (PageWindow, error) {
	w := PageWindow{First: a.First, OrderBy: a.OrderBy}

	switch {
	case a.First < 0:
		return PageWindow{}, errors.NewValidationError("first must not be negative")
	case a.First == 0:
		w.First = defaultSize
	case a.First > maxSize:
		w.First = maxSize
	}

	if w.OrderBy == "" {
		w.OrderBy = "name"
	}

	switch strings.ToLower(a.OrderMode) {
	case "", OrderAsc:
	case OrderDesc:
		w.Descending = true
	default:
		return PageWindow{}, errors.NewValidationErrorf("invalid order mode %q", a.OrderMode)
	}

	if a.After != "" {
		pos, err := DecodeCursor(a.After)
		if err != nil {
			return PageWindow{}, err
		}
		w.Offset = pos + 1
	}
	return w, nil
}

// EncodeCursor encodes the absolute position of a row. Cursors stay valid
// across inserts only if the ordering key of earlier rows does not change.
func EncodeCursor(position int) string {
	return base64.StdEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(position)))
}

// DecodeCursor returns the position encoded by EncodeCursor.
func DecodeCursor(cursor string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil || !strings.HasPrefix(string(raw), cursorPrefix) {
		return 0, errors.NewValidationError("malformed cursor")
	}
	pos, err := strconv.Atoi(strings.TrimPrefix(string(raw), cursorPrefix))
	if err != nil || pos < 0 {
		return 0, errors.NewValidationError("malformed cursor")
	}
	return pos, nil
}

// ExtractPaginationArgs reads listing options from the query string.
// Filters are passed as a JSON array in "filters".
func ExtractPaginationArgs(r *http.Request) (PaginationArgs, error) {
	q := r.URL.Query()
	args := PaginationArgs{
		After:     q.Get("after"),
		OrderBy:   q.Get("orderBy"),
		OrderMode: q.Get("orderMode"),
	}

	if first := q.Get("first"); first != "" {
		n, err := strconv.Atoi(first)
		if err != nil {
			return PaginationArgs{}, errors.NewValidationError("first must be an integer")
		}
		args.First = n
	}

	if withCount := q.Get("withCount"); withCount != "" {
		b, err := strconv.ParseBool(withCount)
		if err != nil {
			return PaginationArgs{}, errors.NewValidationError("withCount must be a boolean")
		}
		args.WithCount = b
	}

	if filters := q.Get("filters"); filters != "" {
		if err := json.Unmarshal([]byte(filters), &args.Filters); err != nil {
			return PaginationArgs{}, errors.NewValidationError("filters must be a JSON array")
		}
	}
	return args, nil
}
