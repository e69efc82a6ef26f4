package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// Order describes a single order-by clause.
type Order struct {
	Field string
	Desc  bool
}

// Cursor represents the Firestore pagination cursor payload.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// Params bundles the pagination and sorting values extracted from a list
// request's query string. Domain filters (order status, date ranges) are
// declared as named query parameters by each handler rather than parsed here.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Orders    []Order
}

// Options control how Parse behaves for a given handler layer.
type Options struct {
	DefaultPageSize    int
	MaxPageSize        int
	AllowedOrderFields []string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidOrderBy   = errors.New("pagination: invalid orderBy")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the provided query values and returns the normalised Params representation.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	var params Params
	var err error

	if params.PageSize, err = clampPageSize(values.Get("pageSize"), opts); err != nil {
		return Params{}, err
	}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}

	if params.Orders, err = orderClauses(values["orderBy"], opts.AllowedOrderFields); err != nil {
		return Params{}, err
	}

	return params, nil
}

func clampPageSize(raw string, opts Options) (int, error) {
	ceiling := opts.MaxPageSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}

	fallback := opts.DefaultPageSize
	if fallback <= 0 {
		fallback = DefaultPageSize
	}
	if fallback > ceiling {
		fallback = ceiling
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if size > ceiling {
		size = ceiling
	}
	return size, nil
}

// orderClauses parses repeated and comma-separated orderBy values, dropping
// duplicate field/direction pairs while preserving first-seen order.
func orderClauses(values []string, allowed []string) ([]Order, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: ordering not supported", ErrInvalidOrderBy)
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, field := range allowed {
		if field != "" {
			allowedSet[field] = struct{}{}
		}
	}

	seen := make(map[Order]struct{})
	var orders []Order

	for _, raw := range values {
		for _, clause := range strings.Split(raw, ",") {
			clause = strings.TrimSpace(clause)
			if clause == "" {
				continue
			}
			order, err := splitOrderClause(clause)
			if err != nil {
				return nil, err
			}
			if _, ok := allowedSet[order.Field]; !ok {
				return nil, fmt.Errorf("%w: field %q is not allowed", ErrInvalidOrderBy, order.Field)
			}
			if _, dup := seen[order]; dup {
				continue
			}
			seen[order] = struct{}{}
			orders = append(orders, order)
		}
	}

	return orders, nil
}

// splitOrderClause accepts "field", "field asc", "field desc" and the
// colon-separated "field:desc" spelling.
func splitOrderClause(clause string) (Order, error) {
	if strings.Contains(clause, ":") && !strings.Contains(clause, " ") {
		clause = strings.ReplaceAll(clause, ":", " ")
	}

	segments := strings.Fields(clause)
	switch {
	case len(segments) == 0:
		return Order{}, fmt.Errorf("%w: empty orderBy value", ErrInvalidOrderBy)
	case len(segments) > 2:
		return Order{}, fmt.Errorf("%w: invalid orderBy format %q", ErrInvalidOrderBy, clause)
	}

	order := Order{Field: segments[0]}
	if !validFieldName(order.Field) {
		return Order{}, fmt.Errorf("%w: invalid field %q", ErrInvalidOrderBy, order.Field)
	}

	if len(segments) == 2 {
		switch strings.ToLower(segments[1]) {
		case "asc":
		case "desc":
			order.Desc = true
		default:
			return Order{}, fmt.Errorf("%w: invalid direction %q", ErrInvalidOrderBy, segments[1])
		}
	}

	return order, nil
}

func validFieldName(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
