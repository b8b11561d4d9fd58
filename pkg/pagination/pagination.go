package pagination

import (
	"net/http"
	"strconv"

	apperrors "github.com/shopline/commerce/pkg/errors"
)

const (
	// DefaultPerPage is used when the request does not specify per_page.
	DefaultPerPage = 20
	// MaxPerPage caps the page size a client may request.
	MaxPerPage = 100
)

// Params holds pagination parameters extracted from query strings.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// DefaultParams returns the first page with the default page size.
func DefaultParams() Params {
	return Params{Page: 1, PerPage: DefaultPerPage}
}

// Offset returns the number of rows to skip for the current page.
func (p Params) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// FromRequest extracts page and per_page from the query string. Malformed or
// out-of-range values are rejected with an INVALID_INPUT error.
func FromRequest(r *http.Request) (Params, error) {
	p := DefaultParams()
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return p, apperrors.InvalidInput("page must be a valid positive integer")
		}
		p.Page = page
	}

	if v := q.Get("per_page"); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage < 1 || perPage > MaxPerPage {
			return p, apperrors.InvalidInput("per_page must be a valid integer between 1 and " + strconv.Itoa(MaxPerPage))
		}
		p.PerPage = perPage
	}

	return p, nil
}
