package pagination

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits pageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps pageSize.
	DefaultMaxPageSize = 100
)

// ErrInvalidPageSize is returned for non-numeric or non-positive page sizes.
var ErrInvalidPageSize = errors.New("pagination: invalid pageSize")

// Params are the paging inputs of a list request.
type Params struct {
	PageSize  int
	PageToken string
}

// Options bound the accepted page size.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Parse reads pageSize and pageToken from values. Oversized requests are clamped to MaxPageSize.
func Parse(values url.Values, opts Options) (Params, error) {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultMaxPageSize
	}

	params := Params{PageSize: opts.DefaultPageSize, PageToken: strings.TrimSpace(values.Get("pageToken"))}
	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Params{}, ErrInvalidPageSize
		}
		params.PageSize = min(size, opts.MaxPageSize)
	}
	if _, err := DecodeToken(params.PageToken); err != nil {
		return Params{}, err
	}
	return params, nil
}

// Normalize clamps a service-level page size.
func Normalize(size int, opts Options) int {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultMaxPageSize
	}
	if size <= 0 {
		return opts.DefaultPageSize
	}
	return min(size, opts.MaxPageSize)
}
