package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageLimits bounds the page_size query parameter.
type PageLimits struct {
	Default int
	Max     int
}

func (l PageLimits) normalise() PageLimits {
	if l.Default <= 0 {
		l.Default = defaultPageSize
	}
	if l.Max <= 0 {
		l.Max = maxPageSize
	}
	if l.Default > l.Max {
		l.Default = l.Max
	}
	return l
}

func parsePagination(query url.Values, limits PageLimits) (services.Pagination, error) {
	limits = limits.normalise()
	pageSize := limits.Default
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return services.Pagination{}, errors.New("page_size must be an integer")
		}
		switch {
		case size <= 0:
			pageSize = limits.Default
		case size > limits.Max:
			pageSize = limits.Max
		default:
			pageSize = size
		}
	}
	return services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}, nil
}

func parseCreatedRange(query url.Values) (services.DateRange, error) {
	var r services.DateRange
	for _, param := range []struct {
		keys   []string
		target **time.Time
	}{
		{keys: []string{"from", "created_after"}, target: &r.From},
		{keys: []string{"to", "created_before"}, target: &r.To},
	} {
		raw := ""
		for _, key := range param.keys {
			if raw = strings.TrimSpace(query.Get(key)); raw != "" {
				break
			}
		}
		if raw == "" {
			continue
		}
		ts, err := parseTimeParam(raw)
		if err != nil {
			return services.DateRange{}, fmt.Errorf("%s must be a valid RFC3339 timestamp or date", param.keys[0])
		}
		*param.target = &ts
	}
	return r, nil
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

// parseTimeParam accepts RFC3339 timestamps and plain dates, interpreted as UTC midnight.
func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.DateOnly, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
