package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(target string) echo.Context {
	e := echo.New()
	return e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(contextFor("/"))
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("expected %d/0, got %d/%d", DefaultLimit, p.Limit, p.Offset)
	}
	if p.Page() != 1 {
		t.Errorf("expected page 1, got %d", p.Page())
	}
	if len(p.Filters) != 0 {
		t.Errorf("expected no filters, got %v", p.Filters)
	}
}

func TestFromContext_Variants(t *testing.T) {
	tests := []struct {
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"/?page=3&page_size=10", 10, 20},
		{"/?limit=5&offset=15", 5, 15},
		{"/?_count=7&_offset=14", 7, 14},
		{"/?page_size=1000", MaxLimit, 0},
		{"/?page=0&page_size=-3", DefaultLimit, 0},
		{"/?page=2", DefaultLimit, DefaultLimit},
		{"/?limit=abc&offset=-4", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			p := FromContext(contextFor(tt.target))
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("expected %d/%d, got %d/%d", tt.wantLimit, tt.wantOffset, p.Limit, p.Offset)
			}
		})
	}
}

func TestFromContext_SearchAndFilters(t *testing.T) {
	p := FromContext(contextFor("/?search=%20ana%20&status=registered&page=1&sort=-scheduled_at&tenant_id=x"))
	if p.Search != "ana" {
		t.Errorf("expected trimmed search, got %q", p.Search)
	}
	if p.Sort != "-scheduled_at" {
		t.Errorf("expected sort, got %q", p.Sort)
	}
	if p.Filters["status"] != "registered" || p.Filters["search"] != "ana" {
		t.Errorf("unexpected filters %v", p.Filters)
	}
	for _, k := range []string{"page", "sort", "tenant_id"} {
		if _, ok := p.Filters[k]; ok {
			t.Errorf("control param %s leaked into filters", k)
		}
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a"}, 45, 20, 20)
	if r.Page != 2 || r.TotalPages != 3 || r.PageSize != 20 {
		t.Errorf("unexpected page fields: %+v", r)
	}
	if !r.HasMore {
		t.Error("expected has_more on page 2 of 3")
	}

	last := NewResponse(nil, 45, 20, 40)
	if last.HasMore {
		t.Error("expected no more results on last page")
	}

	empty := NewResponse([]string{}, 0, 20, 0)
	if empty.TotalPages != 0 || empty.Page != 1 {
		t.Errorf("unexpected empty response: %+v", empty)
	}
}
