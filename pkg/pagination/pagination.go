package pagination

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// controlParams are query keys that shape the page rather than filter it.
var controlParams = map[string]bool{
	"page": true, "page_size": true,
	"limit": true, "offset": true,
	"_count": true, "_offset": true,
	"sort": true, "_sort": true,
	"tenant_id": true,
}

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
	Search string
	Sort   string
	// Filters holds every non-control query parameter, search included.
	Filters map[string]string
}

// FromContext reads page/page_size, falling back to limit/offset and then
// _count/_offset. Pages are 1-based.
func FromContext(c echo.Context) Params {
	p := Params{Limit: DefaultLimit}

	if size := firstInt(c, "page_size", "limit", "_count"); size > 0 {
		p.Limit = size
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	if page := firstInt(c, "page"); page > 0 {
		p.Offset = (page - 1) * p.Limit
	} else if off := firstInt(c, "offset", "_offset"); off > 0 {
		p.Offset = off
	}

	p.Search = strings.TrimSpace(c.QueryParam("search"))
	p.Sort = c.QueryParam("sort")
	if p.Sort == "" {
		p.Sort = c.QueryParam("_sort")
	}

	p.Filters = map[string]string{}
	for k, v := range c.QueryParams() {
		if len(v) == 0 || controlParams[k] {
			continue
		}
		p.Filters[k] = strings.TrimSpace(v[0])
	}
	return p
}

func firstInt(c echo.Context, keys ...string) int {
	for _, k := range keys {
		if n, err := strconv.Atoi(c.QueryParam(k)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// Page returns the 1-based page number of the current offset.
func (p Params) Page() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Response wraps a paginated API response.
type Response struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
	HasMore    bool        `json:"has_more"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	p := Params{Limit: limit, Offset: offset}
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return &Response{
		Data:       data,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
		Page:       p.Page(),
		PageSize:   limit,
		TotalPages: pages,
		HasMore:    p.HasNext(total),
	}
}
