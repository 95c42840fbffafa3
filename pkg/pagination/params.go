// Package pagination parses list query parameters and builds the ORDER BY / LIMIT tail of
// list queries from a whitelist of sortable columns.
package pagination

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPage    = 1
	DefaultPerPage = 10
	MaxPerPage     = 100
	DefaultSortBy  = "created_at"

	// MaxPage keeps (page-1)*per_page inside int
	MaxPage = math.MaxInt / MaxPerPage

	// LikeEscape follows every LIKE comparison against SearchPattern
	LikeEscape = ` ESCAPE '\'`
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// Params holds the list parameters shared by every collection endpoint
type Params struct {
	Page     int
	PerPage  int
	Search   string
	SortBy   string
	Order    string
	Filter   string
	FilterBy string
}

// Meta is returned next to every list payload
type Meta struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

// Parse reads list parameters from a query string, clamping out-of-range values
func Parse(values url.Values) Params {
	p := Params{
		Page:     DefaultPage,
		PerPage:  DefaultPerPage,
		Search:   strings.TrimSpace(values.Get("search")),
		SortBy:   strings.ToLower(strings.TrimSpace(values.Get("sort_by"))),
		Order:    strings.ToLower(strings.TrimSpace(values.Get("order"))),
		Filter:   strings.TrimSpace(values.Get("filter")),
		FilterBy: strings.TrimSpace(values.Get("filter_by")),
	}

	if page, err := strconv.ParseUint(values.Get("page"), 10, 64); err == nil && page > 0 {
		p.Page = clampPage(page)
	} else if errors.Is(err, strconv.ErrRange) {
		p.Page = MaxPage
	}
	if perPage, err := strconv.Atoi(values.Get("per_page")); err == nil {
		switch {
		case perPage < 1:
			p.PerPage = 1
		case perPage > MaxPerPage:
			p.PerPage = MaxPerPage
		default:
			p.PerPage = perPage
		}
	}
	if p.SortBy == "" {
		p.SortBy = DefaultSortBy
	}
	if p.Order != "asc" {
		p.Order = "desc"
	}

	return p
}

func clampPage(page uint64) int {
	if page > MaxPage {
		return MaxPage
	}
	return int(page)
}

// Offset returns the row offset of the requested page
func (p Params) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// Limit returns the page size, defaulting when unset
func (p Params) Limit() int {
	if p.PerPage < 1 {
		return DefaultPerPage
	}
	return p.PerPage
}

// SearchPattern returns a substring LIKE pattern for the search term. Wildcards in
// the term are escaped, so queries must append LikeEscape.
func (p Params) SearchPattern() string {
	return "%" + likeEscaper.Replace(strings.ToLower(p.Search)) + "%"
}

// OrderBy renders an ORDER BY clause. columns maps sort_by values to qualified columns;
// unknown values fall back to fallback so user input never reaches the SQL text.
func (p Params) OrderBy(columns map[string]string, fallback string) string {
	column, ok := columns[p.SortBy]
	if !ok {
		column = fallback
	}
	direction := "DESC"
	if p.Order == "asc" {
		direction = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s", column, direction)
}

// Meta builds the response metadata for a total row count
func (p Params) Meta(total int) Meta {
	return Meta{Page: p.Page, PerPage: p.Limit(), Total: total}
}
