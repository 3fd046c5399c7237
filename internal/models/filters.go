package models

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Pagination headers used by every list endpoint.
const (
	HeaderTotalCount  = "X-Total-Count"
	HeaderTotalPages  = "X-Total-Pages"
	HeaderCurrentPage = "X-Current-Page"
	HeaderPageSize    = "X-Page-Size"
)

// PaginationHeaders is the ordered list of pagination header names.
var PaginationHeaders = []string{HeaderTotalCount, HeaderTotalPages, HeaderCurrentPage, HeaderPageSize}

// Pagination describes one page of a list response.
type Pagination struct {
	TotalCount  int `json:"total_count"`
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
	PageSize    int `json:"page_size"`
}

// ParsePagination reads the pagination headers, defaulting missing or
// malformed values to 0 items, 0 pages, page 1 and 10 per page.
func ParsePagination(h http.Header) Pagination {
	return Pagination{
		TotalCount:  headerInt(h, HeaderTotalCount, 0),
		TotalPages:  headerInt(h, HeaderTotalPages, 0),
		CurrentPage: headerInt(h, HeaderCurrentPage, 1),
		PageSize:    headerInt(h, HeaderPageSize, 10),
	}
}

// WriteHeaders sets the pagination headers on h.
func (p Pagination) WriteHeaders(h http.Header) {
	h.Set(HeaderTotalCount, strconv.Itoa(p.TotalCount))
	h.Set(HeaderTotalPages, strconv.Itoa(p.TotalPages))
	h.Set(HeaderCurrentPage, strconv.Itoa(p.CurrentPage))
	h.Set(HeaderPageSize, strconv.Itoa(p.PageSize))
}

func headerInt(h http.Header, key string, def int) int {
	v := h.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// DeedFilters narrows a deed listing. Zero values are not sent.
type DeedFilters struct {
	Status                 DeedStatus
	HousingCooperativeID   int64
	CreatedAfter           string
	CreatedBefore          string
	BorrowerPersonNumber   string
	HousingCooperativeName string
	ApartmentNumber        string
	CreditNumbers          []string
	SortBy                 string
	SortOrder              string
	Page                   int
	PageSize               int
}

// Values encodes f as backend query parameters.
func (f DeedFilters) Values() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("deed_status", string(f.Status))
	if f.HousingCooperativeID > 0 {
		q.Set("housing_cooperative_id", strconv.FormatInt(f.HousingCooperativeID, 10))
	}
	set("created_after", f.CreatedAfter)
	set("created_before", f.CreatedBefore)
	set("borrower_person_number", f.BorrowerPersonNumber)
	set("housing_cooperative_name", f.HousingCooperativeName)
	set("apartment_number", f.ApartmentNumber)
	if len(f.CreditNumbers) > 0 {
		q.Set("credit_numbers", strings.Join(f.CreditNumbers, ","))
	}
	set("sort_by", f.SortBy)
	set("sort_order", f.SortOrder)
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}
	return q
}

// DeedFiltersFromQuery is the inverse of Values, used by the portal to
// forward browser query strings.
func DeedFiltersFromQuery(q url.Values) DeedFilters {
	f := DeedFilters{
		Status:                 DeedStatus(q.Get("deed_status")),
		CreatedAfter:           q.Get("created_after"),
		CreatedBefore:          q.Get("created_before"),
		BorrowerPersonNumber:   q.Get("borrower_person_number"),
		HousingCooperativeName: q.Get("housing_cooperative_name"),
		ApartmentNumber:        q.Get("apartment_number"),
		SortBy:                 q.Get("sort_by"),
		SortOrder:              q.Get("sort_order"),
	}
	f.HousingCooperativeID, _ = strconv.ParseInt(q.Get("housing_cooperative_id"), 10, 64)
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	if cn := q.Get("credit_numbers"); cn != "" {
		for _, c := range strings.Split(cn, ",") {
			if c = strings.TrimSpace(c); c != "" {
				f.CreditNumbers = append(f.CreditNumbers, c)
			}
		}
	}
	return f
}

// Validate rejects unknown sort keys and statuses.
func (f DeedFilters) Validate() error {
	v := &ValidationError{}
	if f.Status != "" && !f.Status.Valid() {
		v.add("deed_status", "unknown status %q", f.Status)
	}
	switch f.SortBy {
	case "", "created_at", "status", "apartment_number":
	default:
		v.add("sort_by", "must be created_at, status or apartment_number")
	}
	switch f.SortOrder {
	case "", "asc", "desc":
	default:
		v.add("sort_order", "must be asc or desc")
	}
	if f.Page < 0 || f.PageSize < 0 {
		v.add("page", "must not be negative")
	}
	return v.err()
}

// CooperativeQuery pages and searches the cooperative listing.
type CooperativeQuery struct {
	Page     int
	PageSize int
	Search   string
}

// Values encodes q, always sending page and page_size.
func (c CooperativeQuery) Values() url.Values {
	page, size := c.Page, c.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 10
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(size))
	if c.Search != "" {
		q.Set("search", c.Search)
	}
	return q
}

// DeedPage is one page of deeds.
type DeedPage struct {
	Deeds      []MortgageDeed `json:"deeds"`
	Pagination Pagination     `json:"pagination"`
}

// CooperativePage is one page of cooperatives.
type CooperativePage struct {
	Cooperatives []HousingCooperative `json:"cooperatives"`
	Pagination   Pagination           `json:"pagination"`
}
