package entity

import "math"

const (
	DefaultPerPage = 100
	MaxPerPage     = 1000
	// MaxPage keeps (Page-1)*PerPage inside int.
	MaxPage = math.MaxInt / MaxPerPage
)

// PageRequest is a 1-based page of PerPage items.
type PageRequest struct {
	Page    int
	PerPage int
}

// Normalize fills defaults and clamps PerPage to MaxPerPage.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p PageRequest) Offset() int { return (p.Page - 1) * p.PerPage }

type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

func NewPagination(p PageRequest, total int) Pagination {
	pages := 0
	if p.PerPage > 0 {
		pages = (total + p.PerPage - 1) / p.PerPage
	}
	return Pagination{
		Page:       p.Page,
		PerPage:    p.PerPage,
		Total:      total,
		TotalPages: pages,
		HasMore:    p.Page < pages,
	}
}
