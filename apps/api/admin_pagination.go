package main

import (
	"strconv"
	"strings"
)

const adminDefaultPage = 1

type paginationMeta struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

func parseAdminPage(rawPage string) int {
	page, err := strconv.Atoi(strings.TrimSpace(rawPage))
	if err != nil || page < adminDefaultPage {
		return adminDefaultPage
	}
	return page
}

func buildPaginationMeta(totalCount, currentPage, pageSize int) paginationMeta {
	if pageSize < 1 {
		pageSize = filterPageSize
	}
	if currentPage < adminDefaultPage {
		currentPage = adminDefaultPage
	}

	totalPages := 0
	if totalCount > 0 {
		totalPages = (totalCount + pageSize - 1) / pageSize
	}

	return paginationMeta{
		Page:       currentPage,
		PageSize:   pageSize,
		Total:      totalCount,
		TotalPages: totalPages,
		HasNext:    currentPage < totalPages,
		HasPrev:    currentPage > adminDefaultPage,
	}
}
