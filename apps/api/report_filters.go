package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	filterPageSize       = 20
	filterDateLayout     = "2006-01-02"
	searchDebounceWindow = 300 * time.Millisecond
	maxSearchLength      = 200
)

// FilterState is the dashboard's report query. A nil field places no constraint on the list.
type FilterState struct {
	Status       *ReportStatus   `json:"status,omitempty"`
	Category     *ReportCategory `json:"category,omitempty"`
	Severity     *ReportSeverity `json:"severity,omitempty"`
	DepartmentID *int            `json:"department_id,omitempty"`
	DateFrom     *string         `json:"date_from,omitempty"`
	DateTo       *string         `json:"date_to,omitempty"`
	Search       *string         `json:"search,omitempty"`
	NeedsReview  *bool           `json:"needs_review,omitempty"`
	Page         int             `json:"page"`
	PageSize     int             `json:"page_size"`
}

func defaultFilterState() FilterState {
	return FilterState{Page: 1, PageSize: filterPageSize}
}

var filterKeys = []string{"status", "category", "severity", "department_id", "date_from", "date_to", "search", "needs_review", "page"}

// applyFilterValue sets one field from its query-string form. A blank value clears the field.
// Changing anything but the page returns to the first page.
func applyFilterValue(state *FilterState, key, raw string) error {
	value := strings.TrimSpace(raw)
	if key != "page" {
		state.Page = 1
	}

	switch key {
	case "status":
		if value == "" {
			state.Status = nil
			return nil
		}
		status := ReportStatus(value)
		if !status.IsValid() {
			return &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: fmt.Sprintf("unknown status %q", value)}
		}
		state.Status = &status
	case "category":
		if value == "" {
			state.Category = nil
			return nil
		}
		category := ReportCategory(value)
		if !category.IsValid() {
			return &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: fmt.Sprintf("unknown category %q", value)}
		}
		state.Category = &category
	case "severity":
		if value == "" {
			state.Severity = nil
			return nil
		}
		severity := ReportSeverity(value)
		if !severity.IsValid() {
			return &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: fmt.Sprintf("unknown severity %q", value)}
		}
		state.Severity = &severity
	case "department_id":
		if value == "" {
			state.DepartmentID = nil
			return nil
		}
		id, err := strconv.Atoi(value)
		if err != nil || id <= 0 {
			return &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: "department_id must be a positive integer"}
		}
		state.DepartmentID = &id
	case "date_from", "date_to":
		target := &state.DateFrom
		if key == "date_to" {
			target = &state.DateTo
		}
		if value == "" {
			*target = nil
			return nil
		}
		if _, err := time.Parse(filterDateLayout, value); err != nil {
			return &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: key + " must be formatted YYYY-MM-DD"}
		}
		*target = &value
	case "search":
		if value == "" {
			state.Search = nil
			return nil
		}
		if utf8.RuneCountInString(value) > maxSearchLength {
			value = string([]rune(value)[:maxSearchLength])
		}
		state.Search = &value
	case "needs_review":
		if value == "" {
			state.NeedsReview = nil
			return nil
		}
		flag, err := strconv.ParseBool(value)
		if err != nil {
			return &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: "needs_review must be true or false"}
		}
		state.NeedsReview = &flag
	case "page":
		state.Page = parseAdminPage(value)
	default:
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: fmt.Sprintf("unknown filter %q", key)}
	}
	return nil
}

// parseFilterValues builds a state from query parameters. Keys that are not filters are ignored.
func parseFilterValues(values url.Values) (FilterState, error) {
	state := defaultFilterState()
	for _, key := range filterKeys {
		if _, ok := values[key]; !ok || key == "page" {
			continue
		}
		if err := applyFilterValue(&state, key, values.Get(key)); err != nil {
			return FilterState{}, err
		}
	}
	state.Page = parseAdminPage(values.Get("page"))
	return state, nil
}

// validateFilterState re-checks a state that was decoded as a whole, such as a JSON body or a
// stored preset, with the same rules as the query form. Blank values come back absent.
func validateFilterState(state FilterState) (FilterState, error) {
	return parseFilterValues(state.query())
}

// query renders the state for the list endpoint. Absent fields are omitted, never sent empty.
func (f FilterState) query() url.Values {
	values := url.Values{}
	if f.Status != nil {
		values.Set("status", string(*f.Status))
	}
	if f.Category != nil {
		values.Set("category", string(*f.Category))
	}
	if f.Severity != nil {
		values.Set("severity", string(*f.Severity))
	}
	if f.DepartmentID != nil {
		values.Set("department_id", strconv.Itoa(*f.DepartmentID))
	}
	if f.DateFrom != nil {
		values.Set("date_from", *f.DateFrom)
	}
	if f.DateTo != nil {
		values.Set("date_to", *f.DateTo)
	}
	if f.Search != nil {
		values.Set("search", *f.Search)
	}
	if f.NeedsReview != nil {
		values.Set("needs_review", strconv.FormatBool(*f.NeedsReview))
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	values.Set("page", strconv.Itoa(page))
	values.Set("page_size", strconv.Itoa(filterPageSize))
	return values
}

// matches reports whether r satisfies every present constraint. Paging is not applied.
func (f FilterState) matches(r Report) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Category != nil && r.Category != *f.Category {
		return false
	}
	if f.Severity != nil && r.Severity != *f.Severity {
		return false
	}
	if f.DepartmentID != nil && (r.DepartmentID == nil || *r.DepartmentID != *f.DepartmentID) {
		return false
	}
	if f.NeedsReview != nil && r.NeedsReview != *f.NeedsReview {
		return false
	}
	day := r.CreatedAt.UTC().Format(filterDateLayout)
	if f.DateFrom != nil && day < *f.DateFrom {
		return false
	}
	if f.DateTo != nil && day > *f.DateTo {
		return false
	}
	if f.Search != nil {
		needle := strings.ToLower(*f.Search)
		haystack := strings.ToLower(r.ReportNumber + " " + r.Title + " " + r.Description)
		if r.Address != nil {
			haystack += " " + strings.ToLower(*r.Address)
		}
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

func (f FilterState) clone() FilterState {
	out := f
	if f.Status != nil {
		v := *f.Status
		out.Status = &v
	}
	if f.Category != nil {
		v := *f.Category
		out.Category = &v
	}
	if f.Severity != nil {
		v := *f.Severity
		out.Severity = &v
	}
	if f.DepartmentID != nil {
		v := *f.DepartmentID
		out.DepartmentID = &v
	}
	if f.DateFrom != nil {
		v := *f.DateFrom
		out.DateFrom = &v
	}
	if f.DateTo != nil {
		v := *f.DateTo
		out.DateTo = &v
	}
	if f.Search != nil {
		v := *f.Search
		out.Search = &v
	}
	if f.NeedsReview != nil {
		v := *f.NeedsReview
		out.NeedsReview = &v
	}
	out.PageSize = filterPageSize
	return out
}

// filterComposer holds one administrator's filter state. Every committed change is reported
// to onChange; search text is only committed once typing has paused for the debounce window.
type filterComposer struct {
	mu            sync.Mutex
	state         FilterState
	debounce      time.Duration
	pendingSearch *time.Timer
	onChange      func(FilterState)
}

func newFilterComposer(debounce time.Duration, onChange func(FilterState)) *filterComposer {
	return &filterComposer{state: defaultFilterState(), debounce: debounce, onChange: onChange}
}

func (c *filterComposer) current() FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// merge applies the given fields at once, except search which is debounced.
func (c *filterComposer) merge(values url.Values) (FilterState, error) {
	c.mu.Lock()
	next := c.state.clone()
	changed := false
	for _, key := range filterKeys {
		if _, ok := values[key]; !ok || key == "search" {
			continue
		}
		if err := applyFilterValue(&next, key, values.Get(key)); err != nil {
			c.mu.Unlock()
			return FilterState{}, err
		}
		changed = true
	}
	if changed {
		c.state = next
	}
	snapshot := c.state.clone()
	c.mu.Unlock()

	if _, ok := values["search"]; ok {
		c.setSearch(values.Get("search"))
	}
	if changed {
		c.notify(snapshot)
	}
	return snapshot, nil
}

// setSearch restarts the debounce window; only the last text typed within it is committed.
func (c *filterComposer) setSearch(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingSearch != nil {
		c.pendingSearch.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		if c.pendingSearch != timer {
			c.mu.Unlock()
			return
		}
		c.pendingSearch = nil
		_ = applyFilterValue(&c.state, "search", text)
		snapshot := c.state.clone()
		c.mu.Unlock()
		c.notify(snapshot)
	})
	c.pendingSearch = timer
}

// replace swaps in a whole state, as when a preset is applied. A pending search is dropped.
func (c *filterComposer) replace(state FilterState) FilterState {
	c.mu.Lock()
	if c.pendingSearch != nil {
		c.pendingSearch.Stop()
		c.pendingSearch = nil
	}
	c.state = state.clone()
	if c.state.Page < 1 {
		c.state.Page = 1
	}
	snapshot := c.state.clone()
	c.mu.Unlock()
	c.notify(snapshot)
	return snapshot
}

func (c *filterComposer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingSearch != nil {
		c.pendingSearch.Stop()
		c.pendingSearch = nil
	}
}

func (c *filterComposer) notify(state FilterState) {
	if c.onChange != nil {
		c.onChange(state)
	}
}

// filterRegistry keeps a composer per administrator.
type filterRegistry struct {
	mu        sync.Mutex
	debounce  time.Duration
	composers map[string]*filterComposer
	onChange  func(actor string, state FilterState)
}

func newFilterRegistry(debounce time.Duration, onChange func(actor string, state FilterState)) *filterRegistry {
	return &filterRegistry{debounce: debounce, composers: make(map[string]*filterComposer), onChange: onChange}
}

func (r *filterRegistry) forActor(actor string) *filterComposer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if composer, ok := r.composers[actor]; ok {
		return composer
	}
	composer := newFilterComposer(r.debounce, func(state FilterState) {
		if r.onChange != nil {
			r.onChange(actor, state)
		}
	})
	r.composers[actor] = composer
	return composer
}

func (r *filterRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, composer := range r.composers {
		composer.stop()
	}
}
