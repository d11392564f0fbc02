package repository

import "errors"

const defaultLimit = 20

// MaxListLimit is the largest page ListOptions accepts.
const MaxListLimit = 1000

// ListOptions defines pagination for list queries.
type ListOptions struct {
	Offset int `json:"offset"` // Number of records to skip
	Limit  int `json:"limit"`  // Maximum number of records to return
}

// Validate validates the ListOptions and sets defaults
func (o *ListOptions) Validate() error {
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.Limit > MaxListLimit {
		return errors.New("limit exceeds maximum allowed value of 1000")
	}
	if o.Offset < 0 {
		return errors.New("offset must be non-negative")
	}
	return nil
}

// SetPagination sets pagination parameters
func (o *ListOptions) SetPagination(page, pageSize int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultLimit
	}
	o.Offset = (page - 1) * pageSize
	o.Limit = pageSize
}

// Window returns the [start, end) bounds of the page within n items.
func (o ListOptions) Window(n int) (int, int) {
	start := o.Offset
	if start > n {
		start = n
	}
	end := n
	if o.Limit > 0 && start+o.Limit < n {
		end = start + o.Limit
	}
	return start, end
}
