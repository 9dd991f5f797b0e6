package openalex

import (
	"context"
	"fmt"
)

// Pager walks the cursor pages of a works query strictly in order.
// A Pager is single-use; call Client.Pages again to restart from the first
// page.
//
//	p := client.Pages(q, "")
//	for p.Next(ctx) {
//		page := p.Page()
//	}
//	if err := p.Err(); err != nil { ... }
type Pager struct {
	client *Client
	query  Query
	cursor string

	page     *WorksPage
	pages    int
	finished bool
	err      error
}

// Pages returns a Pager starting at cursor ("" for the first page).
func (c *Client) Pages(q Query, cursor string) *Pager {
	if cursor == "" {
		cursor = startCursor
	}
	return &Pager{client: c, query: q, cursor: cursor}
}

// Next fetches the next page. It returns false when the previous page
// carried no next cursor, or on error.
func (p *Pager) Next(ctx context.Context) bool {
	if p.finished || p.err != nil {
		return false
	}

	page, err := p.client.Page(ctx, p.query, p.cursor)
	if err != nil {
		p.err = err
		p.page = nil
		return false
	}

	p.page = page
	p.pages++

	next := page.Meta.Next()
	switch {
	case next == "":
		p.finished = true
	case next == p.cursor:
		p.err = &FetchError{
			Cursor:   p.cursor,
			Attempts: 1,
			Err:      fmt.Errorf("%w: next_cursor did not advance", ErrInvalidResponse),
		}
		p.finished = true
	default:
		p.cursor = next
	}
	return true
}

// Page returns the page fetched by the last successful Next.
func (p *Pager) Page() *WorksPage {
	return p.page
}

// Pages returns how many pages have been fetched so far.
func (p *Pager) Pages() int {
	return p.pages
}

// Err returns the error that stopped iteration, if any.
func (p *Pager) Err() error {
	return p.err
}

// Walk calls fn for every page in order until the last page or the first
// error from the API or fn.
func (c *Client) Walk(ctx context.Context, q Query, cursor string, fn func(*WorksPage) error) error {
	p := c.Pages(q, cursor)
	for p.Next(ctx) {
		if err := fn(p.Page()); err != nil {
			return err
		}
	}
	return p.Err()
}
