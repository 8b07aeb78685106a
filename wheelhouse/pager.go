package wheelhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// CursorParam is the query parameter used to request the page after a cursor.
const CursorParam = "cursor"

var (
	itemKeys   = []string{"results", "data", "listings", "items"}
	cursorKeys = []string{"next_cursor", "next_page_token"}
)

// echoCursorKey may carry either the next cursor or the one just sent.
const echoCursorKey = "cursor"

// Page is one decoded response of a paginated endpoint.
type Page struct {
	Number int
	Items  []json.RawMessage
}

// Pager walks a paginated endpoint one request at a time:
//
//	p := client.GetPaginated(ctx, "/listings", nil)
//	for p.Next() {
//		page := p.Page()
//	}
//	if err := p.Err(); err != nil { ... }
//
// Iteration ends when a page carries no continuation. A Pager is finite and
// cannot be restarted; retries happen inside the client for each page request.
type Pager struct {
	ctx    context.Context
	client *Client

	next *url.URL
	seen map[string]struct{}
	page Page
	err  error
	done bool
}

func newPager(ctx context.Context, c *Client, path string, query url.Values) *Pager {
	p := &Pager{ctx: ctx, client: c, seen: make(map[string]struct{})}
	first, err := c.buildURL(path, query)
	if err != nil {
		p.err = err
		p.done = true
		return p
	}
	p.next = first
	return p
}

// Next fetches the following page. It returns false when the sequence is
// exhausted or an error occurred; check Err afterwards.
func (p *Pager) Next() bool {
	if p.done || p.next == nil {
		p.done = true
		return false
	}
	if p.page.Number >= p.client.maxPages {
		p.fail(fmt.Errorf("%w: more than %d pages", ErrPaginationLoop, p.client.maxPages))
		return false
	}

	current := p.next
	p.seen[current.String()] = struct{}{}

	body, err := p.client.getURL(p.ctx, current)
	if err != nil {
		p.fail(err)
		return false
	}
	items, cont, err := decodePage(body)
	if err != nil {
		p.fail(fmt.Errorf("wheelhouse: page %d of %s: %w", p.page.Number+1, current.Path, err))
		return false
	}

	p.page = Page{Number: p.page.Number + 1, Items: items}
	p.next = nil
	if cont != nil && cont.echoed && cont.cursor == current.Query().Get(CursorParam) {
		cont = nil
	}
	if cont != nil {
		next, err := p.continuation(current, cont)
		if err != nil {
			p.fail(err)
			return false
		}
		if _, dup := p.seen[next.String()]; dup {
			p.fail(fmt.Errorf("%w: %s requested twice", ErrPaginationLoop, next.Path))
			return false
		}
		p.next = next
	}
	return true
}

// Page returns the page fetched by the last successful Next.
func (p *Pager) Page() Page {
	return p.page
}

// Err returns the error that stopped iteration, if any.
func (p *Pager) Err() error {
	return p.err
}

func (p *Pager) fail(err error) {
	p.err = err
	p.done = true
	p.next = nil
}

func (p *Pager) continuation(current *url.URL, cont *continuation) (*url.URL, error) {
	if cont.link != "" {
		return p.client.resolve(cont.link)
	}
	next := *current
	q := next.Query()
	q.Set(CursorParam, cont.cursor)
	next.RawQuery = q.Encode()
	return &next, nil
}

type continuation struct {
	cursor string
	link   string
	// echoed is set when cursor came from echoCursorKey.
	echoed bool
}

// decodePage extracts the items and continuation of one response body.
// Accepted shapes: a bare array, an object wrapping the items under one of
// itemKeys, null, or any other object which counts as a single item.
func decodePage(body json.RawMessage) ([]json.RawMessage, *continuation, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil, nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		return items, nil, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		for _, key := range itemKeys {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				// not an array: keep looking, the object may be a single row
				continue
			}
			cont, err := pageContinuation(obj)
			if err != nil {
				return nil, nil, err
			}
			return items, cont, nil
		}
		return []json.RawMessage{trimmed}, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: expected an array or object page", ErrMalformedJSON)
	}
}

func pageContinuation(obj map[string]json.RawMessage) (*continuation, error) {
	for _, key := range cursorKeys {
		if token, ok := stringField(obj, key); ok {
			return &continuation{cursor: token}, nil
		}
	}
	if link, ok := stringField(obj, "next"); ok {
		return &continuation{link: link}, nil
	}
	if token, ok := stringField(obj, echoCursorKey); ok {
		return &continuation{cursor: token, echoed: true}, nil
	}
	return nil, nil
}

// stringField reads a non-empty string or number; null and "" mean absent.
func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
