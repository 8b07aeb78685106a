package wheelhouse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func collect(t *testing.T, p *Pager) ([]Page, error) {
	t.Helper()
	var pages []Page
	for p.Next() {
		pages = append(pages, p.Page())
	}
	return pages, p.Err()
}

func TestPagerFollowsCursor(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get(CursorParam) {
		case "":
			_, _ = w.Write([]byte(`{"results":["a","b"],"next_cursor":"p2"}`))
		case "p2":
			_, _ = w.Write([]byte(`{"results":["c"],"next_cursor":"p3"}`))
		case "p3":
			_, _ = w.Write([]byte(`{"results":["d","e"],"next_cursor":null}`))
		default:
			http.Error(w, "bad cursor", http.StatusBadRequest)
		}
	}))
	defer s.Close()

	c := newTestClient(t, s.URL, "", 1)
	pages, err := collect(t, c.GetPaginated(context.Background(), "/listings", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("pages: got %d, want 3", len(pages))
	}
	wantCounts := []int{2, 1, 2}
	for i, p := range pages {
		if p.Number != i+1 {
			t.Errorf("page %d: Number = %d", i, p.Number)
		}
		if len(p.Items) != wantCounts[i] {
			t.Errorf("page %d: got %d items, want %d", i, len(p.Items), wantCounts[i])
		}
	}
}

func TestPagerFollowsNextLink(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"data":[{"id":3}],"next":""}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":1},{"id":2}],"next":"/listings?page=2"}`))
	}))
	defer s.Close()

	c := newTestClient(t, s.URL, "", 1)
	pages, err := collect(t, c.GetPaginated(context.Background(), "/listings", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 || len(pages[0].Items) != 2 || len(pages[1].Items) != 1 {
		t.Fatalf("unexpected pages: %+v", pages)
	}
}

func TestPagerBareArrayIsSinglePage(t *testing.T) {
	var calls int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer s.Close()

	c := newTestClient(t, s.URL, "", 1)
	pages, err := collect(t, c.GetPaginated(context.Background(), "/listings", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 1 || len(pages[0].Items) != 2 {
		t.Fatalf("unexpected pages: %+v", pages)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestPagerStopsOnEchoedCursor(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get(CursorParam) {
		case "":
			_, _ = w.Write([]byte(`{"results":["A"],"cursor":"p2"}`))
		case "p2":
			_, _ = w.Write([]byte(`{"results":["B"],"cursor":"p2","next_cursor":null}`))
		default:
			http.Error(w, "bad cursor", http.StatusBadRequest)
		}
	}))
	defer s.Close()

	c := newTestClient(t, s.URL, "", 1)
	pages, err := collect(t, c.GetPaginated(context.Background(), "/listings", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("pages: got %d, want 2", len(pages))
	}
}

func TestPagerRejectsForeignNextLink(t *testing.T) {
	var leaked atomic.Value
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leaked.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer other.Close()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `{"results":["A"],"next":%q}`, other.URL+"/steal")
	}))
	defer s.Close()

	c := newTestClient(t, s.URL, "topsecret", 1)
	_, err := collect(t, c.GetPaginated(context.Background(), "/listings", nil))
	if !errors.Is(err, ErrForeignLink) {
		t.Fatalf("expected ErrForeignLink, got %v", err)
	}
	if v := leaked.Load(); v != nil {
		t.Errorf("other host was contacted with Authorization=%q", v)
	}
}

func TestPagerDetectsCursorLoop(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":["a"],"next_cursor":"same"}`))
	}))
	defer s.Close()

	c := newTestClient(t, s.URL, "", 1)
	_, err := collect(t, c.GetPaginated(context.Background(), "/listings", nil))
	if !errors.Is(err, ErrPaginationLoop) {
		t.Fatalf("expected ErrPaginationLoop, got %v", err)
	}
}

func TestPagerMaxPages(t *testing.T) {
	var n int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		i := atomic.AddInt32(&n, 1)
		_, _ = fmt.Fprintf(w, `{"results":["x"],"next_cursor":"c%d"}`, i)
	}))
	defer s.Close()

	c, err := New(Options{BaseURL: s.URL, MaxAttempts: 1, MaxPages: 3, Sleep: noSleep})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pages, err := collect(t, c.GetPaginated(context.Background(), "/listings", nil))
	if !errors.Is(err, ErrPaginationLoop) {
		t.Fatalf("expected ErrPaginationLoop, got %v", err)
	}
	if len(pages) != 3 {
		t.Errorf("pages before stop: got %d, want 3", len(pages))
	}
}

func TestPagerStopsOnError(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(CursorParam) == "" {
			_, _ = w.Write([]byte(`{"results":["a"],"next_cursor":"p2"}`))
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer s.Close()

	c := newTestClient(t, s.URL, "", 2)
	p := c.GetPaginated(context.Background(), "/listings", nil)
	pages, err := collect(t, p)
	if len(pages) != 1 {
		t.Errorf("pages: got %d, want 1", len(pages))
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if p.Next() {
		t.Error("Next after failure must return false")
	}
}

func TestDecodePage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantItems int
		wantCont  bool
		wantErr   bool
	}{
		{"null", `null`, 0, false, false},
		{"empty array", `[]`, 0, false, false},
		{"array", `[1,2,3]`, 3, false, false},
		{"wrapped results", `{"results":[{},{}]}`, 2, false, false},
		{"wrapped with token", `{"items":[{}],"next_page_token":"t"}`, 1, true, false},
		{"single object", `{"date":"2025-07-01","value":1}`, 1, false, false},
		{"non-array data key", `{"data":"x","value":1}`, 1, false, false},
		{"scalar", `42`, 0, false, true},
	}
	for _, tt := range tests {
		items, cont, err := decodePage([]byte(tt.body))
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if len(items) != tt.wantItems {
			t.Errorf("%s: items = %d, want %d", tt.name, len(items), tt.wantItems)
		}
		if (cont != nil) != tt.wantCont {
			t.Errorf("%s: continuation = %v, want %v", tt.name, cont, tt.wantCont)
		}
	}
}
