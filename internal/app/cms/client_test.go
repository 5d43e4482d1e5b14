package cms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brightlane/portal/internal/app/config"
)

type memCache struct {
	data map[string][]byte
	fail bool
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) GetJSON(_ context.Context, key string, dst interface{}) (bool, error) {
	if m.fail {
		return false, errors.New("redis down")
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *memCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if m.fail {
		return errors.New("redis down")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

var testConfig = config.SanityConfig{
	ProjectID:  "abc123",
	Dataset:    "production",
	APIVersion: "2023-05-03",
	Token:      "read-token",
	CacheTTL:   time.Minute,
}

func newTestClient(t *testing.T, cache Cache, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(testConfig, cache, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, &calls
}

func TestQueryURL(t *testing.T) {
	c, err := NewClient(config.SanityConfig{ProjectID: "abc123", Dataset: "production", APIVersion: "v2023-05-03", UseCDN: true}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	u, err := c.QueryURL(`*[slug.current == $slug][0]`, map[string]interface{}{"slug": "hello"})
	if err != nil {
		t.Fatalf("QueryURL: %v", err)
	}
	if !strings.HasPrefix(u, "https://abc123.apicdn.sanity.io/v2023-05-03/data/query/production?") {
		t.Fatalf("unexpected url %s", u)
	}
	if !strings.Contains(u, "%24slug=%22hello%22") {
		t.Fatalf("param not json-encoded: %s", u)
	}

	// с токеном CDN не используется
	c, _ = NewClient(testConfig, nil)
	u, _ = c.QueryURL("*", nil)
	if !strings.HasPrefix(u, "https://abc123.api.sanity.io/v2023-05-03/") {
		t.Fatalf("unexpected url %s", u)
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	if _, err := NewClient(config.SanityConfig{}, nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestListPostsUsesCache(t *testing.T) {
	cache := newMemCache()
	c, calls := newTestClient(t, cache, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2023-05-03/data/query/production" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer read-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		q := r.URL.Query()
		if q.Get("$start") != "10" || q.Get("$end") != "20" {
			t.Errorf("unexpected range %s..%s", q.Get("$start"), q.Get("$end"))
		}
		_, _ = w.Write([]byte(`{"ms":3,"result":{"posts":[{"_id":"p1","title":"Hello","slug":"hello","publishedAt":"2024-03-01T10:00:00Z"}],"total":11}}`))
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		page, err := c.ListPosts(ctx, 2, 10)
		if err != nil {
			t.Fatalf("ListPosts: %v", err)
		}
		if page.Total != 11 || len(page.Posts) != 1 || page.Posts[0].Slug != "hello" || page.Page != 2 {
			t.Fatalf("unexpected page: %+v", page)
		}
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("expected 1 upstream call, got %d", got)
	}
}

func TestCacheFailureFallsThrough(t *testing.T) {
	cache := newMemCache()
	cache.fail = true
	c, calls := newTestClient(t, cache, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":[{"_id":"c1","title":"Design","slug":"design"}]}`))
	})

	for i := 0; i < 2; i++ {
		cats, err := c.Categories(context.Background())
		if err != nil {
			t.Fatalf("Categories: %v", err)
		}
		if len(cats) != 1 || cats[0].Title != "Design" {
			t.Fatalf("unexpected categories: %+v", cats)
		}
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", got)
	}
}

func TestPostBySlug(t *testing.T) {
	c, calls := newTestClient(t, newMemCache(), func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$slug") == `"missing"` {
			_, _ = w.Write([]byte(`{"result":null}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"_id":"p1","title":"Hello","slug":"hello","body":[{"_type":"block"}]}}`))
	})

	ctx := context.Background()
	post, err := c.PostBySlug(ctx, "hello")
	if err != nil {
		t.Fatalf("PostBySlug: %v", err)
	}
	if post.Title != "Hello" || len(post.Body) == 0 {
		t.Fatalf("unexpected post: %+v", post)
	}

	for i := 0; i < 2; i++ {
		if _, err := c.PostBySlug(ctx, "missing"); !errors.Is(err, ErrPostNotFound) {
			t.Fatalf("expected ErrPostNotFound, got %v", err)
		}
	}
	// отсутствующие записи не кешируются
	if got := atomic.LoadInt32(calls); got != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", got)
	}
}

func TestUpstreamError(t *testing.T) {
	c, _ := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"description":"expected '}'","type":"queryParseError"}}`))
	})
	_, err := c.Categories(context.Background())
	if !errors.Is(err, ErrUpstream) || !strings.Contains(err.Error(), "expected '}'") {
		t.Fatalf("expected ErrUpstream with description, got %v", err)
	}
}
