// Package cms читает записи блога из Sanity (GROQ поверх HTTPS) с кешем в Redis.
package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brightlane/portal/internal/app/config"

	"github.com/sirupsen/logrus"
)

var (
	ErrPostNotFound  = errors.New("запись блога не найдена")
	ErrNotConfigured = errors.New("CMS не настроена")
	ErrUpstream      = errors.New("ошибка ответа CMS")
)

// Cache - то, что нужно клиенту от Redis
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type Client struct {
	baseURL    string
	dataset    string
	apiVersion string
	token      string
	ttl        time.Duration
	http       *http.Client
	cache      Cache
}

type Option func(*Client)

// WithBaseURL подменяет адрес API (используется в тестах)
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(cfg config.SanityConfig, cache Cache, opts ...Option) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Dataset == "" {
		return nil, ErrNotConfigured
	}
	host := "api"
	if cfg.UseCDN && cfg.Token == "" {
		host = "apicdn"
	}
	version := strings.TrimPrefix(cfg.APIVersion, "v")
	if version == "" {
		version = "2021-10-21"
	}

	c := &Client{
		baseURL:    fmt.Sprintf("https://%s.%s.sanity.io", cfg.ProjectID, host),
		dataset:    cfg.Dataset,
		apiVersion: version,
		token:      cfg.Token,
		ttl:        cfg.CacheTTL,
		http:       &http.Client{Timeout: 10 * time.Second},
		cache:      cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// QueryURL собирает адрес GROQ-запроса; параметры кодируются в JSON и передаются как $name
func (c *Client) QueryURL(query string, params map[string]interface{}) (string, error) {
	values := url.Values{}
	values.Set("query", query)
	for name, value := range params {
		raw, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("encode param %s: %w", name, err)
		}
		values.Set("$"+name, string(raw))
	}
	return fmt.Sprintf("%s/v%s/data/query/%s?%s", c.baseURL, c.apiVersion, url.PathEscape(c.dataset), values.Encode()), nil
}

type queryResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Description string `json:"description"`
		Type        string `json:"type"`
	} `json:"error,omitempty"`
}

// Query выполняет GROQ-запрос и раскладывает поле result в dst.
// found=false, если result равен null.
func (c *Client) Query(ctx context.Context, query string, params map[string]interface{}, dst interface{}) (bool, error) {
	u, err := c.QueryURL(query, params)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return false, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	var out queryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("%w: status %d: %v", ErrUpstream, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Description
		}
		return false, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}

	if len(out.Result) == 0 || string(out.Result) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(out.Result, dst); err != nil {
		return false, fmt.Errorf("decode result: %w", err)
	}
	return true, nil
}

// cached сначала смотрит в кеш; ошибки Redis не мешают сходить в Sanity
func (c *Client) cached(ctx context.Context, key string, dst interface{}, load func() (bool, error)) (bool, error) {
	if c.cache != nil {
		found, err := c.cache.GetJSON(ctx, key, dst)
		if err != nil {
			logrus.Warnf("cms cache get %s: %v", key, err)
		} else if found {
			return true, nil
		}
	}

	found, err := load()
	if err != nil || !found {
		return found, err
	}

	if c.cache != nil && c.ttl > 0 {
		if err := c.cache.SetJSON(ctx, key, dst, c.ttl); err != nil {
			logrus.Warnf("cms cache set %s: %v", key, err)
		}
	}
	return true, nil
}
