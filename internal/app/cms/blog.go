package cms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const postFields = `_id, title, "slug": slug.current, excerpt, publishedAt,
	"mainImage": mainImage.asset->url, "author": author->name, "categories": categories[]->title`

const (
	postsQuery = `{
	"posts": *[_type == "post" && defined(slug.current)] | order(publishedAt desc) [$start...$end] {` + postFields + `},
	"total": count(*[_type == "post" && defined(slug.current)])
}`
	postBySlugQuery = `*[_type == "post" && slug.current == $slug][0] {` + postFields + `, body}`
	categoriesQuery = `*[_type == "category"] | order(title asc) {_id, title, "slug": slug.current, description}`
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

type Post struct {
	ID          string          `json:"_id"`
	Title       string          `json:"title"`
	Slug        string          `json:"slug"`
	Excerpt     string          `json:"excerpt,omitempty"`
	PublishedAt *time.Time      `json:"publishedAt,omitempty"`
	MainImage   string          `json:"mainImage,omitempty"`
	Author      string          `json:"author,omitempty"`
	Categories  []string        `json:"categories,omitempty"`
	Body        json.RawMessage `json:"body,omitempty" swaggertype:"object"`
}

type PostPage struct {
	Posts []Post `json:"posts"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type Category struct {
	ID          string `json:"_id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
}

// ListPosts возвращает страницу записей, новые первыми. Страницы нумеруются с 1.
func (c *Client) ListPosts(ctx context.Context, page, limit int) (*PostPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	result := PostPage{Page: page, Limit: limit}
	key := fmt.Sprintf("blog.posts.%d.%d", page, limit)
	start := (page - 1) * limit
	_, err := c.cached(ctx, key, &result, func() (bool, error) {
		found, err := c.Query(ctx, postsQuery, map[string]interface{}{"start": start, "end": start + limit}, &result)
		return found, err
	})
	if err != nil {
		return nil, err
	}
	if result.Posts == nil {
		result.Posts = []Post{}
	}
	result.Page, result.Limit = page, limit
	return &result, nil
}

func (c *Client) PostBySlug(ctx context.Context, slug string) (*Post, error) {
	var post Post
	found, err := c.cached(ctx, "blog.post."+slug, &post, func() (bool, error) {
		return c.Query(ctx, postBySlugQuery, map[string]interface{}{"slug": slug}, &post)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPostNotFound
	}
	return &post, nil
}

func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var categories []Category
	_, err := c.cached(ctx, "blog.categories", &categories, func() (bool, error) {
		return c.Query(ctx, categoriesQuery, nil, &categories)
	})
	if err != nil {
		return nil, err
	}
	if categories == nil {
		categories = []Category{}
	}
	return categories, nil
}
