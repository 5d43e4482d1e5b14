package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brightlane/portal/internal/app/cms"
	"github.com/brightlane/portal/internal/app/config"
	"github.com/brightlane/portal/internal/app/ds"
	"github.com/brightlane/portal/internal/app/repository"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestFormatMoney(t *testing.T) {
	cases := map[int64]string{
		0:         "$0.00",
		5:         "$0.05",
		99900:     "$999.00",
		100000:    "$1,000.00",
		123456789: "$1,234,567.89",
		-2550:     "-$25.50",
	}
	for in, want := range cases {
		if got := FormatMoney(in); got != want {
			t.Errorf("FormatMoney(%d) = %q, want %q", in, got, want)
		}
	}
}

type fakeBlog struct {
	posts []cms.Post
}

func (f fakeBlog) ListPosts(_ context.Context, page, limit int) (*cms.PostPage, error) {
	return &cms.PostPage{Posts: f.posts, Total: len(f.posts), Page: page, Limit: limit}, nil
}

func (f fakeBlog) PostBySlug(_ context.Context, slug string) (*cms.Post, error) {
	for i := range f.posts {
		if f.posts[i].Slug == slug {
			return &f.posts[i], nil
		}
	}
	return nil, cms.ErrPostNotFound
}

func (f fakeBlog) Categories(context.Context) ([]cms.Category, error) {
	return nil, nil
}

func newSiteRouter(t *testing.T, blog BlogSource) *gin.Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := ds.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := repository.NewFromDB(db)

	category := ds.ServiceCategory{Name: "Development", Slug: "development"}
	if err := repo.CreateCategory(context.Background(), &category); err != nil {
		t.Fatalf("create category: %v", err)
	}
	service := ds.Service{
		CategoryID: &category.ID,
		Name:       "Landing page",
		Slug:       "landing-page",
		PriceType:  ds.PriceTypeOneTime,
		BasePrice:  150000,
		Features:   datatypes.JSON(`["Responsive layout","Contact form"]`),
		IsActive:   true,
	}
	if err := repo.CreateService(context.Background(), &service); err != nil {
		t.Fatalf("create service: %v", err)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandler(repo, blog, config.SiteConfig{Name: "Brightlane", BaseURL: "https://example.com"})
	h.RegisterStatic(router, "../../../templates/*.html", "../../../resources")
	h.RegisterRoutes(router)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestSitePages(t *testing.T) {
	blog := fakeBlog{posts: []cms.Post{{ID: "p1", Title: "Why Go", Slug: "why-go", Body: []byte(`[{"_type":"block","children":[{"_type":"span","text":"Because."}]}]`)}}}
	router := newSiteRouter(t, blog)

	tests := []struct {
		path     string
		want     int
		contains string
	}{
		{"/", http.StatusOK, "Landing page"},
		{"/services", http.StatusOK, "from $1,500.00"},
		{"/services/landing-page", http.StatusOK, "Contact form"},
		{"/services/missing", http.StatusNotFound, "404"},
		{"/pricing", http.StatusOK, "Development"},
		{"/blog", http.StatusOK, "Why Go"},
		{"/blog/why-go", http.StatusOK, "Because."},
		{"/blog/nope", http.StatusNotFound, "404"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(router, tt.path)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Fatalf("body does not contain %q", tt.contains)
			}
		})
	}
}

func TestBlogPagesWithoutCMS(t *testing.T) {
	router := newSiteRouter(t, nil)
	if w := get(router, "/blog"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	// главная не зависит от блога
	if w := get(router, "/"); w.Code != http.StatusOK {
		t.Fatalf("home status = %d", w.Code)
	}
}
