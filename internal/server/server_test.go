package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/cache"
	"marketplace/internal/catalog"
	"marketplace/internal/checker"
	"marketplace/internal/config"
	"marketplace/internal/listing"
	"marketplace/internal/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		General: config.GeneralConfig{
			ID:       "tg01",
			Name:     "TextGrid",
			URL:      "https://mp.example.org",
			WikiView: "https://wiki.example.org/display/TextGrid/Marketplace",
		},
		Categories: []catalog.Category{
			{ID: "4", Name: "stable"},
			{ID: "6", Name: "external"},
		},
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second, CheckTimeout: time.Second},
	}
}

type fixture struct {
	server  *Server
	store   *cache.DirStore
	updates *httptest.Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	updates := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(updates.Close)

	cfg := testConfig()
	source, err := catalog.NewStaticSource(cfg.Marketplace(), []catalog.Plugin{
		{ID: "1", PageID: "9012111", Title: "Repository client", Category: "4", UpdateURL: updates.URL + "/ok"},
		{ID: "3", PageID: "36342854", Title: "MEISE Noteneditor", Category: "4", UpdateURL: updates.URL + "/ok",
			InstallableUnit: "info.textgrid.lab.noteeditor.feature.feature.group"},
		{ID: "5", PageID: "27329537", Title: "Digilib", Category: "6", UpdateURL: updates.URL + "/ok"},
	})
	require.NoError(t, err)

	store, err := cache.NewDir(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "9012111", []byte("<p><td>Access the TextGrid Repository</td></p>")))
	require.NoError(t, store.Set(ctx, "36342854", []byte("<p><td>... MEISE Noteneditor für Musik ...</td></p>")))
	require.NoError(t, store.Set(ctx, "27329537", []byte("<p><td>Zoomable images</td></p>")))

	opts = append([]Option{WithChecker(checker.New(time.Second))}, opts...)
	return &fixture{
		server:  New(cfg, source, store, "test-version", opts...),
		store:   store,
		updates: updates,
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func parseBody(t *testing.T, rec *httptest.ResponseRecorder) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(rec.Body.Bytes()))
	return doc
}

func TestXMLEndpoints(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path string
		root string
	}{
		{"/api/p", "/marketplace/market"},
		{"/catalogs/api/p", "/marketplace/catalogs/catalog"},
		{"/taxonomy/term/tg01,4/api/p", "/marketplace/category"},
		{"/taxonomy/term/tg01,stable/api/p", "/marketplace/category"},
		{"/featured/api/p", "/marketplace/featured"},
		{"/featured/0/api/p", "/marketplace/featured"},
		{"/recent/api/p", "/marketplace/recent"},
		{"/favorites/top/api/p", "/marketplace/favorites"},
		{"/popular/top/api/p", "/marketplace/popular"},
		{"/node/1/api/p", "/marketplace/node"},
		{"/content/1/api/p", "/marketplace/node"},
		{"/api/p/search/apachesolr_search/meise", "/marketplace/search"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.get(t, tt.path+"?product=info.textgrid.lab.core.application.base_product&nl=de_DE")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "text/xml; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Equal(t, "test-version", rec.Header().Get("X-Marketplace-Version"))
			assert.NotEmpty(t, rec.Header().Get("ETag"))
			assert.True(t, strings.HasPrefix(rec.Body.String(), "<?xml"))
			assert.NotNil(t, parseBody(t, rec).FindElement(tt.root))
		})
	}
}

func TestTaxonomyEndpoint(t *testing.T) {
	f := newFixture(t)

	doc := parseBody(t, f.get(t, "/taxonomy/term/tg01,4/api/p"))
	var ids []string
	for _, n := range doc.FindElements("/marketplace/category/node") {
		ids = append(ids, n.SelectAttrValue("id", ""))
	}
	assert.Equal(t, []string{"1", "3"}, ids)
	assert.Len(t, doc.FindElements("/marketplace/category/favorited"), 2)
}

func TestListTypeListsEveryPlugin(t *testing.T) {
	f := newFixture(t)

	list := parseBody(t, f.get(t, "/featured/tg01/api/p")).FindElement("/marketplace/featured")
	require.NotNil(t, list)
	assert.Equal(t, "3", list.SelectAttrValue("count", ""))
	assert.Len(t, list.SelectElements("node"), 3)
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path  string
		term  string
		count string
		ids   []string
	}{
		{path: "/api/p/search/apachesolr_search/MEISE", term: "MEISE", count: "1", ids: []string{"3"}},
		{path: "/api/p/search/apachesolr_search/f%C3%BCr+musik", term: "für musik", count: "1", ids: []string{"3"}},
		{path: "/api/p/search/apachesolr_search/textgrid", term: "textgrid", count: "1", ids: []string{"1"}},
		{path: "/api/p/search/apachesolr_search/e?filters=tid:tg01%20tid:6", term: "e", count: "1", ids: []string{"5"}},
		{path: "/api/p/search/apachesolr_search/nomatch", term: "nomatch", count: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.get(t, tt.path)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			search := parseBody(t, rec).FindElement("/marketplace/search")
			require.NotNil(t, search)
			assert.Equal(t, tt.term, search.SelectAttrValue("term", ""))
			assert.Equal(t, tt.count, search.SelectAttrValue("count", ""))

			var ids []string
			for _, n := range search.SelectElements("node") {
				ids = append(ids, n.SelectAttrValue("id", ""))
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path   string
		status int
	}{
		{"/content/42/api/p", http.StatusNotFound},
		{"/node/42/api/p", http.StatusNotFound},
		{"/taxonomy/term/tg01,beta/api/p", http.StatusNotFound},
		{"/taxonomy/term/tg01/api/p", http.StatusUnprocessableEntity},
		{"/1st/api/p", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.get(t, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrapped: %w", catalog.ErrPluginNotFound), http.StatusNotFound},
		{catalog.ErrUnknownCategory, http.StatusNotFound},
		{listing.ErrInvalidListType, http.StatusUnprocessableEntity},
		{catalog.ErrUpstreamUnavailable, http.StatusBadGateway},
		{catalog.ErrMalformedCatalog, http.StatusInternalServerError},
		{fmt.Errorf("%w: plugin %q: %w", catalog.ErrMalformedCatalog, "2", catalog.ErrUnknownCategory), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("anything else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

type failingSource struct{ err error }

func (s failingSource) Load(context.Context) (*catalog.Catalog, error) { return nil, s.err }

func TestMalformedCatalog(t *testing.T) {
	f := newFixture(t)
	f.server.UpdateConfig(testConfig(), failingSource{err: fmt.Errorf("%w: duplicate plugId", catalog.ErrMalformedCatalog)})

	rec := f.get(t, "/featured/api/p")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed catalog")
}

func TestNotFoundPage(t *testing.T) {
	rec := newFixture(t).get(t, "/nopage")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<title>Not Found</title>")
}

func TestHomeRedirectsToWiki(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://wiki.example.org/display/TextGrid/Marketplace", rec.Header().Get("Location"))

	cfg := testConfig()
	cfg.General.WikiView = ""
	_, source := f.server.snapshot()
	f.server.UpdateConfig(cfg, source)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/").Code)
}

func TestETag(t *testing.T) {
	f := newFixture(t)

	first := f.get(t, "/api/p")
	second := f.get(t, "/api/p")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	etag := first.Header().Get("ETag")
	assert.Equal(t, etag, second.Header().Get("ETag"))

	req := httptest.NewRequest(http.MethodGet, "/api/p", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestCheckEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/check")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "All update site URLS ok", rec.Body.String())

	cfg := testConfig()
	source, err := catalog.NewStaticSource(cfg.Marketplace(), []catalog.Plugin{
		{ID: "1", Category: "4", UpdateURL: f.updates.URL + "/ok"},
		{ID: "2", Category: "6", UpdateURL: f.updates.URL + "/broken"},
	})
	require.NoError(t, err)
	f.server.UpdateConfig(cfg, source)

	rec = f.get(t, "/check")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed update site URLs: "+f.updates.URL+"/broken", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, WithMetrics(metrics.New()))

	require.Equal(t, http.StatusOK, f.get(t, "/content/3/api/p").Code)

	rec := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `marketplace_http_requests_total{code="200",route="/content/{id}/api/p"} 1`)
	assert.Contains(t, rec.Body.String(), "marketplace_catalog_plugins 3")
}

func TestDecodeTerm(t *testing.T) {
	assert.Equal(t, "können", decodeTerm("k%C3%B6nnen"))
	assert.Equal(t, "können", decodeTerm("können"))
	assert.Equal(t, "two words", decodeTerm("two+words"))
	assert.Equal(t, "100% sure", decodeTerm("100%+sure"))
}

func TestSearchTermDecodedOnce(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/p/search/apachesolr_search/50%2525")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50%25", parseBody(t, rec).FindElement("/marketplace/search").SelectAttrValue("term", ""))

	rec = f.get(t, "/api/p/search/apachesolr_search/a%2Bb")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a+b", parseBody(t, rec).FindElement("/marketplace/search").SelectAttrValue("term", ""))
}

func TestETagMatches(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`"abc"`, true},
		{`W/"abc"`, true},
		{`"x", "abc"`, true},
		{`"x",W/"abc"`, true},
		{"*", true},
		{`"abcd"`, false},
		{`"x", "y"`, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, etagMatches(tt.header, `"abc"`), tt.header)
	}
}

func TestETagListAndWeakTag(t *testing.T) {
	f := newFixture(t)
	etag := f.get(t, "/catalogs/api/p").Header().Get("ETag")
	require.NotEmpty(t, etag)

	for _, header := range []string{`"stale", ` + etag, "W/" + etag} {
		req := httptest.NewRequest(http.MethodGet, "/catalogs/api/p", nil)
		req.Header.Set("If-None-Match", header)
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotModified, rec.Code, header)
	}
}

func TestUpdateConfigRebuildsChecker(t *testing.T) {
	cfg := testConfig()
	source, err := catalog.NewStaticSource(cfg.Marketplace(), nil)
	require.NoError(t, err)

	s := New(cfg, source, nil, "test-version")
	assert.Equal(t, time.Second, s.currentChecker().Timeout())

	reloaded := testConfig()
	reloaded.Server.CheckTimeout = 3 * time.Second
	s.UpdateConfig(reloaded, source)
	assert.Equal(t, 3*time.Second, s.currentChecker().Timeout())

	fixed := checker.New(5 * time.Second)
	s = New(cfg, source, nil, "test-version", WithChecker(fixed))
	s.UpdateConfig(reloaded, source)
	assert.Same(t, fixed, s.currentChecker())
}

func TestCatalogProbe(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.server.CatalogProbe(context.Background()))

	f.server.UpdateConfig(testConfig(), failingSource{err: catalog.ErrMalformedCatalog})
	assert.ErrorIs(t, f.server.CatalogProbe(context.Background()), catalog.ErrMalformedCatalog)
}
