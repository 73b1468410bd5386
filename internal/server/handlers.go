package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"

	"marketplace/internal/catalog"
	"marketplace/internal/listing"
	"marketplace/internal/search"
)

const xmlContentType = "text/xml; charset=utf-8"

var errBadRequest = errors.New("bad request")

const notFoundPage = `<html>
    <head>
        <title>Not Found</title>
    </head>
    <body>
        <h1>Method not found, check the Eclipse Marketplace REST documentation for the supported paths.</h1>
    </body>
</html>
`

func (s *Server) load(ctx context.Context) (*catalog.Catalog, error) {
	_, source := s.snapshot()
	c, err := source.Load(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.CatalogLoaded(len(c.Plugins))
	}
	return c, nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	c, err := s.load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeXML(w, r, listing.Root(c.Marketplace))
}

func (s *Server) handleCatalogs(w http.ResponseWriter, r *http.Request) {
	c, err := s.load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeXML(w, r, listing.Catalogs(c.Marketplace))
}

// handleTaxonomy serves /taxonomy/term/{marketID},{categoryID}/api/p. The
// category may be given by id or display name.
func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	_, category, ok := strings.Cut(chi.URLParam(r, "term"), ",")
	category = strings.TrimSpace(category)
	if !ok || category == "" {
		writeError(w, r, fmt.Errorf("%w: expected {marketId},{categoryId}", errBadRequest))
		return
	}

	c, err := s.load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	root, err := listing.Taxonomy(c, category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeXML(w, r, root)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	c, err := s.load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	root, err := listing.Content(c, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeXML(w, r, root)
}

func (s *Server) handleListType(w http.ResponseWriter, r *http.Request) {
	c, err := s.load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	root, err := listing.ListByType(c, chi.URLParam(r, "listType"), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeXML(w, r, root)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := searchTerm(r)

	c, err := s.load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	idx, err := search.Build(r.Context(), c.Plugins, s.store)
	if err != nil {
		writeError(w, r, err)
		return
	}

	hits := idx.Find(term, search.ParseFilter(r.URL.Query().Get("filters"), c.Marketplace))
	if s.metrics != nil {
		s.metrics.SearchServed(len(hits))
	}

	root, err := listing.Search(c, term, hits)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeXML(w, r, root)
}

const searchPrefix = "/api/p/search/apachesolr_search/"

// searchTerm takes the term from the escaped path so it is decoded exactly
// once. chi hands out the already decoded segment.
func searchTerm(r *http.Request) string {
	if escaped := r.URL.EscapedPath(); strings.HasPrefix(escaped, searchPrefix) {
		return decodeTerm(strings.TrimPrefix(escaped, searchPrefix))
	}
	return decodeTerm(chi.URLParam(r, "term"))
}

// decodeTerm undoes form encoding of a search term taken from the path:
// "%C3%B6" becomes "ö" and "+" becomes a space.
func decodeTerm(raw string) string {
	term, err := url.QueryUnescape(raw)
	if err != nil {
		return strings.ReplaceAll(raw, "+", " ")
	}
	return term
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	c, err := s.load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	broken, err := s.currentChecker().Check(r.Context(), c.Plugins)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(broken) > 0 {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Failed update site URLs: " + strings.Join(broken, ", ")))
		return
	}
	_, _ = w.Write([]byte("All update site URLS ok"))
}

// handleHome sends browsers to the wiki page describing the marketplace.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	cfg, _ := s.snapshot()
	if cfg.General.WikiView == "" {
		notFoundHandler(w, r)
		return
	}
	http.Redirect(w, r, cfg.General.WikiView, http.StatusFound)
}

func writeXML(w http.ResponseWriter, r *http.Request, root *etree.Element) {
	body, err := listing.Serialize(root)
	if err != nil {
		writeError(w, r, err)
		return
	}

	etag := `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
	w.Header().Set("ETag", etag)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", xmlContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if _, err := w.Write(body); err != nil {
		slog.Error("Failed to write response body", "error", err)
	}
}

// etagMatches reports whether an If-None-Match header names etag. The header
// may list several tags, and weak tags match by their opaque part.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

// statusFor maps core failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrMalformedCatalog):
		return http.StatusInternalServerError
	case errors.Is(err, catalog.ErrPluginNotFound), errors.Is(err, catalog.ErrUnknownCategory):
		return http.StatusNotFound
	case errors.Is(err, listing.ErrInvalidListType), errors.Is(err, errBadRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Info("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func notFoundHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(notFoundPage))
}
