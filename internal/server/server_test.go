package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/iptvmine/internal/aggregator"
	"github.com/voyagen/iptvmine/internal/fetcher"
	"github.com/voyagen/iptvmine/internal/filter"
	"github.com/voyagen/iptvmine/internal/models"
	"github.com/voyagen/iptvmine/internal/store"
)

const playlist = "#EXTM3U\n" +
	`#EXTINF:-1 tvg-logo="http://x/bbc.png" group-title="News",BBC News` + "\nhttp://example.com/bbc.m3u8\n" +
	`#EXTINF:-1 group-title="Sports",ESPN` + "\nhttp://example.com/espn.m3u8\n" +
	`#EXTINF:-1 group-title="News",CNN` + "\nhttp://example.com/cnn.m3u8\n"

type fixture struct {
	srv      *Server
	store    *store.FileStore
	agg      *aggregator.Aggregator
	upstream *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good.m3u":
			_, _ = io.WriteString(w, playlist)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(up.Close)

	fs := store.NewFileStore(afero.NewMemMapFs(), "/data/sources.yaml")
	require.NoError(t, fs.SetSources(context.Background(), []string{up.URL + "/good.m3u"}))

	policy := filter.New(filter.WithLogger(zerolog.Nop()))
	agg := aggregator.New(fetcher.NewClient(fetcher.Options{}), policy, aggregator.WithLogger(zerolog.Nop()))
	t.Cleanup(agg.Close)

	srv := New(agg, fs, policy, "0", WithLogger(zerolog.Nop()), WithFavorites(fs.Favorites()))
	return &fixture{srv: srv, store: fs, agg: agg, upstream: up}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflight(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodOptions, "/api/sources", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRefreshAndCatalog(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[refreshResponse](t, rec)
	assert.Equal(t, refreshResponse{Channels: 3, Succeeded: 1, Total: 1}, res)

	cat := decode[models.Catalog](t, f.do(t, http.MethodGet, "/api/catalog", nil))
	assert.Len(t, cat.Channels, 3)
	assert.False(t, cat.Loading)

	cats := decode[[]string](t, f.do(t, http.MethodGet, "/api/categories", nil))
	assert.Equal(t, []string{"All", "News", "Sports"}, cats)

	chs := decode[[]models.Channel](t, f.do(t, http.MethodGet, "/api/channels?q=bbc", nil))
	require.Len(t, chs, 1)
	assert.Equal(t, "BBC News", chs[0].Name)

	chs = decode[[]models.Channel](t, f.do(t, http.MethodGet, "/api/channels?category=News", nil))
	assert.Len(t, chs, 2)

	rec = f.do(t, http.MethodGet, "/api/export.m3u?category=Sports", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/x-mpegurl", rec.Header().Get("Content-Type"))
	parsed, _, err := fetcher.ParseString(rec.Body.String(), fetcher.ParseOptions{Strict: true})
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "ESPN", parsed[0].Name)
}

func TestRefreshAllFailed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetSources(context.Background(), []string{f.upstream.URL + "/broken.m3u"}))

	rec := f.do(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	res := decode[refreshResponse](t, rec)
	assert.Equal(t, 0, res.Succeeded)
	assert.Contains(t, res.Error, "HTTP 500")
}

func TestRefreshSingle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/refresh/single", sourceRequest{URL: f.upstream.URL + "/good.m3u"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[refreshResponse](t, rec).Channels)

	rec = f.do(t, http.MethodPost, "/api/refresh/single", sourceRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshRateLimited(t *testing.T) {
	f := newFixture(t)
	var last int
	for i := 0; i <= RefreshLimit; i++ {
		last = f.do(t, http.MethodPost, "/api/refresh/single", sourceRequest{}).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestSources(t *testing.T) {
	f := newFixture(t)
	good := f.upstream.URL + "/good.m3u"

	rec := f.do(t, http.MethodPost, "/api/sources", sourceRequest{URL: "ftp://example.com/list.m3u"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sources", sourceRequest{URL: good})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sources", sourceRequest{URL: "http://other.example/list.m3u"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{good, "http://other.example/list.m3u"}, f.agg.Sources())

	list := decode[[]models.SourceConfig](t, f.do(t, http.MethodGet, "/api/sources", nil))
	assert.Len(t, list, 2)

	rec = f.do(t, http.MethodDelete, "/api/sources?url="+good, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"http://other.example/list.m3u"}, f.agg.Sources())

	rec = f.do(t, http.MethodDelete, "/api/sources", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sources/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{models.DefaultSourceURL}, f.agg.Sources())
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/resolve?url=http://example.com/live/ch.m3u8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[resolveResponse](t, rec)
	assert.Equal(t, "hls", res.Format)
	assert.True(t, res.Live)
	assert.Equal(t, "application/x-mpegURL", res.Item.MIME)

	rec = f.do(t, http.MethodGet, "/api/resolve", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFavorites(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/favorites", favoriteRequest{Name: "ESPN"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"ESPN","favorite":true}`, rec.Body.String())

	names := decode[[]string](t, f.do(t, http.MethodGet, "/api/favorites", nil))
	assert.Equal(t, []string{"ESPN"}, names)

	rec = f.do(t, http.MethodPost, "/api/favorites", favoriteRequest{Name: "ESPN"})
	assert.JSONEq(t, `{"name":"ESPN","favorite":false}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/favorites", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFavoritesUnavailable(t *testing.T) {
	f := newFixture(t)
	f.srv.favorites = nil
	rec := f.do(t, http.MethodGet, "/api/favorites", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestBlocklist(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/blocklist", blockRequest{Category: "Sports"})
	require.Equal(t, http.StatusOK, rec.Code)
	bl := decode[blocklistResponse](t, rec)
	assert.Equal(t, []string{"sports"}, bl.Custom)
	assert.NotEmpty(t, bl.Categories)

	rec = f.do(t, http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cat := decode[models.Catalog](t, f.do(t, http.MethodGet, "/api/catalog", nil))
	for _, ch := range cat.Channels {
		assert.NotEqual(t, "Sports", ch.Category)
	}

	rec = f.do(t, http.MethodDelete, "/api/blocklist?category=sports", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.srv.policy.CustomCategories())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
