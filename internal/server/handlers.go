package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/voyagen/iptvmine/internal/aggregator"
	"github.com/voyagen/iptvmine/internal/fetcher"
	"github.com/voyagen/iptvmine/internal/filter"
	"github.com/voyagen/iptvmine/internal/models"
	"github.com/voyagen/iptvmine/internal/player"
	"github.com/voyagen/iptvmine/internal/store"
)

var errNoFavorites = errors.New("favorites are not available with this source store")

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// --- source handlers ---

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.sources.ListSources(r.Context())
	if err != nil {
		writeErr(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	if sources == nil {
		sources = []models.SourceConfig{}
	}
	writeJSON(w, s.logger, http.StatusOK, sources)
}

type sourceRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decodeBody(w, r, s.logger, &req) {
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeErr(w, s.logger, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	if !store.ValidSourceURL(req.URL) {
		writeErr(w, s.logger, http.StatusBadRequest, errors.New("url must use http, https, rtmp, rtsp, udp or rtp"))
		return
	}
	added, err := s.sources.AddSource(r.Context(), req.URL)
	if err != nil {
		writeErr(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	if !added {
		writeErr(w, s.logger, http.StatusConflict, fmt.Errorf("source already configured: %s", req.URL))
		return
	}
	if err := s.syncSources(r.Context()); err != nil {
		writeErr(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, s.logger, http.StatusCreated, map[string]any{"url": req.URL, "added": true})
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	u := strings.TrimSpace(r.URL.Query().Get("url"))
	if u == "" {
		writeErr(w, s.logger, http.StatusBadRequest, errors.New("url query parameter is required"))
		return
	}
	if err := s.sources.RemoveSource(r.Context(), u); err != nil {
		writeErr(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	if err := s.syncSources(r.Context()); err != nil {
		writeErr(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleResetSources(w http.ResponseWriter, r *http.Request) {
	if err := s.sources.ResetToDefaults(r.Context()); err != nil {
		writeErr(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	if err := s.syncSources(r.Context()); err != nil {
		writeErr(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	s.handleListSources(w, r)
}

// syncSources copies the stored enabled sources into the aggregator.
func (s *Server) syncSources(ctx context.Context) error {
	urls, err := s.sources.SourceURLs(ctx)
	if err != nil {
		return err
	}
	s.agg.SetSources(urls)
	return nil
}

// --- refresh handlers ---

type refreshResponse struct {
	Channels  int    `json:"channels"`
	Succeeded int    `json:"succeeded"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.syncSources(r.Context()); err != nil {
		writeErr(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	// The fetch outlives a disconnected client; the catalog is still updated.
	s.awaitResult(w, r, s.agg.FetchAll(context.WithoutCancel(r.Context())))
}

func (s *Server) handleRefreshSingle(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decodeBody(w, r, s.logger, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeErr(w, s.logger, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	s.awaitResult(w, r, s.agg.FetchSingle(context.WithoutCancel(r.Context()), req.URL))
}

func (s *Server) awaitResult(w http.ResponseWriter, r *http.Request, ch <-chan aggregator.Result) {
	var res aggregator.Result
	select {
	case res = <-ch:
	case <-r.Context().Done():
		return
	}
	if res.Cancelled {
		writeErr(w, s.logger, http.StatusConflict, errors.New("superseded by a newer refresh"))
		return
	}
	status := http.StatusOK
	if res.Err != "" && len(res.Channels) == 0 && res.Succeeded == 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, s.logger, status, refreshResponse{
		Channels:  len(res.Channels),
		Succeeded: res.Succeeded,
		Total:     res.Total,
		Error:     res.Err,
	})
}

// --- catalog handlers ---

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.agg.Catalog())
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, s.logger, http.StatusOK, s.agg.FilterByTextAndCategory(q.Get("q"), q.Get("category")))
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	cats := s.agg.Catalog().Categories
	if cats == nil {
		cats = []string{}
	}
	writeJSON(w, s.logger, http.StatusOK, cats)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	channels := fetcher.FilterByCategory(s.agg.Catalog().Channels, r.URL.Query().Get("category"))
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", `attachment; filename="iptvmine.m3u"`)
	if err := fetcher.WriteM3U(w, channels); err != nil {
		s.logger.Error().Err(err).Msg("export write")
	}
}

type resolveResponse struct {
	Format string      `json:"format"`
	Live   bool        `json:"live"`
	Item   player.Item `json:"item"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	u := strings.TrimSpace(r.URL.Query().Get("url"))
	if u == "" {
		writeErr(w, s.logger, http.StatusBadRequest, errors.New("url query parameter is required"))
		return
	}
	item := player.BuildItem(u)
	writeJSON(w, s.logger, http.StatusOK, resolveResponse{
		Format: player.InferFormat(u).String(),
		Live:   item.Live != nil,
		Item:   item,
	})
}

// --- favorites handlers ---

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	if s.favorites == nil {
		writeErr(w, s.logger, http.StatusNotImplemented, errNoFavorites)
		return
	}
	names, err := s.favorites.List(r.Context())
	if err != nil {
		writeErr(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, s.logger, http.StatusOK, names)
}

type favoriteRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	if s.favorites == nil {
		writeErr(w, s.logger, http.StatusNotImplemented, errNoFavorites)
		return
	}
	var req favoriteRequest
	if !decodeBody(w, r, s.logger, &req) {
		return
	}
	if req.Name == "" {
		writeErr(w, s.logger, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	fav, err := s.favorites.Toggle(r.Context(), req.Name)
	if err != nil {
		writeErr(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"name": req.Name, "favorite": fav})
}

// --- blocklist handlers ---

type blocklistResponse struct {
	Categories []string `json:"categories"`
	Keywords   []string `json:"keywords"`
	Custom     []string `json:"custom"`
}

func (s *Server) handleBlocklist(w http.ResponseWriter, _ *http.Request) {
	custom := s.policy.CustomCategories()
	if custom == nil {
		custom = []string{}
	}
	writeJSON(w, s.logger, http.StatusOK, blocklistResponse{
		Categories: filter.BlockedCategories(),
		Keywords:   filter.BlockedChannelKeywords(),
		Custom:     custom,
	})
}

type blockRequest struct {
	Category string `json:"category"`
}

func (s *Server) handleBlockCategory(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if !decodeBody(w, r, s.logger, &req) {
		return
	}
	if strings.TrimSpace(req.Category) == "" {
		writeErr(w, s.logger, http.StatusBadRequest, errors.New("category is required"))
		return
	}
	s.policy.AddCustomCategory(req.Category)
	s.handleBlocklist(w, r)
}

func (s *Server) handleUnblockCategory(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		s.policy.ClearCustomCategories()
	} else {
		s.policy.RemoveCustomCategory(category)
	}
	writeNoContent(w)
}

// --- helpers ---

// APIError is the standard error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, l zerolog.Logger, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, l, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, l zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l.Error().Err(err).Msg("writeJSON")
	}
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeErr(w http.ResponseWriter, l zerolog.Logger, status int, err error) {
	if status >= 500 {
		l.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, l, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}
