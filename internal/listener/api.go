package listener

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"hostagent/internal/check"
	"hostagent/internal/logger"
	"hostagent/internal/node"
	"hostagent/internal/services"
	"hostagent/internal/storage"
)

const defaultChecksLimit = 100

// Tree is the part of the resource tree the API uses.
type Tree interface {
	Resolve(ctx context.Context, path []string, q node.Query) (map[string]any, error)
	Check(ctx context.Context, path []string, q node.Query) check.Result
}

// Store is the check history used by the API. A nil Store disables it.
type Store interface {
	RecordCheck(ctx context.Context, r storage.Record) (int64, error)
	RecentChecks(ctx context.Context, limit int) ([]storage.Record, error)
}

type api struct {
	tree    Tree
	store   Store
	token   string
	version string
	started time.Time
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/{path...}", a.handleAPI)
	mux.HandleFunc("GET /api", a.handleAPI)
	mux.HandleFunc("GET /checks", a.handleChecks)
	mux.HandleFunc("GET /health", a.handleHealth)
	return a.authenticate(mux)
}

func (a *api) authenticate(next http.Handler) http.Handler {
	if a.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *api) handleAPI(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("listener")
	params := r.URL.Query()
	path := node.SplitPath(r.PathValue("path"))
	q := node.QueryFromParams(params)

	if isTrue(params.Get("check")) {
		res := a.tree.Check(r.Context(), path, q)
		a.record(r.Context(), strings.Join(path, "/"), params, res)
		log.Debug().
			Str("path", strings.Join(path, "/")).
			Int("returncode", res.Returncode).
			Msg("API check")
		writeJSON(w, http.StatusOK, res)
		return
	}

	data, err := a.tree.Resolve(r.Context(), path, q)
	if err != nil {
		var nf *node.NotFoundError
		var pe *services.ProviderError
		switch {
		case errors.As(err, &nf):
			writeJSON(w, http.StatusOK, check.Criticalf("Node %s was not found", nf.Path))
		case errors.As(err, &pe):
			log.Warn().Err(err).Str("path", strings.Join(path, "/")).Msg("Service provider failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			log.Error().Err(err).Str("path", strings.Join(path, "/")).Msg("Walk failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *api) record(ctx context.Context, path string, params url.Values, res check.Result) {
	if a.store == nil {
		return
	}

	kept := url.Values{}
	for k, v := range params {
		if k == "token" || k == "check" {
			continue
		}
		kept[k] = v
	}

	_, err := a.store.RecordCheck(ctx, storage.Record{
		Source:     storage.SourceAPI,
		Path:       path,
		Query:      kept.Encode(),
		Returncode: res.Returncode,
		Stdout:     res.Stdout,
	})
	if err != nil {
		log := logger.WithComponent("listener")
		log.Warn().Err(err).Msg("Failed to record check")
	}
}

func (a *api) handleChecks(w http.ResponseWriter, r *http.Request) {
	limit := defaultChecksLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	checks := []storage.Record{}
	if a.store != nil {
		recs, err := a.store.RecentChecks(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		checks = append(checks, recs...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": checks})
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": a.version,
		"pid":     os.Getpid(),
		"uptime":  int64(time.Since(a.started).Seconds()),
	})
}

func isTrue(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.WithComponent("listener")
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
