package httpdoc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/hyperengineering/teamsync"
	"github.com/oklog/ulid/v2"
)

const (
	maxBodyBytes = 1 << 22
	writeTimeout = 10 * time.Second
)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAPIKey requires "Authorization: Bearer <key>" on every /v1 route.
func WithAPIKey(key string) HandlerOption {
	return func(h *Handler) { h.apiKey = key }
}

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithOriginPatterns sets the websocket origins accepted besides the
// request host.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) { h.origins = patterns }
}

// Handler serves a RemoteStore over HTTP.
type Handler struct {
	store   teamsync.RemoteStore
	apiKey  string
	origins []string
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewHandler creates a handler serving store.
func NewHandler(store teamsync.RemoteStore, opts ...HandlerOption) *Handler {
	h := &Handler{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("PUT /v1/docs/{collection}/{id}", h.auth(h.handleCreate))
	mux.Handle("PATCH /v1/docs/{collection}/{id}", h.auth(h.handleUpdate))
	mux.Handle("POST /v1/query/{collection}", h.auth(h.handleQuery))
	mux.Handle("GET /v1/subscribe/{collection}", h.auth(h.handleSubscribe))
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
		}
		next(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: time.Now().UTC()})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, "create", h.store.CreateDocument)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, "update", h.store.UpdateDocument)
}

type writeFunc func(ctx context.Context, collection string, rec teamsync.Fields) error

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request, op string, write writeFunc) {
	collection, id := r.PathValue("collection"), r.PathValue("id")

	var rec teamsync.Fields
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid document: "+err.Error())
		return
	}
	if rec == nil {
		rec = teamsync.Fields{}
	}
	if bodyID := rec.ID(); bodyID != "" && bodyID != id {
		writeError(w, http.StatusBadRequest, "document id does not match path")
		return
	}
	rec["id"] = id

	if err := write(r.Context(), collection, decodeTimestamps(rec)); err != nil {
		h.logger.Warn("document write failed", "op", op, "collection", collection, "document_id", id, "error", err)
		writeStoreError(w, err)
		return
	}
	h.logger.Debug("document written", "op", op, "collection", collection, "document_id", id,
		"request_id", r.Header.Get("X-Request-ID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}
	if err := teamsync.ValidateFilters(req.Filters); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	docs, err := h.store.QueryDocuments(r.Context(), collection, req.Filters)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if docs == nil {
		docs = []teamsync.Fields{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{Documents: docs})
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	filters, err := decodeFilters(r.URL.Query().Get("filters"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := teamsync.ValidateFilters(filters); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Client messages are not part of the protocol; CloseRead handles
	// control frames and ends ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	subID := ulid.Make().String()

	// latest holds at most one undelivered snapshot; a newer one replaces it.
	latest := make(chan []teamsync.Fields, 1)
	var pushMu sync.Mutex
	push := func(_ context.Context, docs []teamsync.Fields) {
		pushMu.Lock()
		defer pushMu.Unlock()
		select {
		case <-latest:
		default:
		}
		latest <- docs
	}

	unsub, err := h.store.SubscribeToQuery(ctx, collection, filters, push)
	if err != nil {
		h.logger.Warn("subscribe failed", "collection", collection, "error", err)
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer unsub()
	h.logger.Info("subscription opened", "collection", collection, "subscription", subID, "filters", len(filters))

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("subscription closed", "collection", collection, "subscription", subID)
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case docs := <-latest:
			if docs == nil {
				docs = []teamsync.Fields{}
			}
			msg := SnapshotMessage{Type: messageSnapshot, Subscription: subID, Documents: docs}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				h.logger.Debug("snapshot write failed", "subscription", subID, "error", err)
				return
			}
		}
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	var re *teamsync.RemoteError
	switch {
	case errors.Is(err, teamsync.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &re) && re.StatusCode >= 400:
		writeError(w, re.StatusCode, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
