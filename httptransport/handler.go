package httptransport

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/velmie/offsync"
)

// Handler serves pushes for a Transport.
type Handler struct {
	transport offsync.Transport
	cfg       HandlerConfig
}

// NewHandler builds a Handler.
func NewHandler(transport offsync.Transport, opts ...HandlerOption) (*Handler, error) {
	if transport == nil {
		return nil, ErrTransportRequired
	}

	var cfg HandlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Handler{transport: transport, cfg: cfg.withDefaults()}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get(correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	switch r.URL.Path {
	case HealthPath:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", correlationID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case PushPath:
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", correlationID)
			return
		}
		h.push(w, r, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (h *Handler) push(w http.ResponseWriter, r *http.Request, correlationID string) {
	if h.cfg.Token != "" && bearerToken(r) != h.cfg.Token {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", correlationID)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}

	var req offsync.PushRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), correlationID)
		return
	}
	if req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "source_required", "sourceId is required", correlationID)
		return
	}

	resp, err := h.transport.Push(r.Context(), req)
	if err != nil {
		h.cfg.Logger.Error("push failed", "source", req.SourceID, "correlation_id", correlationID, "err", err)
		if offsync.IsPermanent(err) {
			writeError(w, http.StatusUnprocessableEntity, "push_rejected", err.Error(), correlationID)
			return
		}
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), correlationID)
		return
	}

	h.cfg.Logger.Debug("push served", "source", req.SourceID, "changes", len(req.Changes),
		"pulled", len(resp.Changes), "cursor", resp.Cursor, "correlation_id", correlationID)
	writeJSON(w, http.StatusOK, resp)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}

	return strings.TrimSpace(token)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	if correlationID != "" {
		w.Header().Set(correlationHeader, correlationID)
	}
	writeJSON(w, status, errorBody{Code: code, Message: message, CorrelationID: correlationID})
}
