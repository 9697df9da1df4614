// Package beacon serves the public pixel and click endpoints embedded in
// outbound mail. Responses never depend on the event store: a pixel is
// always served and a click always redirects.
package beacon

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/leadtrack/internal/domain"
	"github.com/ignite/leadtrack/internal/pkg/logger"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// PixelMode selects the open beacon response body.
type PixelMode string

const (
	PixelGIF       PixelMode = "gif"
	PixelNoContent PixelMode = "no_content"
)

// Recorder is the ingestion surface the handler drives. *tracking.Ingestor
// implements it.
type Recorder interface {
	RecordOpen(ctx context.Context, tokenID string, meta domain.ClientMeta)
	RecordClick(ctx context.Context, tokenID, dest string, meta domain.ClientMeta) string
}

var _ Recorder = (*tracking.Ingestor)(nil)

type Handler struct {
	rec      Recorder
	mode     PixelMode
	fallback string
}

// NewHandler creates the beacon handler. fallback is where clicks go when the
// handler itself fails.
func NewHandler(rec Recorder, mode PixelMode, fallback string) *Handler {
	if mode != PixelNoContent {
		mode = PixelGIF
	}
	return &Handler{rec: rec, mode: mode, fallback: fallback}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.recoverer)
	r.Get("/pixel/{token}", h.HandlePixel)
	r.Get("/click/{token}", h.HandleClick)
	r.Get("/health", h.HandleHealth)
	return r
}

func (h *Handler) HandlePixel(w http.ResponseWriter, r *http.Request) {
	h.rec.RecordOpen(r.Context(), chi.URLParam(r, "token"), clientMeta(r))
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	target := h.rec.RecordClick(r.Context(), chi.URLParam(r, "token"), r.URL.Query().Get("dest"), clientMeta(r))
	redirect(w, target)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	if h.mode == PixelNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Write(pixelGIF)
}

// redirect writes a 302 without touching the request, so a relative or
// odd-looking target is never rewritten.
func redirect(w http.ResponseWriter, target string) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusFound)
}

// recoverer turns a panic into the normal beacon response: the pixel for
// opens, the fallback redirect for clicks. Beacons never answer 5xx.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("beacon handler panic", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
			if strings.HasPrefix(r.URL.Path, "/click/") {
				redirect(w, h.fallback)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}()
		next.ServeHTTP(w, r)
	})
}

func clientMeta(r *http.Request) domain.ClientMeta {
	ua := r.UserAgent()
	return domain.ClientMeta{
		IPAddress:  realIP(r),
		UserAgent:  ua,
		DeviceType: tracking.DetectDevice(ua),
		Scanner:    tracking.IsScanner(ua),
	}
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
