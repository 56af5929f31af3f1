package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-oms/internal/auth"
	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

const (
	// IdempotencyKeyHeader - заголовок с ключом идемпотентности POST-запросов.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader выставляется на ответе, взятом из кэша идемпотентности.
	ReplayedHeader = "Idempotent-Replayed"
)

type rawTokenKey struct{}

// requestLogger пишет access-лог через logrus.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := logger.WithFields(log.Fields{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": r.RemoteAddr,
			})
			if status >= http.StatusInternalServerError {
				entry.Warn("http request")
				return
			}
			entry.Debug("http request")
		})
	}
}

// authenticate проверяет bearer-токен и кладёт вызывающего в контекст.
func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, h.logger, domain.ErrMissingIdentity)
			return
		}
		caller, err := h.tokens.Verify(r.Context(), raw)
		if err != nil {
			if !domain.IsUnauthorized(err) {
				h.logger.WithError(err).Error("token verification failed")
			}
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid or revoked token"})
			return
		}

		ctx := domain.WithCaller(r.Context(), caller)
		ctx = context.WithValue(ctx, rawTokenKey{}, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func rawTokenFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(rawTokenKey{}).(string)
	return raw
}

// idempotent повторяет сохранённый ответ, если POST пришёл с уже
// обработанным Idempotency-Key. Без заголовка запрос проходит как есть.
func (h *handler) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if key == "" || h.idem == nil {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, h.logger, errBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		caller, _ := domain.CallerFromContext(r.Context())
		scopedKey := domain.IdempotencyKey(caller.ClientID, key)
		hash := requestHash(r.Method, r.URL.Path, body)
		ctx := r.Context()

		record, err := h.idem.CreateProcessing(ctx, scopedKey, hash, time.Now().UTC().Add(h.idemTTL))
		if err != nil {
			h.replay(w, record, err)
			return
		}

		var captured bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&captured)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status < http.StatusBadRequest {
			err = h.idem.MarkDone(ctx, scopedKey, captured.Bytes(), status)
		} else {
			err = h.idem.MarkFailed(ctx, scopedKey, captured.Bytes(), status)
		}
		if err != nil {
			h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
		}
	})
}

func (h *handler) replay(w http.ResponseWriter, record domain.IdempotencyRecord, err error) {
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "idempotency key is already used with different request payload"})
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status == domain.IdempotencyStatusProcessing || record.HTTPStatus == 0 {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(record.HTTPStatus)
		_, _ = w.Write(record.ResponseBody)
	default:
		h.logger.WithError(err).Warn("failed to create idempotency record")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to initialize idempotent request"})
	}
}

func requestHash(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{':'})
	sum.Write([]byte(path))
	sum.Write([]byte{':'})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}
