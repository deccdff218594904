package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/northmart/api/internal/platform/auth"
	"github.com/northmart/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Replayed"
)

// Logger receives diagnostics the middleware cannot surface to the shopper.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      clockFunc
	logger     Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long stored replies remain replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts which HTTP methods are guarded.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if len(methods) == 0 {
			return
		}
		cfg.methods = make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				cfg.methods[method] = struct{}{}
			}
		}
	}
}

// WithLogger injects a logger for store errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

func mutatingMethods() map[string]struct{} {
	return map[string]struct{}{
		http.MethodPost:   {},
		http.MethodPut:    {},
		http.MethodPatch:  {},
		http.MethodDelete: {},
	}
}

// Middleware makes mutating endpoints safe to retry. A request must carry an
// idempotency key; the first request with a key runs the handler and stores
// its response, every retry with that key gets the stored response back with
// the replay header set.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods:    mutatingMethods(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}
	if len(cfg.methods) == 0 {
		cfg.methods = mutatingMethods()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := cfg.methods[r.Method]; !ok {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"idempotency_key_missing",
					"an idempotency key header is required on this endpoint",
					http.StatusBadRequest,
				))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"request_body_unreadable",
					"unable to read request body",
					http.StatusInternalServerError,
				))
				return
			}

			uid := requesterUID(r.Context())
			sum := requestSum(r, body, uid)
			scoped := guardKey(key, uid)
			now := cfg.clock().UTC()

			claim, err := store.Claim(r.Context(), scoped, sum, now, cfg.ttl)
			if err != nil {
				writeClaimError(r.Context(), w, cfg.logger, err)
				return
			}

			switch claim.Outcome {
			case ClaimReplay:
				writeReplay(w, claim.Record)
				return
			case ClaimInFlight:
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"request_in_flight",
					"a request with this idempotency key is still being processed",
					http.StatusConflict,
				))
				return
			case ClaimAccepted:
			default:
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"idempotency_unavailable",
					"unexpected idempotency state",
					http.StatusInternalServerError,
				))
				return
			}

			recorder := newReplyRecorder(w)
			next.ServeHTTP(recorder, r)
			reply := recorder.Reply()

			if err := store.Complete(r.Context(), scoped, sum, reply, cfg.clock().UTC(), cfg.ttl); err != nil {
				if cfg.logger != nil {
					cfg.logger.Printf("idempotency: storing reply for key %s (uid %s) failed: %v", key, uid, err)
				}
				if forgetErr := store.Forget(r.Context(), scoped, sum); forgetErr != nil && cfg.logger != nil {
					cfg.logger.Printf("idempotency: releasing key %s after store failure failed: %v", key, forgetErr)
				}
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"idempotency_unavailable",
					"unable to persist idempotency state",
					http.StatusInternalServerError,
				))
				return
			}

			if err := recorder.Flush(); err != nil && cfg.logger != nil {
				cfg.logger.Printf("idempotency: flushing response for key %s failed: %v", key, err)
			}
		})
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestSum fingerprints the request so a key cannot be replayed against a
// different call. The shopper's UID is part of the sum, so two shoppers
// sharing a key never see each other's responses.
func requestSum(r *http.Request, body []byte, uid string) string {
	bodySum := ""
	if len(body) > 0 {
		bodySum = sha256Hex(body)
	}
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		uid,
		bodySum,
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func requesterUID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

// guardKey scopes the shopper-supplied key by UID so keys never collide
// across accounts.
func guardKey(key, uid string) string {
	key = strings.TrimSpace(key)
	uid = strings.TrimSpace(uid)
	if uid == "" {
		uid = "anonymous"
	}
	if key == "" {
		return uid
	}
	return key + "|" + uid
}

func writeClaimError(ctx context.Context, w http.ResponseWriter, logger Logger, err error) {
	if errors.Is(err, ErrKeyReused) {
		httpx.WriteError(ctx, w, httpx.NewError(
			"idempotency_key_reused",
			"this idempotency key was already used for a different request",
			http.StatusConflict,
		))
		return
	}
	if logger != nil {
		logger.Printf("idempotency: claim failed: %v", err)
	}
	httpx.WriteError(ctx, w, httpx.NewError(
		"idempotency_unavailable",
		"unable to process idempotency key",
		http.StatusInternalServerError,
	))
}

func writeReplay(w http.ResponseWriter, record Record) {
	for key := range w.Header() {
		w.Header().Del(key)
	}
	for key, values := range headerFromStored(record.ReplyHeader) {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ReplyStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ReplyBody) > 0 {
		_, _ = w.Write(record.ReplyBody)
	}
}

// replyRecorder buffers the handler's response so it can be persisted before
// anything reaches the shopper. Flush writes the buffered response through
// only after Complete succeeds.
type replyRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newReplyRecorder(parent http.ResponseWriter) *replyRecorder {
	return &replyRecorder{parent: parent, header: make(http.Header)}
}

func (r *replyRecorder) Header() http.Header {
	return r.header
}

func (r *replyRecorder) WriteHeader(status int) {
	if status <= 0 {
		status = http.StatusOK
	}
	r.status = status
}

func (r *replyRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *replyRecorder) Reply() Reply {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	var body []byte
	if r.body.Len() > 0 {
		body = r.body.Bytes()
	}
	return Reply{Status: status, Header: r.header.Clone(), Body: body}
}

func (r *replyRecorder) Flush() error {
	dst := r.parent.Header()
	for key := range dst {
		dst.Del(key)
	}
	for key, values := range r.header {
		for _, value := range values {
			dst.Add(key, value)
		}
	}

	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	r.parent.WriteHeader(status)
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
