package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"civverify/internal/platform/metrics"
	"civverify/internal/platform/middleware"
	"civverify/internal/verification/models"
	dErrors "civverify/pkg/domain-errors"
	"civverify/pkg/platform/middleware/metadata"
	"civverify/pkg/platform/middleware/request"
	"civverify/pkg/platform/middleware/requesttime"
	"civverify/pkg/requestcontext"
)

// Response bodies. Not-found and already-exists share 403 with the root route;
// existing clients depend on that mapping.
const (
	bodyForbidden     = "<h1>Forbidden</h1>"
	bodyInvalidToken  = "Invalid token"
	bodyNotFound      = "User not found"
	bodyAlreadyExists = "User already exists"
	bodyDeleted       = "Deleted"
	bodyAdded         = "Added user"
	bodyBadForm       = "Failed to deserialize form body"
	bodyFormType      = "Form requests must have `Content-Type: application/x-www-form-urlencoded`"
	bodyInternal      = "Internal server error"
)

const maxFormBytes = 64 << 10

// Service defines the verification registry operations the handler needs.
type Service interface {
	List(ctx context.Context) []models.VerifiedUser
	Mutate(ctx context.Context, req models.MutateRequest) (models.Outcome, error)
}

// Handler serves the verification registry over HTTP.
type Handler struct {
	logger  *slog.Logger
	service Service
	metrics *metrics.Metrics
}

// New creates a new verification Handler. metrics may be nil.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		metrics: metrics,
	}
}

// Register registers the verification routes with the chi router. Any path
// not listed here is forbidden.
func (h *Handler) Register(r chi.Router) {
	verifyRouter := chi.NewRouter()
	verifyRouter.Use(middleware.Recovery(h.logger))
	verifyRouter.Use(request.RequestID)
	verifyRouter.Use(metadata.ClientMetadata)
	verifyRouter.Use(requesttime.Middleware)
	verifyRouter.Use(middleware.Logger(h.logger))
	verifyRouter.Use(middleware.LatencyMiddleware(h.metrics))

	verifyRouter.HandleFunc("/", h.handleForbidden)
	verifyRouter.Get("/verified", h.handleListVerified)
	verifyRouter.Post("/verified", h.handleMutateVerified)
	verifyRouter.NotFound(h.handleForbidden)

	r.Mount("/", verifyRouter)
}

// NewRouter returns a router serving only the verification routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) handleForbidden(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(bodyForbidden))
}

func (h *Handler) handleListVerified(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users := h.service.List(ctx)
	h.logger.InfoContext(ctx, "got a request for data",
		"request_id", requestcontext.RequestID(ctx),
		"records", len(users),
	)

	if users == nil {
		users = []models.VerifiedUser{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(users); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode verified list",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

func (h *Handler) handleMutateVerified(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, status, msg := decodeMutateRequest(w, r)
	if status != 0 {
		h.logger.WarnContext(ctx, "invalid verify request",
			"request_id", requestcontext.RequestID(ctx),
			"status", status,
		)
		writeText(w, status, msg)
		return
	}

	h.logger.InfoContext(ctx, "verify request received",
		"request_id", requestcontext.RequestID(ctx),
		"method", req.Method,
		"ckey", req.CKey,
		"discord", req.Discord,
	)

	outcome, err := h.service.Mutate(ctx, req)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	switch outcome {
	case models.OutcomeDeleted:
		writeText(w, http.StatusOK, bodyDeleted)
	default:
		writeText(w, http.StatusOK, bodyAdded)
	}
}

// decodeMutateRequest reads the urlencoded form. ckey, discord and token must be
// present (possibly empty); method is optional. A non-zero status means the
// request was rejected.
func decodeMutateRequest(w http.ResponseWriter, r *http.Request) (models.MutateRequest, int, string) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/x-www-form-urlencoded" {
		return models.MutateRequest{}, http.StatusUnsupportedMediaType, bodyFormType
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return models.MutateRequest{}, http.StatusBadRequest, bodyBadForm
	}

	form := r.PostForm
	for _, field := range []string{"ckey", "discord", "token"} {
		if _, ok := form[field]; !ok {
			return models.MutateRequest{}, http.StatusUnprocessableEntity, bodyBadForm + ": missing field `" + field + "`"
		}
	}

	return models.MutateRequest{
		Method:  form.Get("method"),
		CKey:    form.Get("ckey"),
		Discord: form.Get("discord"),
		Token:   form.Get("token"),
	}, 0, ""
}

// writeError maps domain error codes onto the response contract.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	de, ok := dErrors.As(err)
	if !ok {
		de = &dErrors.Error{Code: dErrors.CodeInternal}
	}

	switch de.Code {
	case dErrors.CodeUnauthorized:
		writeText(w, http.StatusUnauthorized, bodyInvalidToken)
	case dErrors.CodeNotFound:
		writeText(w, http.StatusForbidden, bodyNotFound)
	case dErrors.CodeConflict:
		writeText(w, http.StatusForbidden, bodyAlreadyExists)
	case dErrors.CodeValidation, dErrors.CodeBadRequest:
		writeText(w, http.StatusBadRequest, de.Message)
	default:
		h.logger.ErrorContext(ctx, "verify request failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		writeText(w, http.StatusInternalServerError, bodyInternal)
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
