package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"docpay-service/internal/callback"
	"docpay-service/internal/db"
	"docpay-service/internal/download"
	"docpay-service/internal/model"
	"docpay-service/internal/payload"
	"docpay-service/internal/payment"
	"docpay-service/internal/poller"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type PaymentRequester interface {
	RequestPayment(ctx context.Context, in payment.Input) (*payment.Result, error)
}

type SubmissionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
}

type PollStarter interface {
	Start(ctx context.Context, submissionID uuid.UUID) (*poller.Session, error)
}

type CallbackReceiver interface {
	Receive(ctx context.Context, body []byte) (callback.Outcome, error)
}

type DownloadLinker interface {
	RequestDownloadLink(ctx context.Context, id uuid.UUID) (*download.Link, error)
}

type Handler struct {
	payments    PaymentRequester
	submissions SubmissionReader
	polls       PollStarter
	callbacks   CallbackReceiver
	downloads   DownloadLinker
	logger      *slog.Logger
}

func NewHandler(
	payments PaymentRequester,
	submissions SubmissionReader,
	polls PollStarter,
	callbacks CallbackReceiver,
	downloads DownloadLinker,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		payments:    payments,
		submissions: submissions,
		polls:       polls,
		callbacks:   callbacks,
		downloads:   downloads,
		logger:      logger,
	}
}

func (h *Handler) RequestPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentType == "" || req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "documentType and phoneNumber are required")
		return
	}
	if len(req.FormData.Payload) == 0 || string(req.FormData.Payload) == "null" {
		writeError(w, http.StatusBadRequest, "formData.payload is required")
		return
	}

	result, err := h.payments.RequestPayment(r.Context(), payment.Input{
		DocumentType: req.DocumentType,
		PhoneNumber:  req.PhoneNumber,
		FormData:     req.FormData,
	})

	var payErr *payment.Error
	switch {
	case errors.Is(err, model.ErrUnknownDocumentType):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown document type %q", req.DocumentType))
		return
	case errors.As(err, &payErr):
		writeJSON(w, statusFor(payErr.Category), errorResponse{
			Error:            payErr.Category.Message(),
			Category:         payErr.Category,
			Retryable:        payErr.Category.Retryable(),
			SubmissionID:     payErr.SubmissionID.String(),
			SupportReference: payErr.SupportReference,
		})
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "Error requesting payment", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:    model.CategorySystemError.Message(),
			Category: model.CategorySystemError,
		})
		return
	}

	writeJSON(w, http.StatusCreated, paymentResponse{
		SubmissionID:      result.SubmissionID,
		CheckoutReference: result.CheckoutReference,
		Amount:            result.Amount,
		Status:            model.StatusPendingPayment,
		CustomerMessage:   result.CustomerMessage,
	})
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := submissionID(w, r)
	if !ok {
		return
	}

	s, err := h.submissions.GetByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error reading submission", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, newSubmissionView(s))
}

// PollSubmission streams poll snapshots as server-sent events until the
// session ends or the client disconnects.
func (h *Handler) PollSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := submissionID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	session, err := h.polls.Start(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "polling unavailable")
		return
	}
	defer session.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snapshot := range session.Updates() {
		data, err := json.Marshal(newSnapshotView(snapshot))
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}

	reason := "done"
	if errors.Is(session.Err(), poller.ErrSessionReplaced) {
		reason = "replaced"
	}
	fmt.Fprintf(w, "event: end\ndata: %q\n\n", reason)
	flusher.Flush()
}

func (h *Handler) DownloadLink(w http.ResponseWriter, r *http.Request) {
	id, ok := submissionID(w, r)
	if !ok {
		return
	}

	link, err := h.downloads.RequestDownloadLink(r.Context(), id)
	switch {
	case errors.Is(err, download.ErrNotFound):
		writeError(w, http.StatusNotFound, "submission not found")
	case errors.Is(err, download.ErrNotReady):
		writeError(w, http.StatusConflict, "document not ready")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, downloadResponse{URL: link.URL, ExpiresAt: link.ExpiresAt})
	}
}

// PaymentCallback receives gateway results. The gateway always gets an
// acknowledgment; outcomes are logged and counted instead.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.WarnContext(r.Context(), "Error reading callback body", "error", err)
		writeJSON(w, http.StatusOK, payload.Accepted())
		return
	}

	outcome, err := h.callbacks.Receive(r.Context(), body)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error processing callback", "error", err)
	} else {
		h.logger.InfoContext(r.Context(), "Processed callback", "outcome", outcome)
	}

	writeJSON(w, http.StatusOK, payload.Accepted())
}

func submissionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission id")
		return uuid.Nil, false
	}
	return id, true
}
