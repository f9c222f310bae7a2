package api

import (
	"encoding/json"
	"net/http"
	"time"

	"docpay-service/internal/model"
	"docpay-service/internal/payload"
	"docpay-service/internal/poller"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error            string         `json:"error"`
	Category         model.Category `json:"category,omitempty"`
	Retryable        bool           `json:"retryable"`
	SubmissionID     string         `json:"submissionId,omitempty"`
	SupportReference string         `json:"supportReference,omitempty"`
}

type paymentRequest struct {
	DocumentType string         `json:"documentType"`
	PhoneNumber  string         `json:"phoneNumber"`
	FormData     model.FormData `json:"formData"`
}

type paymentResponse struct {
	SubmissionID      uuid.UUID    `json:"submissionId"`
	CheckoutReference string       `json:"checkoutReference"`
	Amount            int          `json:"amount"`
	Status            model.Status `json:"status"`
	CustomerMessage   string       `json:"customerMessage,omitempty"`
}

func newSubmissionView(s *model.Submission) payload.SubmissionView {
	view := payload.SubmissionView{
		ID:               s.ID,
		DocumentType:     s.DocumentType,
		Amount:           s.Amount,
		Status:           s.Status,
		FailureCategory:  s.FailureCategory,
		Message:          s.FailureCategory.Message(),
		SupportReference: s.SupportReference(),
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
	if s.CheckoutReference != nil {
		view.CheckoutReference = *s.CheckoutReference
	}
	return view
}

type snapshotView struct {
	SubmissionID     uuid.UUID      `json:"submissionId"`
	State            poller.State   `json:"state"`
	Status           model.Status   `json:"status,omitempty"`
	Category         model.Category `json:"category,omitempty"`
	Message          string         `json:"message"`
	Retryable        bool           `json:"retryable"`
	Attempt          int            `json:"attempt"`
	MaxAttempts      int            `json:"maxAttempts"`
	ElapsedMs        int64          `json:"elapsedMs"`
	SupportReference string         `json:"supportReference,omitempty"`
}

func newSnapshotView(s poller.Snapshot) snapshotView {
	return snapshotView{
		SubmissionID:     s.SubmissionID,
		State:            s.State,
		Status:           s.Status,
		Category:         s.Category,
		Message:          s.Message,
		Retryable:        s.Category.Retryable(),
		Attempt:          s.Attempt,
		MaxAttempts:      s.MaxAttempts,
		ElapsedMs:        s.Elapsed.Milliseconds(),
		SupportReference: s.SupportReference,
	}
}

type downloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps a failure category onto the HTTP status of a synchronous
// payment failure.
func statusFor(c model.Category) int {
	switch c {
	case model.CategoryPaymentIssue:
		return http.StatusPaymentRequired
	case model.CategoryUserActionRequired:
		return http.StatusConflict
	case model.CategoryTechnicalIssue:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
