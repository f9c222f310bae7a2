package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docpay-service/internal/model"
	"docpay-service/internal/payload"
	"docpay-service/internal/poller"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrNotReady = errors.New("document not ready")

// APIError is a non-2xx answer from the service.
type APIError struct {
	HTTPStatus       int
	Message          string         `json:"error"`
	Category         model.Category `json:"category"`
	Retryable        bool           `json:"retryable"`
	SubmissionID     string         `json:"submissionId"`
	SupportReference string         `json:"supportReference"`
}

func (e *APIError) Error() string {
	if e.Category != model.CategoryNone {
		return fmt.Sprintf("api error %d (%s): %s", e.HTTPStatus, e.Category, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.HTTPStatus, e.Message)
}

type PaymentRequest struct {
	DocumentType string         `json:"documentType"`
	PhoneNumber  string         `json:"phoneNumber"`
	FormData     model.FormData `json:"formData"`
}

type PaymentResponse struct {
	SubmissionID      uuid.UUID    `json:"submissionId"`
	CheckoutReference string       `json:"checkoutReference"`
	Amount            int          `json:"amount"`
	Status            model.Status `json:"status"`
	CustomerMessage   string       `json:"customerMessage"`
}

type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Client talks to the docpay HTTP API. It implements poller.Source so a
// session can run on the client side of the wire.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	var resp PaymentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSubmission reads one submission. An unknown ID yields poller.ErrNotFound.
func (c *Client) GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	var view payload.SubmissionView
	err := c.do(ctx, http.MethodGet, "/api/v1/submissions/"+id.String(), nil, &view)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatus == http.StatusNotFound {
		return nil, poller.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s := &model.Submission{
		ID:              view.ID,
		DocumentType:    view.DocumentType,
		Amount:          view.Amount,
		Status:          view.Status,
		FailureCategory: view.FailureCategory,
		CreatedAt:       view.CreatedAt,
		UpdatedAt:       view.UpdatedAt,
	}
	if view.CheckoutReference != "" {
		ref := view.CheckoutReference
		s.CheckoutReference = &ref
	}
	return s, nil
}

func (c *Client) DownloadLink(ctx context.Context, id uuid.UUID) (*DownloadLink, error) {
	var link DownloadLink
	err := c.do(ctx, http.MethodGet, "/api/v1/submissions/"+id.String()+"/download", nil, &link)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatus == http.StatusConflict {
		return nil, ErrNotReady
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}
