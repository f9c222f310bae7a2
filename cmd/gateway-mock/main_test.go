package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"docpay-service/internal/callback"
	"docpay-service/internal/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type posted struct {
	mu        sync.Mutex
	envelopes []payload.STKCallbackEnvelope
	done      chan struct{}
}

func newTestServer(t *testing.T, want int) (*server, *posted) {
	p := &posted{done: make(chan struct{})}
	s := newServer(0, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2026, 10, 16, 7, 30, 0, 0, time.UTC) }
	s.post = func(url string, env payload.STKCallbackEnvelope) {
		assert.Equal(t, "http://docpay.test/callback", url)
		p.mu.Lock()
		defer p.mu.Unlock()
		p.envelopes = append(p.envelopes, env)
		if len(p.envelopes) == want {
			close(p.done)
		}
	}
	return s, p
}

func push(t *testing.T, s *server, phone string) (*httptest.ResponseRecorder, payload.STKPushResponse) {
	body, err := json.Marshal(payload.STKPushRequest{Amount: 500, PhoneNumber: phone, CallBackURL: "http://docpay.test/callback"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mpesa/stkpush/v1/processrequest", bytes.NewReader(body)))

	var resp payload.STKPushResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func wait(t *testing.T, p *posted) []payload.STKCallbackEnvelope {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("callbacks not posted")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.envelopes
}

func TestToken(t *testing.T) {
	s, _ := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/oauth/v1/generate?grant_type=client_credentials", nil)
	req.SetBasicAuth("key", "secret")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var token payload.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	assert.NotEmpty(t, token.AccessToken)
	assert.Equal(t, "3599", token.ExpiresIn)

	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/v1/generate", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSTKPush_Success(t *testing.T) {
	s, p := newTestServer(t, 1)

	rec, resp := push(t, s, "254712345670")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", resp.ResponseCode)

	envelopes := wait(t, p)
	cb := envelopes[0].Body.STKCallback
	assert.Equal(t, resp.CheckoutRequestID, cb.CheckoutRequestID)
	assert.Equal(t, callback.ResultSuccess, cb.ResultCode)

	meta := cb.Metadata()
	require.NotNil(t, meta.Amount)
	assert.Equal(t, "500", meta.Amount.String())
	assert.NotEmpty(t, meta.ReceiptNumber)
	assert.Equal(t, "254712345670", meta.PhoneNumber)
	require.NotNil(t, meta.TransactionDate)
	assert.True(t, s.now().Equal(*meta.TransactionDate))
}

func TestSTKPush_Scenarios(t *testing.T) {
	tests := []struct {
		phone string
		codes []int
	}{
		{phone: "254712345675", codes: []int{callback.ResultCancelledByUser}},
		{phone: "254712345676", codes: []int{callback.ResultInsufficientFunds}},
		{phone: "254712345677", codes: []int{callback.ResultUserUnreachable}},
		{phone: "254712345679", codes: []int{callback.ResultSuccess, callback.ResultSuccess}},
	}

	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			s, p := newTestServer(t, len(tt.codes))

			rec, resp := push(t, s, tt.phone)
			require.Equal(t, http.StatusOK, rec.Code)

			var codes []int
			for _, env := range wait(t, p) {
				assert.Equal(t, resp.CheckoutRequestID, env.Body.STKCallback.CheckoutRequestID)
				codes = append(codes, env.Body.STKCallback.ResultCode)
			}
			assert.Equal(t, tt.codes, codes)
		})
	}
}

func TestSTKPush_RejectedAndLost(t *testing.T) {
	s, p := newTestServer(t, 1)

	rec, _ := push(t, s, "254712345674")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = push(t, s, "254712345678")
	assert.Equal(t, http.StatusOK, rec.Code)

	time.Sleep(50 * time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.envelopes)
}
