package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docpay-service/internal/coalesce"
	"docpay-service/internal/config"
	"docpay-service/internal/payload"
	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

const (
	tokenPath     = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath   = "/mpesa/stkpush/v1/processrequest"
	timestampFmt  = "20060102150405"
	tokenMargin   = time.Minute
	maxAccountRef = 12
	maxDesc       = 13
)

var (
	tokenSuccessCounter     = metrics.GetOrCreateCounter(`gateway_requests_total{op="token",result="success"}`)
	tokenUnreachableCounter = metrics.GetOrCreateCounter(`gateway_requests_total{op="token",result="unreachable"}`)
	tokenAuthCounter        = metrics.GetOrCreateCounter(`gateway_requests_total{op="token",result="auth_failed"}`)

	chargeSuccessCounter     = metrics.GetOrCreateCounter(`gateway_requests_total{op="stk_push",result="success"}`)
	chargeUnreachableCounter = metrics.GetOrCreateCounter(`gateway_requests_total{op="stk_push",result="unreachable"}`)
	chargeRejectedCounter    = metrics.GetOrCreateCounter(`gateway_requests_total{op="stk_push",result="rejected"}`)
	chargeAuthCounter        = metrics.GetOrCreateCounter(`gateway_requests_total{op="stk_push",result="auth_failed"}`)

	chargeDurationHistogram = metrics.GetOrCreateHistogram(`gateway_request_duration_milliseconds{op="stk_push"}`)
)

type ChargeRequest struct {
	PhoneNumber      string
	Amount           int
	AccountReference string
	Description      string
}

type ChargeResponse struct {
	CheckoutReference string
	MerchantReference string
	CustomerMessage   string
}

type Client struct {
	cfg    config.Gateway
	http   *http.Client
	tokens TokenCache
	flight *coalesce.Group[string]
	logger *slog.Logger
	now    func() time.Time
}

func NewClient(cfg config.Gateway, tokens TokenCache, logger *slog.Logger) *Client {
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout()},
		tokens: tokens,
		flight: coalesce.New[string](time.Duration(cfg.TokenCooldownMs) * time.Millisecond),
		logger: logger,
		now:    time.Now,
	}
}

// Token returns a valid access token. Concurrent callers missing the cache
// share one token request.
func (c *Client) Token(ctx context.Context) (string, error) {
	if token, ok, err := c.tokens.Get(ctx); err != nil {
		c.logger.WarnContext(ctx, "Error reading cached gateway token", "error", err)
	} else if ok {
		return token, nil
	}

	token, _, err := c.flight.Do(ctx, c.cfg.ShortCode, func(ctx context.Context) (string, error) {
		if token, ok, err := c.tokens.Get(ctx); err == nil && ok {
			return token, nil
		}
		return c.fetchToken(ctx)
	})
	return token, err
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", errors.Wrap(err, "creating token request")
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		tokenUnreachableCounter.Inc()
		return "", errors.Wrapf(ErrUnreachable, "token request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tokenUnreachableCounter.Inc()
		return "", errors.Wrapf(ErrUnreachable, "reading token response: %v", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		tokenUnreachableCounter.Inc()
		return "", errors.Wrapf(ErrUnreachable, "token request: status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		tokenAuthCounter.Inc()
		c.logger.ErrorContext(ctx, "Gateway refused token request", "status", resp.StatusCode, "body", string(body))
		return "", errors.Wrapf(ErrAuth, "token request: status %d", resp.StatusCode)
	}

	var token payload.TokenResponse
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
		tokenAuthCounter.Inc()
		return "", errors.Wrap(ErrAuth, "token response carried no access token")
	}

	ttl := tokenTTL(token.ExpiresIn)
	if err := c.tokens.Set(ctx, token.AccessToken, ttl); err != nil {
		c.logger.WarnContext(ctx, "Error caching gateway token", "error", err)
	}

	tokenSuccessCounter.Inc()
	c.logger.InfoContext(ctx, "Fetched gateway token", "ttl", ttl.String())
	return token.AccessToken, nil
}

func tokenTTL(expiresIn string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(expiresIn))
	if err != nil || seconds <= 0 {
		seconds = 3599
	}
	ttl := time.Duration(seconds)*time.Second - tokenMargin
	if ttl <= 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	return ttl
}

// InitiateCharge sends one STK push. It returns once the gateway has
// acknowledged the request; the payment result arrives later by callback.
func (c *Client) InitiateCharge(ctx context.Context, charge ChargeRequest) (*ChargeResponse, error) {
	startTime := time.Now()
	defer func() {
		chargeDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	token, err := c.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrAuth) {
			chargeAuthCounter.Inc()
		} else {
			chargeUnreachableCounter.Inc()
		}
		return nil, err
	}

	timestamp := c.now().In(payload.ProviderZone).Format(timestampFmt)
	request := payload.STKPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password(c.cfg.ShortCode, c.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   c.cfg.TransactionType,
		Amount:            charge.Amount,
		PartyA:            charge.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       charge.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(charge.AccountReference, maxAccountRef),
		TransactionDesc:   truncate(charge.Description, maxDesc),
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "encoding stk push request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(requestBody))
	if err != nil {
		return nil, errors.Wrap(err, "creating stk push request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	c.logger.InfoContext(ctx, "Sending STK push", "amount", charge.Amount, "accountReference", request.AccountReference)

	resp, err := c.http.Do(req)
	if err != nil {
		chargeUnreachableCounter.Inc()
		return nil, errors.Wrapf(ErrUnreachable, "stk push: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		chargeUnreachableCounter.Inc()
		return nil, errors.Wrapf(ErrUnreachable, "reading stk push response: %v", err)
	}

	c.logger.InfoContext(ctx, "STK push response", "status", resp.StatusCode, "body", string(body))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		chargeUnreachableCounter.Inc()
		return nil, errors.Wrapf(ErrUnreachable, "stk push: status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		chargeAuthCounter.Inc()
		c.forgetToken(ctx)
		return nil, errors.Wrapf(ErrAuth, "stk push: status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		chargeRejectedCounter.Inc()
		var providerErr payload.ErrorResponse
		_ = json.Unmarshal(body, &providerErr)
		return nil, &RejectedError{HTTPStatus: resp.StatusCode, Code: providerErr.ErrorCode, Message: providerErr.ErrorMessage}
	}

	var ack payload.STKPushResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, errors.Wrap(err, "decoding stk push response")
	}

	if ack.ResponseCode != "0" || ack.CheckoutRequestID == "" {
		chargeRejectedCounter.Inc()
		return nil, &RejectedError{HTTPStatus: resp.StatusCode, Code: ack.ResponseCode, Message: ack.ResponseDescription}
	}

	chargeSuccessCounter.Inc()
	return &ChargeResponse{
		CheckoutReference: ack.CheckoutRequestID,
		MerchantReference: ack.MerchantRequestID,
		CustomerMessage:   ack.CustomerMessage,
	}, nil
}

func (c *Client) forgetToken(ctx context.Context) {
	c.flight.Forget(c.cfg.ShortCode)
	if err := c.tokens.Invalidate(ctx); err != nil {
		c.logger.WarnContext(ctx, "Error invalidating gateway token", "error", err)
	}
}

func password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s%s%s", shortCode, passKey, timestamp)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
