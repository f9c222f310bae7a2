// Command gateway-mock is a fake STK push provider for local runs. It
// acknowledges charges and later posts callbacks to the requested URL. The
// last digit of the phone number picks the outcome:
//
//	4 rejected synchronously, 5 cancelled, 6 insufficient funds,
//	7 user unreachable, 8 no callback, 9 duplicate success, other success.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"docpay-service/internal/payload"
	"github.com/oklog/ulid/v2"
)

const contentType = "application/json"

type server struct {
	minDelay time.Duration
	maxDelay time.Duration
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time
	post     func(url string, env payload.STKCallbackEnvelope)
}

func main() {
	addr := flag.String("addr", ":8085", "listen address")
	minDelay := flag.Duration("min-delay", 3*time.Second, "minimum delay before a callback")
	maxDelay := flag.Duration("max-delay", 8*time.Second, "maximum delay before a callback")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	s := newServer(*minDelay, *maxDelay, logger)

	logger.Info("Starting gateway mock", "addr", *addr)
	if err := http.ListenAndServe(*addr, loggingMiddleware(logger, countMiddleware(logger, s.routes()))); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func newServer(minDelay, maxDelay time.Duration, logger *slog.Logger) *server {
	s := &server{
		minDelay: minDelay,
		maxDelay: maxDelay,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		now:      time.Now,
	}
	s.post = s.postCallback
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/v1/generate", s.token)
	mux.HandleFunc("POST /mpesa/stkpush/v1/processrequest", s.stkPush)
	return mux
}

func (s *server) token(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := r.BasicAuth(); !ok {
		writeJSON(w, http.StatusUnauthorized, payload.ErrorResponse{
			RequestID:    newID(),
			ErrorCode:    "404.001.03",
			ErrorMessage: "Invalid Access Token",
		})
		return
	}
	writeJSON(w, http.StatusOK, payload.TokenResponse{AccessToken: newID(), ExpiresIn: "3599"})
}

func (s *server) stkPush(w http.ResponseWriter, r *http.Request) {
	var req payload.STKPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{
			RequestID:    newID(),
			ErrorCode:    "400.002.02",
			ErrorMessage: "Bad Request - Invalid Amount",
		})
		return
	}

	sc := scenarioFor(req.PhoneNumber)
	if sc == scenarioRejected {
		writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{
			RequestID:    newID(),
			ErrorCode:    "400.002.02",
			ErrorMessage: "Bad Request - Invalid PhoneNumber",
		})
		return
	}

	merchantID := newID()
	checkoutID := "ws_CO_" + newID()
	writeJSON(w, http.StatusOK, payload.STKPushResponse{
		MerchantRequestID:   merchantID,
		CheckoutRequestID:   checkoutID,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	})

	envelopes := sc.callbacks(req, merchantID, checkoutID, "R"+newID()[:9], s.now())
	s.logger.Info("Charge accepted", "checkoutRequestId", checkoutID, "scenario", sc, "callbacks", len(envelopes))
	for _, env := range envelopes {
		go func() {
			time.Sleep(s.delay())
			s.post(req.CallBackURL, env)
		}()
	}
}

func (s *server) delay() time.Duration {
	if s.maxDelay <= s.minDelay {
		return s.minDelay
	}
	return s.minDelay + rand.N(s.maxDelay-s.minDelay)
}

func (s *server) postCallback(url string, env payload.STKCallbackEnvelope) {
	body, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("Error marshalling callback", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.http.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("Error creating callback request", "error", err)
		return
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Error("Error posting callback", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()

	s.logger.Info("Callback posted", "checkoutRequestId", env.Body.STKCallback.CheckoutRequestID, "status", resp.StatusCode)
}

func newID() string {
	return ulid.Make().String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
