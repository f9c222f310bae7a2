// Command paywatch requests a payment against a running docpay-service, or
// picks up an existing submission, and follows it with the status poller
// until it settles.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"docpay-service/internal/client"
	"docpay-service/internal/model"
	"docpay-service/internal/poller"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type options struct {
	baseURL      string
	submissionID string
	documentType string
	phone        string
	formPayload  string
	interval     time.Duration
	maxAttempts  int
	grace        int
	timeout      time.Duration
	verbose      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "docpay-service base URL")
	flag.StringVar(&opts.submissionID, "submission", "", "watch an existing submission instead of requesting a payment")
	flag.StringVar(&opts.documentType, "type", "resume", "document type to pay for")
	flag.StringVar(&opts.phone, "phone", "", "payer phone number")
	flag.StringVar(&opts.formPayload, "form", `{}`, "form payload as JSON")
	flag.DurationVar(&opts.interval, "interval", 3*time.Second, "poll interval")
	flag.IntVar(&opts.maxAttempts, "max-attempts", 40, "attempts before giving up on an unconfirmed payment")
	flag.IntVar(&opts.grace, "grace", 40, "further attempts allowed once payment is confirmed")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.BoolVar(&opts.verbose, "v", false, "log poll errors")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	code, err := run(ctx, opts, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "paywatch:", err)
	}
	os.Exit(code)
}

func run(ctx context.Context, opts options, out io.Writer) (int, error) {
	level := slog.LevelError
	if opts.verbose {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	api := client.New(opts.baseURL, opts.timeout)

	id, err := submissionID(ctx, api, opts, out)
	if err != nil {
		return 2, err
	}

	cfg := poller.Config{
		Interval:      opts.interval,
		MaxAttempts:   opts.maxAttempts,
		GraceAttempts: opts.grace,
		QueryTimeout:  opts.timeout,
	}
	if cfg.Interval <= 0 || cfg.MaxAttempts <= 0 {
		return 2, errors.New("interval and max-attempts must be positive")
	}

	session := poller.Start(ctx, id, cfg, api, logger)
	var last poller.Snapshot
	for snapshot := range session.Updates() {
		last = snapshot
		fmt.Fprintf(out, "[%d/%d %s] %s: %s\n",
			snapshot.Attempt, snapshot.MaxAttempts, snapshot.Elapsed.Round(time.Second), snapshot.State, snapshot.Message)
	}

	if err := session.Err(); err != nil {
		return 130, err
	}

	switch {
	case last.State == poller.StateCompleted:
		if link, err := api.DownloadLink(ctx, id); err == nil {
			fmt.Fprintf(out, "download: %s (expires %s)\n", link.URL, link.ExpiresAt.Format(time.RFC3339))
		}
		return 0, nil
	case last.Category == model.CategoryTimeout:
		fmt.Fprintf(out, "re-check later with: paywatch -submission %s\n", id)
		return 3, nil
	default:
		fmt.Fprintf(out, "support reference: %s\n", last.SupportReference)
		return 1, nil
	}
}

func submissionID(ctx context.Context, api *client.Client, opts options, out io.Writer) (uuid.UUID, error) {
	if opts.submissionID != "" {
		id, err := uuid.Parse(opts.submissionID)
		return id, errors.Wrap(err, "invalid -submission")
	}
	if opts.phone == "" {
		return uuid.Nil, errors.New("-phone is required to request a payment")
	}
	if !json.Valid([]byte(opts.formPayload)) {
		return uuid.Nil, errors.New("-form is not valid JSON")
	}

	resp, err := api.RequestPayment(ctx, client.PaymentRequest{
		DocumentType: opts.documentType,
		PhoneNumber:  opts.phone,
		FormData:     model.FormData{SchemaVersion: "v1", Payload: json.RawMessage(opts.formPayload)},
	})
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.SupportReference != "" {
		return uuid.Nil, errors.Wrapf(err, "support reference %s", apiErr.SupportReference)
	}
	if err != nil {
		return uuid.Nil, err
	}

	fmt.Fprintf(out, "submission %s: %d charged to %s, %s\n", resp.SubmissionID, resp.Amount, opts.phone, resp.CustomerMessage)
	return resp.SubmissionID, nil
}
