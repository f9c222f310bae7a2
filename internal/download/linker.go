package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docpay-service/internal/config"
	"docpay-service/internal/db"
	"docpay-service/internal/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var (
	// ErrNotReady means the document has not been delivered yet.
	ErrNotReady = errors.New("document not ready")
	ErrNotFound = errors.New("submission not found")
)

type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type SubmissionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
}

type Link struct {
	URL       string
	ExpiresAt time.Time
}

// Linker hands out short-lived links to generated documents.
type Linker struct {
	reader    SubmissionReader
	presigner Presigner
	bucket    string
	prefix    string
	ttl       time.Duration
	logger    *slog.Logger
}

func NewLinker(reader SubmissionReader, presigner Presigner, cfg config.Download, logger *slog.Logger) *Linker {
	return &Linker{
		reader:    reader,
		presigner: presigner,
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		ttl:       time.Duration(cfg.TTLSeconds) * time.Second,
		logger:    logger,
	}
}

// NewPresignClient builds an S3 presign client. A custom endpoint switches
// to path-style addressing for S3-compatible stores.
func NewPresignClient(ctx context.Context, cfg config.Download) (*s3.PresignClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return s3.NewPresignClient(client), nil
}

// Key is where the document pipeline stores the PDF of a submission.
func (l *Linker) Key(s *model.Submission) string {
	return fmt.Sprintf("%s/%s/%s.pdf", l.prefix, s.DocumentType, s.ID)
}

func (l *Linker) RequestDownloadLink(ctx context.Context, id uuid.UUID) (*Link, error) {
	s, err := l.reader.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if !s.Status.Delivered() {
		return nil, fmt.Errorf("%w: status %s", ErrNotReady, s.Status)
	}

	key := l.Key(s)
	req, err := l.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(l.bucket),
		Key:                        aws.String(key),
		ResponseContentType:        aws.String("application/pdf"),
		ResponseContentDisposition: aws.String(fmt.Sprintf(`attachment; filename="%s.pdf"`, s.DocumentType)),
	}, s3.WithPresignExpires(l.ttl))
	if err != nil {
		l.logger.ErrorContext(ctx, "Error presigning download", "submissionId", id.String(), "key", key, "error", err)
		return nil, err
	}

	return &Link{URL: req.URL, ExpiresAt: time.Now().Add(l.ttl)}, nil
}
