package download

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"docpay-service/internal/config"
	"docpay-service/internal/model"
	"docpay-service/internal/testhelpers"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	input   *s3.GetObjectInput
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(_ context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.input = params
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL:    "https://docs.example.com/" + *params.Key + "?X-Amz-Signature=abc",
		Method: http.MethodGet,
	}, nil
}

func newLinker(store SubmissionReader, presigner Presigner) *Linker {
	cfg := config.Download{Bucket: "docpay-documents", Prefix: "/documents/", TTLSeconds: 300}
	return NewLinker(store, presigner, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func submission(t *testing.T, store *testhelpers.MemoryStore, status model.Status) uuid.UUID {
	t.Helper()
	s := &model.Submission{ID: uuid.New(), DocumentType: model.DocumentResume, Amount: 500, Status: model.StatusPendingPayment, CreatedAt: time.Now()}
	require.NoError(t, store.Create(context.Background(), s))
	store.SetStatus(s.ID, status, model.CategoryNone)
	return s.ID
}

func TestRequestDownloadLink_Delivered(t *testing.T) {
	for _, status := range []model.Status{model.StatusEmailSent, model.StatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			store := testhelpers.NewMemoryStore()
			presigner := &fakePresigner{}
			id := submission(t, store, status)

			link, err := newLinker(store, presigner).RequestDownloadLink(context.Background(), id)
			require.NoError(t, err)

			assert.Equal(t, "docpay-documents", *presigner.input.Bucket)
			assert.Equal(t, "documents/resume/"+id.String()+".pdf", *presigner.input.Key)
			assert.Equal(t, 5*time.Minute, presigner.expires)
			assert.Contains(t, link.URL, id.String())
			assert.WithinDuration(t, time.Now().Add(5*time.Minute), link.ExpiresAt, 5*time.Second)
		})
	}
}

func TestRequestDownloadLink_NotReady(t *testing.T) {
	for _, status := range []model.Status{model.StatusPendingPayment, model.StatusPaid, model.StatusPDFGenerated, model.StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			store := testhelpers.NewMemoryStore()
			presigner := &fakePresigner{}
			id := submission(t, store, status)

			_, err := newLinker(store, presigner).RequestDownloadLink(context.Background(), id)
			assert.ErrorIs(t, err, ErrNotReady)
			assert.Nil(t, presigner.input)
		})
	}
}

func TestRequestDownloadLink_Unknown(t *testing.T) {
	_, err := newLinker(testhelpers.NewMemoryStore(), &fakePresigner{}).RequestDownloadLink(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
