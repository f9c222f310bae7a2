package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"docpay-service/internal/message"
	"docpay-service/internal/model"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

type fakeReader struct {
	messages []kafka.Message
	errs     []error
	cancel   context.CancelFunc
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.messages) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

type recordingProcessor struct {
	events []message.DocumentEvent
}

func (p *recordingProcessor) Process(_ context.Context, e message.DocumentEvent) error {
	p.events = append(p.events, e)
	return nil
}

func TestReadDocumentEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	event := message.DocumentEvent{ID: uuid.New(), SubmissionID: uuid.New(), Status: model.StatusPDFGenerated}
	value, _ := json.Marshal(event)

	reader := &fakeReader{
		errs:     []error{errors.New("broker unavailable")},
		messages: []kafka.Message{{Value: []byte("garbage")}, {Value: value}},
		cancel:   cancel,
	}
	processor := &recordingProcessor{}

	err := ReadDocumentEvents(ctx, reader, processor, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, err)

	if assert.Len(t, processor.events, 1) {
		assert.Equal(t, event.ID, processor.events[0].ID)
		assert.Equal(t, model.StatusPDFGenerated, processor.events[0].Status)
	}
}
