package events

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultTopic  string = "sheetfilter.events"
	defaultSource string = "sheetfilter.service"
	closeTimeout         = 5 * time.Second
)

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// EventProducer is a wrapper around a Writer with a buffer, so callers never
// wait on the writer.
type EventProducer struct {
	buffer    *buffer
	signal    chan struct{}
	doneCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
	writer    Writer
	topic     string
	source    string
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		buffer:    newBuffer(),
		signal:    make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		writer:    w,
		topic:     defaultTopic,
		source:    defaultSource,
	}

	for _, o := range opts {
		o(ep)
	}

	go ep.run()
	return ep
}

func (ep *EventProducer) Write(ctx context.Context, kind string, body io.Reader) error {
	d, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	if err := ep.buffer.PushBack(&message{Kind: kind, Data: d}); err != nil {
		return err
	}

	select {
	case ep.signal <- struct{}{}:
	default:
	}
	return nil
}

// Publish marshals v and queues it as an event of the given kind.
func (ep *EventProducer) Publish(ctx context.Context, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ep.Write(ctx, kind, bytes.NewReader(data))
}

// Close flushes the pending events and closes the writer.
func (ep *EventProducer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	ep.closeOnce.Do(func() { close(ep.doneCh) })
	select {
	case <-ep.stoppedCh:
	case <-closeCtx.Done():
		zap.S().Named("event_producer").Warnw("pending events dropped", "count", ep.buffer.Size())
	}

	if err := ep.writer.Close(closeCtx); err != nil {
		zap.S().Named("event_producer").Errorf("event producer closed with error: %s", err)
		return err
	}

	zap.S().Named("event_producer").Info("event producer closed")
	return nil
}

func (ep *EventProducer) run() {
	defer close(ep.stoppedCh)
	for {
		ep.drain()

		select {
		case <-ep.signal:
		case <-ep.doneCh:
			ep.drain()
			return
		}
	}
}

func (ep *EventProducer) drain() {
	for msg := ep.buffer.Pop(); msg != nil; msg = ep.buffer.Pop() {
		e := cloudevents.NewEvent()
		e.SetID(uuid.NewString())
		e.SetSource(ep.source)
		e.SetType(msg.Kind)
		e.SetTime(time.Now())
		_ = e.SetData(cloudevents.ApplicationJSON, msg.Data)

		if err := ep.writer.Write(context.TODO(), ep.topic, e); err != nil {
			zap.S().Named("event_producer").Errorw("failed to send message", "error", err, "event", e)
		}
	}
}
