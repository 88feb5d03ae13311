package channels

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"hotel-channel-sync/models"
)

type captureWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func TestBusAdapterPublishesKeyedMessages(t *testing.T) {
	writer := &captureWriter{}
	created := 0
	a := NewBusAdapter(nil, func(brokers []string, topic string) MessageWriter {
		created++
		if topic != "availability" || len(brokers) != 2 {
			t.Fatalf("unexpected writer config %v %s", brokers, topic)
		}
		return writer
	}, nil)

	integration := integrationWith(models.IntegrationSettings{Brokers: []string{"k1:9092", "k2:9092"}, Topic: "availability"})
	for i := 0; i < 2; i++ {
		err := a.PushUpdate(context.Background(), integration, SignedUpdate{DeliveryID: "d", Channel: ChannelBus, UnitID: 42, Type: "batch", Signature: "abc"})
		if err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("writer should be reused, created %d", created)
	}
	if len(writer.msgs) != 2 || string(writer.msgs[0].Key) != "42" {
		t.Fatalf("unexpected messages %+v", writer.msgs)
	}
	headers := map[string]string{}
	for _, h := range writer.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers[HeaderSignature] != "abc" || headers[HeaderDeliveryID] != "d" {
		t.Fatalf("unexpected headers %v", headers)
	}

	if err := a.Close(); err != nil || !writer.closed {
		t.Fatalf("close should close writers: %v", err)
	}
}

func TestBusAdapterRequiresTopic(t *testing.T) {
	a := NewBusAdapter(nil, nil, nil)
	err := a.PushUpdate(context.Background(), integrationWith(models.IntegrationSettings{Brokers: []string{"k:9092"}}), SignedUpdate{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestBusAdapterTestConnection(t *testing.T) {
	var dialed string
	ok := NewBusAdapter(nil, nil, func(_ context.Context, addr string) (io.Closer, error) {
		dialed = addr
		return nopCloser{}, nil
	})
	st, err := ok.TestConnection(context.Background(), integrationWith(models.IntegrationSettings{Brokers: []string{"b1:9092", "b2:9092"}}))
	if err != nil || !st.OK || dialed != "b1:9092" {
		t.Fatalf("expected ok dial of first broker, got %+v %v %s", st, err, dialed)
	}

	failing := NewBusAdapter(nil, nil, func(context.Context, string) (io.Closer, error) {
		return nil, errors.New("connection refused")
	})
	st, err = failing.TestConnection(context.Background(), integrationWith(models.IntegrationSettings{Brokers: []string{"b1:9092"}}))
	if err != nil || st.OK {
		t.Fatalf("unreachable broker should report not ok, got %+v %v", st, err)
	}
}
