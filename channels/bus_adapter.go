package channels

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"hotel-channel-sync/models"
)

// MessageWriter is the part of *kafka.Writer the bus adapter needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type WriterFactory func(brokers []string, topic string) MessageWriter

// BrokerDialer opens a connection to a single broker.
type BrokerDialer func(ctx context.Context, address string) (io.Closer, error)

// NewKafkaWriter is the production WriterFactory.
func NewKafkaWriter(brokers []string, topic string) MessageWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func dialKafka(ctx context.Context, address string) (io.Closer, error) {
	conn, err := kafka.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// BusAdapter publishes updates to the channel-manager topic and accepts
// reservations relayed back from it.
type BusAdapter struct {
	normalizer Normalizer
	newWriter  WriterFactory
	dial       BrokerDialer

	mu      sync.Mutex
	writers map[string]MessageWriter
}

func NewBusAdapter(normalizer Normalizer, newWriter WriterFactory, dial BrokerDialer) *BusAdapter {
	if newWriter == nil {
		newWriter = NewKafkaWriter
	}
	if dial == nil {
		dial = dialKafka
	}
	return &BusAdapter{
		normalizer: normalizer,
		newWriter:  newWriter,
		dial:       dial,
		writers:    map[string]MessageWriter{},
	}
}

func (a *BusAdapter) Key() Key { return ChannelBus }

func (a *BusAdapter) SupportsAutoSync() bool { return true }

func (a *BusAdapter) Ingest(ctx context.Context, in IngestInput) (ImportResult, error) {
	if a.normalizer == nil {
		return ImportResult{}, errors.New("no normalizer configured")
	}
	return a.normalizer.ImportFromWebhook(ctx, ImportRequest{
		ChannelKey:  ChannelBus,
		Payload:     in.Payload,
		SourceLabel: sourceLabel(ChannelBus, "relay"),
		Integration: in.Integration,
	})
}

func (a *BusAdapter) PushUpdate(ctx context.Context, integration *models.ChannelIntegration, update SignedUpdate) error {
	settings := settingsOf(integration)
	if len(settings.Brokers) == 0 || strings.TrimSpace(settings.Topic) == "" {
		return errors.Wrap(ErrNotConfigured, "channel_bus brokers/topic")
	}

	body, err := CanonicalJSON(update.Body())
	if err != nil {
		return errors.Wrap(err, "serialize update")
	}

	msg := kafka.Message{
		// keyed by unit so one unit's updates stay ordered on a partition
		Key:   []byte(strconv.FormatUint(uint64(update.UnitID), 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: HeaderDeliveryID, Value: []byte(update.DeliveryID)},
			{Key: HeaderSignature, Value: []byte(update.Signature)},
		},
	}
	if err := a.writerFor(settings.Brokers, settings.Topic).WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish to %s", settings.Topic)
	}
	return nil
}

func (a *BusAdapter) TestConnection(ctx context.Context, integration *models.ChannelIntegration) (ConnectionStatus, error) {
	settings := settingsOf(integration)
	now := time.Now().UTC()
	if len(settings.Brokers) == 0 {
		return ConnectionStatus{OK: false, Detail: "no brokers configured", CheckedAt: now}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	conn, err := a.dial(ctx, settings.Brokers[0])
	if err != nil {
		return ConnectionStatus{OK: false, Detail: err.Error(), CheckedAt: now}, nil
	}
	conn.Close()
	return ConnectionStatus{OK: true, Detail: "broker reachable: " + settings.Brokers[0], CheckedAt: now}, nil
}

// Close releases every writer the adapter opened.
func (a *BusAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for k, w := range a.writers {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(a.writers, k)
	}
	return firstErr
}

func (a *BusAdapter) writerFor(brokers []string, topic string) MessageWriter {
	key := strings.Join(brokers, ",") + "|" + topic

	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.writers[key]; ok {
		return w
	}
	w := a.newWriter(brokers, topic)
	a.writers[key] = w
	return w
}
