package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/jghoshh/habittree/backend/models"
	"github.com/jghoshh/habittree/backend/storage/cache"
)

// ProgressQueueName is the durable queue carrying progress events.
const ProgressQueueName = "progressQueue"

// consumerPrefetch bounds the unacknowledged deliveries held by one consumer.
const consumerPrefetch = 16

// Outcomes of handling one progress event.
const (
	StatusRecorded  = "recorded"
	StatusStale     = "stale"
	StatusDuplicate = "duplicate"
	StatusInvalid   = "invalid"
	StatusError     = "error"
)

// EventRecorder counts handled progress events by outcome.
type EventRecorder interface {
	RecordProgressEvent(status string)
}

// HandleProgressEvent records the leaderboard score carried by one encoded ProgressEvent.
// Recording is idempotent, so the processed marker is only set after the score is written
// and a redelivery after a failure simply records the same score again.
// Returns the outcome and, for StatusError only, the cause.
func HandleProgressEvent(ctx context.Context, c cache.CacheInterface, body []byte) (string, error) {
	event := &models.ProgressEvent{}
	if err := json.Unmarshal(body, event); err != nil || event.ID == "" || event.UserID == "" {
		return StatusInvalid, nil
	}

	recorded, err := c.RecordScore(ctx, event.UserID, event.TotalXP, event.OccurredAt)
	if err != nil {
		return StatusError, errors.Wrap(err, "failed to record score")
	}

	first, err := c.MarkProcessed(ctx, event.ID)
	if err != nil {
		return StatusError, errors.Wrap(err, "failed to mark event processed")
	}

	switch {
	case !first:
		return StatusDuplicate, nil
	case !recorded:
		return StatusStale, nil
	default:
		return StatusRecorded, nil
	}
}

// ProgressProducerFactory is a struct for creating new ProgressProducer instances.
type ProgressProducerFactory struct{}

// ProgressConsumerFactory is a struct for creating new ProgressConsumer instances.
// It carries the dependencies every consumer shares.
type ProgressConsumerFactory struct {
	Cache    cache.CacheInterface
	Recorder EventRecorder
	Logger   *slog.Logger
}

// ProgressProducer publishes encoded progress events to the queue.
type ProgressProducer struct {
	channel *amqp.Channel // the channel used for publishing messages
	queue   *amqp.Queue   // the queue to which messages will be sent
}

// ProgressConsumer applies progress events from the queue to the leaderboard.
type ProgressConsumer struct {
	channel  *amqp.Channel
	queue    *amqp.Queue
	cache    cache.CacheInterface
	recorder EventRecorder
	logger   *slog.Logger
}

// CreateProducer is a method on ProgressProducerFactory for creating a new instance of ProgressProducer.
func (f *ProgressProducerFactory) CreateProducer(ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &ProgressProducer{
		channel: ch,
		queue:   queue,
	}, nil
}

// CreateConsumer is a method on ProgressConsumerFactory for creating a new instance of ProgressConsumer.
// It limits the channel to a bounded number of unacknowledged deliveries.
func (f *ProgressConsumerFactory) CreateConsumer(ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		return nil, errors.Wrap(err, "failed to set prefetch")
	}
	return &ProgressConsumer{
		channel:  ch,
		queue:    queue,
		cache:    f.Cache,
		recorder: f.Recorder,
		logger:   f.Logger,
	}, nil
}

// Publish is a method on ProgressProducer for publishing a message to the AMQP queue.
// Messages are marked persistent so they survive a broker restart.
func (pp *ProgressProducer) Publish(body []byte) error {
	err := pp.channel.Publish(
		"",            // exchange
		pp.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return errors.Wrap(err, "failed to publish a message")
	}

	return nil
}

// Consume is a method on ProgressConsumer for consuming messages from the AMQP queue.
// It blocks until ctx is done or the delivery channel closes. Each delivery is handled
// with HandleProgressEvent; transient failures are requeued and undecodable messages dropped.
func (pc *ProgressConsumer) Consume(ctx context.Context) error {
	msgs, err := pc.channel.Consume(
		pc.queue.Name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				return nil
			}

			status, err := HandleProgressEvent(ctx, pc.cache, d.Body)
			pc.recorder.RecordProgressEvent(status)

			switch status {
			case StatusError:
				pc.logger.Warn("failed to handle progress event, requeueing", "error", err)
				d.Nack(false, true)
			case StatusInvalid:
				pc.logger.Warn("dropping undecodable progress event", "body", string(d.Body))
				d.Nack(false, false)
			default:
				d.Ack(false)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// BuildProgressQueue is a function that initializes a new Queue for handling progress events.
// It creates numProducers producers and numConsumers consumers sharing the given cache.
func BuildProgressQueue(rabbitMQURL string, numProducers, numConsumers int, c cache.CacheInterface, recorder EventRecorder, logger *slog.Logger) (*Queue, error) {

	// Producer factories
	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &ProgressProducerFactory{}
	}

	// Consumer factories
	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &ProgressConsumerFactory{Cache: c, Recorder: recorder, Logger: logger}
	}

	return InitQueue(rabbitMQURL, ProgressQueueName, prodFactories, consFactories, logger)
}

// QueuePublisher publishes progress events onto a Queue, choosing producers round robin.
type QueuePublisher struct {
	queue *Queue
	next  atomic.Uint64
}

// NewQueuePublisher creates a QueuePublisher over q.
func NewQueuePublisher(q *Queue) *QueuePublisher {
	return &QueuePublisher{queue: q}
}

// PublishProgress serializes event to JSON and publishes it with the next producer.
func (p *QueuePublisher) PublishProgress(ctx context.Context, event models.ProgressEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal progress event")
	}

	producerCount := uint64(len(p.queue.Producers))
	if producerCount == 0 {
		return errors.New("no producers available")
	}

	producer := p.queue.Producers[(p.next.Add(1)-1)%producerCount]
	if err := producer.Publish(body); err != nil {
		return errors.Wrap(err, "failed to publish progress event")
	}
	return nil
}

// DirectPublisher handles progress events in the calling goroutine, for deployments without a broker.
type DirectPublisher struct {
	Cache    cache.CacheInterface
	Recorder EventRecorder
}

// PublishProgress encodes event and handles it immediately.
func (p *DirectPublisher) PublishProgress(ctx context.Context, event models.ProgressEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal progress event")
	}
	status, err := HandleProgressEvent(ctx, p.Cache, body)
	p.Recorder.RecordProgressEvent(status)
	return err
}
