package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

// Producer interface provides the Publish method to publish messages to RabbitMQ.
// Publish sends a message body as a byte array to RabbitMQ.
// Returns an error if there was a problem.
type Producer interface {
	Publish(body []byte) error // Publish allows to publish a message in RabbitMQ.
}

// Consumer interface provides the Consume method to consume messages from RabbitMQ.
// Consume listens to messages from RabbitMQ and handles the message stream until ctx is done.
// Returns an error if the consumer could not be registered.
type Consumer interface {
	Consume(ctx context.Context) error // Consume listens to messages from RabbitMQ.
}

// ProducerFactory interface provides the CreateProducer method to instantiate new producers.
// CreateProducer uses a RabbitMQ channel and queue details to create a new Producer.
// Returns the newly created Producer or an error.
type ProducerFactory interface {
	CreateProducer(ch *amqp.Channel, queue *amqp.Queue) (Producer, error)
}

// ConsumerFactory interface provides the CreateConsumer method to instantiate new consumers.
// CreateConsumer uses a RabbitMQ channel and queue details to create a new Consumer.
// Returns the newly created Consumer or an error.
type ConsumerFactory interface {
	CreateConsumer(ch *amqp.Channel, queue *amqp.Queue) (Consumer, error)
}

// Queue struct holds slices of Producers and Consumers which can be used to send and consume messages.
type Queue struct {
	Producers []Producer
	Consumers []Consumer

	conn *amqp.Connection
}

// connect function establishes a connection to RabbitMQ and opens a new channel
// in confirm mode. A closed connection is logged; consumers see their delivery
// channels close and stop.
func connect(url string, logger *slog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	if err = ch.Confirm(false); err != nil {
		conn.Close()
		return nil, nil, err
	}

	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

	go func() {
		err := <-notifyClose
		if err != nil {
			logger.Error("RabbitMQ connection closed", "error", err)
		}
	}()

	return conn, ch, nil
}

// InitQueue function initializes a Queue with producers and consumers.
// It first establishes a connection to the RabbitMQ instance using the provided URL.
// Upon a successful connection, it declares a new queue using the provided queue name.
// The queue is configured to be durable, not auto-deleted when unused, not exclusive, and doesn't wait for server acknowledgment.
// After declaring the queue, it uses the provided producer and consumer factories to create producers and consumers for the queue.
func InitQueue(url string, queueName string, prodFactories []ProducerFactory, consFactories []ConsumerFactory, logger *slog.Logger) (*Queue, error) {
	conn, ch, err := connect(url, logger)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to RabbitMQ")
	}

	queue, err := ch.QueueDeclare(
		queueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "error declaring queue")
	}

	q := &Queue{conn: conn}

	for _, prodFactory := range prodFactories {
		producer, err := prodFactory.CreateProducer(ch, &queue)
		if err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "error creating producer")
		}
		q.Producers = append(q.Producers, producer)
	}

	for _, consFactory := range consFactories {
		// Each consumer gets its own channel so prefetch and acks are independent.
		consCh, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "error opening consumer channel")
		}
		consumer, err := consFactory.CreateConsumer(consCh, &queue)
		if err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "error creating consumer")
		}
		q.Consumers = append(q.Consumers, consumer)
	}

	return q, nil
}

// StartConsumers is a method on the Queue struct that starts all consumers in the queue.
// Each consumer is started in its own goroutine, allowing them to process messages independently and concurrently.
// The consumers stop when ctx is cancelled; the returned WaitGroup can be used to wait for all of them to finish.
func (q *Queue) StartConsumers(ctx context.Context, logger *slog.Logger) *sync.WaitGroup {
	var wg sync.WaitGroup

	for _, consumer := range q.Consumers {
		wg.Add(1)

		go func(c Consumer) {
			defer wg.Done()

			if err := c.Consume(ctx); err != nil {
				logger.Error("error starting consumer", "error", err)
			}
		}(consumer)
	}

	return &wg
}

// Close closes the connection and every channel opened on it.
func (q *Queue) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
