package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type QueueName string

const (
	// QueueJobs carries submission jobs from other services.
	QueueJobs QueueName = "batch_jobs"
	// QueueResults carries terminal job outcomes back to them.
	QueueResults QueueName = "batch_results"
)

// WorkerFunc is started with a fresh connection every time the queue
// (re)connects. Its context is cancelled when that connection drops.
type WorkerFunc func(context.Context, *amqp.Connection) error

type Config struct {
	URL               string
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
}

type Queue struct {
	config  *Config
	conn    *amqp.Connection
	workers []WorkerFunc
	mu      sync.Mutex
	log     *slog.Logger
}

func New(config *Config) *Queue {
	return &Queue{
		config: config,
		log:    slog.With("component", "queue"),
	}
}

func (q *Queue) Start(ctx context.Context) error {
	q.log.Info("Starting the queue manager.")
	defer q.log.Info("Stopping the queue manager.")

	return q.reconnectLoop(ctx)
}

// RegisterWorker stores a worker that will be invoked every time a
// connection is (re)created.
func (q *Queue) RegisterWorker(w WorkerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.workers = append(q.workers, w)
}

func (q *Queue) reconnectLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		q.log.Info("Connecting to RabbitMQ...")

		cancel, err := q.connect(ctx)
		if err != nil {
			q.log.Error("Connection to RabbitMQ failed", "error", err)

			if err := sleep(ctx, q.config.ReconnectInterval); err != nil {
				return err
			}

			continue
		}

		q.log.Info("Connected to RabbitMQ")

		connErrors := make(chan *amqp.Error, 1)
		q.connection().NotifyClose(connErrors)

		select {
		case <-ctx.Done():
			cancel()
			q.close()
			return ctx.Err()
		case err := <-connErrors:
			q.log.Error("RabbitMQ connection closed", "error", err)
		}

		// stop the workers bound to the dead connection
		cancel()
		q.close()

		if err := sleep(ctx, q.config.ReconnectInterval); err != nil {
			return err
		}
	}
}

func (q *Queue) connect(ctx context.Context) (context.CancelFunc, error) {
	conn, err := amqp.DialConfig(q.config.URL, amqp.Config{
		Dial: amqp.DefaultDial(q.config.ConnectTimeout),
	})
	if err != nil {
		return nil, err
	}

	for _, name := range []QueueName{QueueJobs, QueueResults} {
		ch, err := EnsureQueueExists(conn, name)
		if err != nil {
			conn.Close()
			return nil, err
		}

		ch.Close()
	}

	workerCtx, cancel := context.WithCancel(ctx)

	q.mu.Lock()
	q.conn = conn
	workers := append([]WorkerFunc{}, q.workers...)
	q.mu.Unlock()

	for _, w := range workers {
		go func() {
			if err := w(workerCtx, conn); err != nil && workerCtx.Err() == nil {
				q.log.Error("Queue worker exited", "error", err)
			}
		}()
	}

	return cancel, nil
}

func (q *Queue) connection() *amqp.Connection {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.conn
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn != nil && !q.conn.IsClosed() {
		_ = q.conn.Close()
	}

	q.conn = nil
}

// Connected reports whether a broker connection is currently open.
func (q *Queue) Connected() bool {
	conn := q.connection()
	return conn != nil && !conn.IsClosed()
}

// Publish sends a persistent JSON message to a queue through the default
// exchange.
func (q *Queue) Publish(ctx context.Context, queueName QueueName, message []byte) error {
	conn := q.connection()
	if conn == nil {
		return fmt.Errorf("connection is not open yet")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("couldn't open channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(
		ctx,
		"",                // exchange, empty means default (direct to queue)
		string(queueName), // routing key = queue name
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         message,
		},
	)
	if err != nil {
		q.log.Error("Failed to publish", "queue", queueName, "error", err)
		return err
	}

	return nil
}

// EnsureQueueExists declares a durable queue and returns the channel used
// to declare it.
func EnsureQueueExists(conn *amqp.Connection, name QueueName) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		string(name), // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}

	return ch, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
