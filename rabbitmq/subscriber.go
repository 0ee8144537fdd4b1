// Package rabbitmq implements the at-least-once observation job
// subscriber: a bounded worker pool over one consumer channel, a retry
// exchange carrying a retry-count header, and reconnect with backoff.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"tree-analyze-pipeline/metrics"

	"github.com/streadway/amqp"
)

// Message represents a received RabbitMQ message.
type Message struct {
	Body        []byte
	RoutingKey  string
	Exchange    string
	ContentType string
	Timestamp   time.Time
	DeliveryTag uint64
}

// UnmarshalTo unmarshals the message body into the provided interface.
func (m *Message) UnmarshalTo(v any) error {
	return json.Unmarshal(m.Body, v)
}

// CallbackFunc processes a message. Return:
// - nil on success (will Ack)
// - Permanent(err) for permanent failure (will Nack requeue=false; DLQ if configured)
// - any other error for transient failure (will retry via the retry exchange)
type CallbackFunc func(msg *Message) error

// PermanentError marks a message processing failure as non-retriable.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError (non-retriable).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func isPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

const (
	// Analysis jobs hold multiple provider calls in flight, so the
	// worker pool stays small by default.
	defaultConcurrency = 4
	envConcurrency     = "RABBITMQ_CONCURRENCY"

	defaultMaxRetries = 3
	envMaxRetries     = "RABBITMQ_MAX_RETRIES"

	defaultRetryExchangePrefix = "treeinventory-retry."
	envRetryExchangePrefix     = "RABBITMQ_RETRY_EXCHANGE_PREFIX"
	retryCountHeaderKey        = "x-treeinventory-retry-count"
)

func subscriberConcurrency() int {
	if v := os.Getenv(envConcurrency); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("rabbitmq: invalid %s=%q, using default=%d", envConcurrency, v, defaultConcurrency)
	}
	return defaultConcurrency
}

func subscriberMaxRetries() int {
	if v := os.Getenv(envMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
		log.Printf("rabbitmq: invalid %s=%q, using default=%d", envMaxRetries, v, defaultMaxRetries)
	}
	return defaultMaxRetries
}

func retryExchangeFor(queue string) string {
	prefix := os.Getenv(envRetryExchangePrefix)
	if prefix == "" {
		prefix = defaultRetryExchangePrefix
	}
	return prefix + queue
}

func retryCountFromHeaders(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	v, ok := headers[retryCountHeaderKey]
	if !ok || v == nil {
		return 0
	}
	maxInt := int(^uint(0) >> 1)
	switch t := v.(type) {
	case int:
		if t < 0 {
			return 0
		}
		return t
	case int32:
		if t < 0 {
			return 0
		}
		return int(t)
	case int64:
		if t < 0 {
			return 0
		}
		if t > int64(maxInt) {
			return maxInt
		}
		return int(t)
	case uint32:
		if int64(t) > int64(maxInt) {
			return maxInt
		}
		return int(t)
	case uint64:
		if t > uint64(maxInt) {
			return maxInt
		}
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil && n >= 0 {
			return n
		}
		return 0
	default:
		return 0
	}
}

func withRetryCountHeader(headers amqp.Table, next int) amqp.Table {
	out := amqp.Table{}
	for k, v := range headers {
		out[k] = v
	}
	if next < 0 {
		next = 0
	}
	out[retryCountHeaderKey] = int32(next)
	return out
}

// Subscriber is a RabbitMQ subscriber instance.
type Subscriber struct {
	amqpURL  string
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
	prefetch int

	maxRetries int

	// opMu serializes amqp operations on s.channel since amqp.Channel is not safe for concurrent use.
	opMu sync.Mutex

	startOnce sync.Once
	done      chan struct{}

	// Observability signals (best-effort).
	connected      atomic.Bool
	lastConnectNs  atomic.Int64
	lastDeliveryNs atomic.Int64
	lastError      atomic.Value // string
}

// NewSubscriber creates a new RabbitMQ subscriber instance.
func NewSubscriber(amqpURL, exchangeName, queueName string, prefetchCount int) (*Subscriber, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s := &Subscriber{
		amqpURL:    amqpURL,
		exchange:   exchangeName,
		queue:      queueName,
		prefetch:   prefetchCount,
		maxRetries: subscriberMaxRetries(),
		done:       make(chan struct{}),
	}

	// Establish initial connection so callers fail fast if RabbitMQ is unreachable.
	s.opMu.Lock()
	err := s.reconnectLocked(ctx)
	s.opMu.Unlock()
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Subscriber) setLastError(err error) {
	if err == nil {
		s.lastError.Store("")
		return
	}
	s.lastError.Store(err.Error())
}

func (s *Subscriber) markDisconnected(err error) {
	s.connected.Store(false)
	metrics.RabbitMQConnected.Set(0)
	if err != nil {
		s.setLastError(err)
	}
}

// reconnectLocked tears down any existing channel/connection and recreates them.
// Caller must hold s.opMu.
func (s *Subscriber) reconnectLocked(ctx context.Context) error {
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	conn, err := amqp.Dial(s.amqpURL)
	if err != nil {
		s.markDisconnected(err)
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		s.markDisconnected(err)
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(s.exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		s.markDisconnected(err)
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(s.queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		s.markDisconnected(err)
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	s.queue = q.Name

	select {
	case <-ctx.Done():
		_ = ch.Close()
		_ = conn.Close()
		s.markDisconnected(nil)
		return fmt.Errorf("context timeout while connecting subscriber: %w", ctx.Err())
	default:
	}

	s.conn = conn
	s.channel = ch
	s.connected.Store(true)
	metrics.RabbitMQConnected.Set(1)

	now := time.Now().UnixNano()
	s.lastConnectNs.Store(now)
	metrics.RabbitMQLastConnectSeconds.Set(float64(time.Unix(0, now).Unix()))

	s.setLastError(nil)
	return nil
}

// Start begins consuming messages and dispatching them to the routing key callbacks.
func (s *Subscriber) Start(routingKeyCallbacks map[string]CallbackFunc) error {
	s.startOnce.Do(func() {
		workers := subscriberConcurrency()
		if s.prefetch > 0 && workers > s.prefetch {
			workers = s.prefetch
		}

		jobs := make(chan amqp.Delivery, workers)

		for i := 0; i < workers; i++ {
			workerID := i + 1
			go func() {
				for delivery := range jobs {
					s.handleDelivery(workerID, delivery, routingKeyCallbacks)
				}
			}()
		}

		go s.consumeLoop(jobs, workers, routingKeyCallbacks)
	})
	return nil
}

// handleDelivery runs the callback for one delivery and settles it:
// success acks, permanent failures and panics nack without requeue,
// transient failures republish to the retry exchange until maxRetries.
func (s *Subscriber) handleDelivery(workerID int, delivery amqp.Delivery, callbacks map[string]CallbackFunc) {
	startedAt := time.Now()
	s.lastDeliveryNs.Store(startedAt.UnixNano())
	metrics.RabbitMQLastDeliverySeconds.Set(float64(startedAt.Unix()))

	metrics.WorkerInFlight.Inc()
	defer metrics.WorkerInFlight.Dec()

	log.Printf(
		"rabbitmq worker_start worker_id=%d exchange=%s queue=%s routing_key=%s delivery_tag=%d redelivered=%t",
		workerID, delivery.Exchange, s.queue, delivery.RoutingKey, delivery.DeliveryTag, delivery.Redelivered,
	)

	callback, exists := callbacks[delivery.RoutingKey]
	if !exists {
		nackErr := s.nack(delivery, false)
		s.finish("permanent_error", startedAt)
		log.Printf(
			"rabbitmq worker_finish worker_id=%d routing_key=%s delivery_tag=%d duration_ms=%d action=nack requeue=false err=%q nack_err=%v",
			workerID, delivery.RoutingKey, delivery.DeliveryTag, time.Since(startedAt).Milliseconds(),
			"no callback for routing key", nackErr,
		)
		return
	}

	msg := &Message{
		Body:        delivery.Body,
		RoutingKey:  delivery.RoutingKey,
		Exchange:    delivery.Exchange,
		ContentType: delivery.ContentType,
		Timestamp:   delivery.Timestamp,
		DeliveryTag: delivery.DeliveryTag,
	}

	var callbackErr error
	panicVal := any(nil)
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicVal = r
			}
		}()
		callbackErr = callback(msg)
	}()

	durationMs := time.Since(startedAt).Milliseconds()

	if panicVal != nil {
		// Treat panics as permanent; redelivering would just panic again.
		nackErr := s.nack(delivery, false)
		s.finish("panic", startedAt)
		log.Printf(
			"rabbitmq worker_finish worker_id=%d routing_key=%s delivery_tag=%d duration_ms=%d action=nack requeue=false panic=%v nack_err=%v",
			workerID, delivery.RoutingKey, delivery.DeliveryTag, durationMs, panicVal, nackErr,
		)
		return
	}

	if callbackErr == nil {
		ackErr := s.ack(delivery)
		s.finish("success", startedAt)
		log.Printf(
			"rabbitmq worker_finish worker_id=%d routing_key=%s delivery_tag=%d duration_ms=%d action=ack ack_err=%v",
			workerID, delivery.RoutingKey, delivery.DeliveryTag, durationMs, ackErr,
		)
		return
	}

	if isPermanent(callbackErr) {
		nackErr := s.nack(delivery, false)
		s.finish("permanent_error", startedAt)
		log.Printf(
			"rabbitmq worker_finish worker_id=%d routing_key=%s delivery_tag=%d duration_ms=%d action=nack requeue=false err=%v nack_err=%v",
			workerID, delivery.RoutingKey, delivery.DeliveryTag, durationMs, callbackErr, nackErr,
		)
		return
	}

	action, settleErr := s.retryOrDrop(delivery)
	s.finish("transient_error", startedAt)
	log.Printf(
		"rabbitmq worker_finish worker_id=%d routing_key=%s delivery_tag=%d duration_ms=%d action=%s err=%v settle_err=%v",
		workerID, delivery.RoutingKey, delivery.DeliveryTag, durationMs, action, callbackErr, settleErr,
	)
}

// retryOrDrop republishes a transiently-failed delivery to the retry
// exchange with an incremented retry count, acking the original to avoid
// a tight redelivery loop. Deliveries past maxRetries are nacked without
// requeue so the broker dead-letters them.
func (s *Subscriber) retryOrDrop(delivery amqp.Delivery) (string, error) {
	attempts := retryCountFromHeaders(delivery.Headers)
	if attempts >= s.maxRetries {
		return "drop", s.nack(delivery, false)
	}

	pub := amqp.Publishing{
		Headers:      withRetryCountHeader(delivery.Headers, attempts+1),
		ContentType:  delivery.ContentType,
		Body:         delivery.Body,
		DeliveryMode: delivery.DeliveryMode,
		Timestamp:    delivery.Timestamp,
	}
	retryExchange := retryExchangeFor(s.queue)

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.channel.Publish(retryExchange, delivery.RoutingKey, false, false, pub); err != nil {
		metrics.RetryPublishErrorTotal.Inc()
		// Keep the message alive: requeue on the original queue instead.
		nackErr := delivery.Nack(false, true)
		if nackErr != nil {
			metrics.NackErrorTotal.Inc()
			return "retry", nackErr
		}
		return "retry", err
	}

	ackErr := delivery.Ack(false)
	if ackErr != nil {
		metrics.AckErrorTotal.Inc()
	}
	return "retry", ackErr
}

func (s *Subscriber) ack(delivery amqp.Delivery) error {
	s.opMu.Lock()
	err := delivery.Ack(false)
	s.opMu.Unlock()
	if err != nil {
		metrics.AckErrorTotal.Inc()
	}
	return err
}

func (s *Subscriber) nack(delivery amqp.Delivery, requeue bool) error {
	s.opMu.Lock()
	err := delivery.Nack(false, requeue)
	s.opMu.Unlock()
	if err != nil {
		metrics.NackErrorTotal.Inc()
	}
	return err
}

func (s *Subscriber) finish(outcome string, startedAt time.Time) {
	metrics.ProcessedTotal.WithLabelValues(outcome).Inc()
	metrics.ProcessingDurationSeconds.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
}

// consumeLoop keeps one consumer alive: if the broker restarts, the
// consumer channel closes; we reconnect with backoff and resume.
func (s *Subscriber) consumeLoop(jobs chan amqp.Delivery, workers int, callbacks map[string]CallbackFunc) {
	backoff := 1 * time.Second
	sleep := func() {
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}

	for {
		select {
		case <-s.done:
			close(jobs)
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		msgs, err := s.setupConsumeLocked(ctx, workers, callbacks)
		cancel()
		if err != nil {
			log.Printf("rabbitmq consume setup failed queue=%s exchange=%s err=%v", s.queue, s.exchange, err)
			sleep()
			continue
		}

		log.Printf("rabbitmq consuming exchange=%s queue=%s workers=%d prefetch=%d", s.exchange, s.queue, workers, workers)
		backoff = 1 * time.Second

		closed := false
		for !closed {
			select {
			case <-s.done:
				close(jobs)
				return
			case delivery, ok := <-msgs:
				if !ok {
					s.markDisconnected(nil)
					log.Printf("rabbitmq delivery channel closed queue=%s exchange=%s; reconnecting", s.queue, s.exchange)
					sleep()
					closed = true
					continue
				}
				jobs <- delivery
			}
		}
	}
}

// setupConsumeLocked (re)connects if needed, applies QoS, binds every
// routing key and opens the consumer.
func (s *Subscriber) setupConsumeLocked(ctx context.Context, workers int, callbacks map[string]CallbackFunc) (<-chan amqp.Delivery, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.conn == nil || s.conn.IsClosed() || s.channel == nil {
		if err := s.reconnectLocked(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.channel.Qos(workers, 0, false); err != nil {
		s.markDisconnected(err)
		return nil, fmt.Errorf("qos failed: %w", err)
	}

	for routingKey := range callbacks {
		if err := s.channel.QueueBind(s.queue, routingKey, s.exchange, false, nil); err != nil {
			s.markDisconnected(err)
			return nil, fmt.Errorf("bind failed routing_key=%s: %w", routingKey, err)
		}
	}

	msgs, err := s.channel.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		s.markDisconnected(err)
		return nil, fmt.Errorf("consume failed: %w", err)
	}
	return msgs, nil
}

// Close closes the subscriber connection and channel.
func (s *Subscriber) Close() error {
	select {
	case <-s.done:
		// already closed
	default:
		close(s.done)
	}

	var err error
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.channel != nil {
		if channelErr := s.channel.Close(); channelErr != nil {
			log.Printf("Failed to close channel: %v", channelErr)
			err = channelErr
		}
		s.channel = nil
	}

	if s.conn != nil {
		if connErr := s.conn.Close(); connErr != nil {
			log.Printf("Failed to close connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
		s.conn = nil
	}

	s.connected.Store(false)
	metrics.RabbitMQConnected.Set(0)
	return err
}

// IsConnected indicates if the subscriber is currently connected (best-effort).
func (s *Subscriber) IsConnected() bool {
	if s.conn == nil || s.channel == nil {
		return false
	}
	if s.conn.IsClosed() {
		return false
	}
	return s.connected.Load()
}

// LastConnectAt returns the last time we successfully (re)connected.
func (s *Subscriber) LastConnectAt() time.Time {
	ns := s.lastConnectNs.Load()
	if ns <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastDeliveryAt returns the last time we observed a delivery.
func (s *Subscriber) LastDeliveryAt() time.Time {
	ns := s.lastDeliveryNs.Load()
	if ns <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastError returns the last connection/consumption error string (best-effort).
func (s *Subscriber) LastError() string {
	v := s.lastError.Load()
	if v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return ""
}

// GetExchange returns the exchange name.
func (s *Subscriber) GetExchange() string { return s.exchange }

// GetQueue returns the queue name.
func (s *Subscriber) GetQueue() string { return s.queue }
