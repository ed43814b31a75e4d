// Package queue connects the tracker to external analysis workers over RabbitMQ.
//
// Jobs are published as JSON to a durable job queue. Workers report back by
// publishing ResultMessage values to a durable result queue, which is consumed
// here and applied to the tracker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/deepfake-scanner/backend/internal/analysis"
	"github.com/deepfake-scanner/backend/internal/models"
)

// Config holds broker settings.
type Config struct {
	URL            string
	JobQueue       string
	ResultQueue    string
	ConnectRetries int
	RetryDelay     time.Duration
}

// ResultMessage is what workers publish to the result queue.
type ResultMessage struct {
	RequestID string                 `json:"request_id"`
	Status    models.AnalysisStatus  `json:"status"`
	Progress  *int                   `json:"progress,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// publisher is the part of *amqp.Channel used to send jobs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQ publishes analysis jobs and consumes worker results.
type RabbitMQ struct {
	conn        *amqp.Connection
	mu          sync.Mutex // guards pub; amqp channels are not safe for concurrent publishing
	pub         publisher
	jobQueue    string
	resultQueue string
}

// Dial connects to the broker, retrying cfg.ConnectRetries times, and
// declares both queues.
func Dial(cfg Config) (*RabbitMQ, error) {
	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 1
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < retries; i++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		log.Warnf("[Queue] connecting to RabbitMQ failed, retrying in %s (%d/%d): %v", delay, i+1, retries, err)
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	for _, name := range []string{cfg.JobQueue, cfg.ResultQueue} {
		if _, err := declare(pub, name); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declaring queue %s: %w", name, err)
		}
	}

	log.Infof("[Queue] connected to RabbitMQ (jobs=%s results=%s)", cfg.JobQueue, cfg.ResultQueue)

	return &RabbitMQ{
		conn:        conn,
		pub:         pub,
		jobQueue:    cfg.JobQueue,
		resultQueue: cfg.ResultQueue,
	}, nil
}

func declare(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

// Dispatch publishes job to the job queue.
func (r *RabbitMQ) Dispatch(ctx context.Context, job models.AnalysisJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshalling job: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.pub.PublishWithContext(ctx,
		"",         // default exchange
		r.jobQueue, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.RequestID,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publishing job: %w", err)
	}

	log.Debugf("[Queue] sent job %s for %s", job.RequestID, job.OriginalFilename)
	return nil
}

// ConsumeResults applies worker results to reporter until ctx is done or the
// delivery channel closes.
func (r *RabbitMQ) ConsumeResults(ctx context.Context, reporter analysis.Reporter) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(8, 0, false); err != nil {
		return fmt.Errorf("setting qos: %w", err)
	}

	msgs, err := ch.Consume(
		r.resultQueue, // queue
		"",            // consumer
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("registering consumer: %w", err)
	}

	log.Infof("[Queue] waiting for results on %s", r.resultQueue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("result delivery channel closed")
			}
			handleDelivery(reporter, d)
		}
	}
}

func handleDelivery(reporter analysis.Reporter, d amqp.Delivery) {
	msg, err := DecodeResult(d.Body)
	if err != nil {
		log.Errorf("[Queue] dropping malformed result: %v", err)
		d.Nack(false, false)
		return
	}

	if err := Apply(reporter, msg); err != nil {
		// Cleared or already finished requests cannot take the update; retrying will not help.
		log.Warnf("[Queue] result for %s not applied: %v", msg.RequestID, err)
	}
	d.Ack(false)
}

// DecodeResult parses and validates a result message body.
func DecodeResult(body []byte) (ResultMessage, error) {
	var msg ResultMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("unmarshalling result: %w", err)
	}
	if msg.RequestID == "" {
		return msg, errors.New("result without request_id")
	}
	return msg, nil
}

// Apply translates one result message into a tracker transition.
func Apply(reporter analysis.Reporter, msg ResultMessage) error {
	switch msg.Status {
	case models.AnalysisStatusProcessing:
		if msg.Progress == nil {
			return nil
		}
		return reporter.UpdateProgress(msg.RequestID, *msg.Progress)
	case models.AnalysisStatusCompleted:
		return reporter.Complete(msg.RequestID, msg.Result)
	case models.AnalysisStatusFailed:
		reason := msg.Error
		if reason == "" {
			reason = "analysis failed"
		}
		return reporter.Fail(msg.RequestID, reason)
	default:
		return fmt.Errorf("unknown status %q", msg.Status)
	}
}

// Connected reports whether the broker connection is open.
func (r *RabbitMQ) Connected() bool {
	return r.conn != nil && !r.conn.IsClosed()
}

// Close closes the publishing channel and the connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pub != nil {
		r.pub.Close()
	}
	return r.conn.Close()
}
