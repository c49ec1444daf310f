// Package queue provides a durable retry queue for daemon operations that
// could not be delivered to a client (the client was offline, asleep, or
// behind an unreachable NAT binding) and must be redelivered once the
// client re-registers.
//
// Features:
//   - RabbitMQ connection management
//   - Durable, JSON-serialized retry job publishing
//   - Clean resource cleanup
//   - Error handling with wrapped errors
package queue

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/connectivityfoundry/lwm2m-runtime/optree"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/streadway/amqp"
)

// RetryJob is one operation a server daemon failed to deliver to a
// client and wants retried once the client is reachable again.
type RetryJob struct {
	ClientID string              `json:"client_id"`
	Kind     optree.OperationKind `json:"kind"`
	Path     string              `json:"path"`
	Attempts int                 `json:"attempts"`
}

// TargetPath parses Path back into a path.Path for the retry worker.
func (j RetryJob) TargetPath() (path.Path, error) {
	return path.Parse(j.Path)
}

// Config holds the RabbitMQ connection settings for the retry queue.
type Config struct {
	RabbitMQURL string
	QueueName   string
}

// JobPublisher defines the interface for publishing retry jobs. This
// interface allows for easy mocking and testing of message publishing
// functionality.
type JobPublisher interface {
	// PublishJob publishes a retry job to the queue. Returns an error if
	// message serialization or publishing fails.
	PublishJob(job RetryJob) error

	// Close closes the connection to the message queue.
	Close() error
}

// RabbitMQService manages a connection and channel to a RabbitMQ server
// and publishes RetryJobs to a durable queue.
type RabbitMQService struct {
	connection AMQPConnection
	channel    AMQPChannel
	config     Config
}

// NewRabbitMQService connects to RabbitMQ and declares the configured
// queue as durable, so retry jobs survive a broker restart.
func NewRabbitMQService(config Config) (*RabbitMQService, error) {
	dialer := &RealAMQPDialer{}
	return NewRabbitMQServiceWithDialer(config, dialer)
}

// NewRabbitMQServiceWithDialer creates a new RabbitMQ service with
// dependency injection, for testing with a fake dialer.
func NewRabbitMQServiceWithDialer(config Config, dialer AMQPDialer) (*RabbitMQService, error) {
	conn, err := dialer.Dial(config.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		config.QueueName, // name
		true,             // durable
		false,            // delete when unused
		false,            // exclusive
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &RabbitMQService{
		connection: conn,
		channel:    ch,
		config:     config,
	}, nil
}

// PublishJob serializes job to JSON and publishes it to the retry queue.
func (r *RabbitMQService) PublishJob(job RetryJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal retry job: %w", err)
	}

	err = r.channel.Publish(
		"",                 // exchange (empty string means default exchange)
		r.config.QueueName, // routing key (queue name)
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish retry job: %w", err)
	}

	log.Printf("queued retry for client %s at %s (attempt %d)", job.ClientID, job.Path, job.Attempts)
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (r *RabbitMQService) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		r.connection.Close()
	}
	return nil
}
