package queue

import (
	"fmt"
	"time"

	"github.com/abie0416/BiegeAI/internal/util"
	"github.com/abie0416/BiegeAI/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// RebuildQueue carries graph rebuild requests to the worker.
	RebuildQueue = "rebuild_queue"

	// GraphRebuiltTopic announces finished builds on the pubsub exchange.
	GraphRebuiltTopic = "graph.rebuilt"

	pubsubExchange = "pubsub_exchange"
	retryDelayMs   = 10000
)

// Channel is the part of *amqp091.Channel the queue helpers use.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares every queue together with its dead-letter queue and
// a retry queue that hands messages back after a delay.
func SetupQueues(ch Channel, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelayMs),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}

	return nil
}

func PublishFIFO(ch Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		"",
		q.Name,
		false,
		false,
		publishing,
	)
}

func PublishTopic(ch Channel, topic string, data []byte) error {
	err := ch.ExchangeDeclare(
		pubsubExchange,
		"topic",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		pubsubExchange,
		topic,
		false,
		false,
		publishing,
	)
}

// Subscriber is the part of *amqp091.Channel needed to follow a topic.
type Subscriber interface {
	Channel
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

// SubscribeTopic binds a private, auto-deleted queue to topic on the pubsub
// exchange and starts consuming it with auto ack.
func SubscribeTopic(ch Subscriber, topic string) (<-chan amqp091.Delivery, error) {
	err := ch.ExchangeDeclare(
		pubsubExchange,
		"topic",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.QueueBind(q.Name, topic, pubsubExchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind %s: %w", topic, err)
	}
	return ch.Consume(q.Name, "", true, true, false, false, nil)
}
