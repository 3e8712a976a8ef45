package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// MaxRetries is how often a failed message is retried before it is moved
// to the dead-letter queue.
const MaxRetries = 10

// RebuildMsg requests a graph rebuild.
type RebuildMsg struct {
	Message     string    `json:"message"`
	RequestedAt time.Time `json:"requested_at"`
}

// RebuiltMsg is published on GraphRebuiltTopic after a successful build.
type RebuiltMsg struct {
	Report common.BuildReport `json:"report"`
}

// Rebuilder runs one graph rebuild.
type Rebuilder interface {
	Rebuild(ctx context.Context) (common.BuildReport, error)
}

// EnqueueRebuild publishes a rebuild request.
func EnqueueRebuild(ch Channel, message string) error {
	b, err := json.Marshal(RebuildMsg{Message: message, RequestedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return PublishFIFO(ch, RebuildQueue, b)
}

// ProcessRebuildMessage handles one message from RebuildQueue. A build that
// is already running counts as success since it will pick up the latest
// documents anyway.
func ProcessRebuildMessage(ctx context.Context, svc Rebuilder, ch Channel, body []byte) error {
	var data RebuildMsg
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("invalid rebuild message: %w", err)
	}
	logger.Info("[Queue] Rebuild requested", "message", data.Message, "requested_at", data.RequestedAt)

	report, err := svc.Rebuild(ctx)
	if errors.Is(err, common.ErrBuildInProgress) {
		logger.Info("[Queue] Rebuild already running, dropping request")
		return nil
	}
	if err != nil {
		return err
	}

	b, err := json.Marshal(RebuiltMsg{Report: report})
	if err != nil {
		return err
	}
	if err := PublishTopic(ch, GraphRebuiltTopic, b); err != nil {
		logger.Warn("[Queue] Failed to announce rebuilt graph", "graph_id", report.GraphID, "err", err)
	}
	return nil
}

// Restorer replaces the active graph with the persisted snapshot.
type Restorer interface {
	Restore(ctx context.Context) (common.GraphStats, error)
	Statistics() (common.GraphStats, error)
}

// ProcessRebuiltMessage reloads the persisted graph when an announcement
// names a graph other than the active one.
func ProcessRebuiltMessage(ctx context.Context, svc Restorer, body []byte) error {
	var data RebuiltMsg
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("invalid rebuilt message: %w", err)
	}
	if stats, err := svc.Statistics(); err == nil && stats.GraphID == data.Report.GraphID {
		logger.Debug("[Queue] Announced graph already active", "graph_id", data.Report.GraphID)
		return nil
	}

	stats, err := svc.Restore(ctx)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Reloaded rebuilt graph", "graph_id", stats.GraphID, "nodes", stats.TotalNodes)
	return nil
}

// Retries reads the retry counter header of msg.
func Retries(msg amqp091.Delivery) int {
	switch v := msg.Headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError sends a failed message to the retry queue, or to
// the dead-letter queue once it has been retried MaxRetries times.
func HandleProcessingError(ch Channel, msg amqp091.Delivery, queueName string) {
	retries := Retries(msg)

	if retries >= MaxRetries {
		dlqName := queueName + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType: msg.ContentType,
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
