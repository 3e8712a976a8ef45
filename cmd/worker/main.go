package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abie0416/BiegeAI/internal/knowledge"
	"github.com/abie0416/BiegeAI/internal/queue"
	"github.com/abie0416/BiegeAI/internal/util"
	"github.com/abie0416/BiegeAI/pkg/logger"
	"github.com/abie0416/BiegeAI/pkg/logger/console"

	_ "github.com/lib/pq"
)

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// GraphAiClient
	cfg := knowledge.LoadConfig()
	aiClient, err := knowledge.NewAIClient(cfg)
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	svc, cleanup, err := knowledge.Setup(ctx, cfg, aiClient)
	if err != nil {
		logger.Fatal("Could not set up knowledge service", "err", err)
	}
	defer cleanup()
	svc.Start(ctx)

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.RebuildQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// Builds are heavy, only one message is delivered at a time
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.RebuildQueue,
		queue.RebuildQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.RebuildQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.RebuildQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed", "queue", queue.RebuildQueue)
					stop()
					return
				}
				startTime := time.Now()
				logger.Info("Received message", "queue", queue.RebuildQueue)

				if err := queue.ProcessRebuildMessage(ctx, svc, ch, msg.Body); err != nil {
					logger.Error("Error processing message", "queue", queue.RebuildQueue, "err", err)
					queue.HandleProcessingError(consumerCh, msg, queue.RebuildQueue)
				} else {
					if err := msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", queue.RebuildQueue)
				}

				metrics := aiClient.GetMetrics()
				logger.Info(
					"AI Metrics",
					"requests", metrics.Requests,
					"input_tokens", metrics.InputTokens,
					"output_tokens", metrics.OutputTokens,
					"total_tokens", metrics.TotalTokens,
					"duration", formatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
				)
				logger.Info("Processing time", "duration", formatDuration(time.Since(startTime)))
				logger.Info("Waiting for next message")
				aiClient.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
