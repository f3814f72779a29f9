package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Conveyor/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeExtractionCompleted MessageType = "extraction.completed"
	MessageTypePipelineFinished    MessageType = "pipeline.finished"
	MessageTypePipelineTrigger     MessageType = "pipeline.trigger"
)

// Publisher публикует события Conveyor в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// ExtractionCompletedPayload — payload события о завершённом извлечении.
type ExtractionCompletedPayload struct {
	RunID        string    `json:"run_id"`
	TaskKey      string    `json:"task_key"`
	WindowStart  time.Time `json:"window_start"`
	RecordCount  int64     `json:"record_count"`
	ArtifactPath string    `json:"artifact_path"`
	ArtifactSize int64     `json:"artifact_size"`
	Checksum     string    `json:"checksum"`
}

// PipelineFinishedPayload — payload события о завершении pipeline.
type PipelineFinishedPayload struct {
	PipelineID     uuid.UUID `json:"pipeline_id"`
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"` // COMPLETED, FAILED или CANCELLED
	CompletedTasks int       `json:"completed_tasks"`
	FailedTasks    int       `json:"failed_tasks"`
	SkippedTasks   int       `json:"skipped_tasks"`
	RestartCount   int       `json:"restart_count"`
	DurationMs     int64     `json:"duration_ms"`
}

// PipelineTriggerPayload — payload триггера запуска pipeline.
type PipelineTriggerPayload struct {
	RunID       string    `json:"run_id,omitempty"`
	WindowStart time.Time `json:"window_start,omitempty"`
	WindowHours int       `json:"window_hours,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishTaskCompleted публикует событие об успешно завершённом
// извлечении. Потребители: загрузчики DWH.
func (p *Publisher) PublishTaskCompleted(ctx context.Context, task *domain.TaskState) error {
	msg := &Message{
		ID:   uuid.New().String(),
		Type: MessageTypeExtractionCompleted,
		Payload: ExtractionCompletedPayload{
			RunID:        task.RunID,
			TaskKey:      task.Key(),
			WindowStart:  task.Window.Start,
			RecordCount:  task.RecordCount,
			ArtifactPath: task.ArtifactPath,
			ArtifactSize: task.ArtifactSize,
			Checksum:     task.Checksum,
		},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyExtractionCompleted, msg)
}

// PublishPipelineFinished публикует событие о финале pipeline.
// Потребители: алертинг, загрузчики DWH.
func (p *Publisher) PublishPipelineFinished(ctx context.Context, pipeline *domain.PipelineState) error {
	msg := &Message{
		ID:   uuid.New().String(),
		Type: MessageTypePipelineFinished,
		Payload: PipelineFinishedPayload{
			PipelineID:     pipeline.ID,
			RunID:          pipeline.RunID,
			Status:         string(pipeline.Status),
			CompletedTasks: pipeline.CompletedTasks,
			FailedTasks:    pipeline.FailedTasks,
			SkippedTasks:   pipeline.SkippedTasks,
			RestartCount:   pipeline.RestartCount,
			DurationMs:     pipeline.Duration().Milliseconds(),
		},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyPipelineFinished, msg)
}

// PublishPipelineTrigger публикует триггер запуска pipeline.
// Потребитель: conveyor-pipeline daemon.
func (p *Publisher) PublishPipelineTrigger(ctx context.Context, payload PipelineTriggerPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypePipelineTrigger,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyPipelineTrigger, msg)
}
