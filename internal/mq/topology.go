package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeEvents Exchange = "conveyor.events"
	ExchangeDLQ    Exchange = "conveyor.dlq"
)

// Queues — имена очередей.
const (
	QueueExtractionsCompleted Queue = "extractions.completed"
	QueuePipelinesFinished    Queue = "pipelines.finished"
	QueuePipelinesTrigger     Queue = "pipelines.trigger"
	QueueDLQTriggers          Queue = "dlq.triggers"
)

// Routing keys.
const (
	RoutingKeyExtractionCompleted RoutingKey = "extraction.completed"
	RoutingKeyPipelineFinished    RoutingKey = "pipeline.finished"
	RoutingKeyPipelineTrigger     RoutingKey = "pipeline.trigger"
	RoutingKeyDLQTriggers         RoutingKey = "triggers"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Триггеры после неудачной обработки уходят в DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTriggers),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// События — без DLQ, потребители обрабатывают как best-effort
		{QueueExtractionsCompleted, nil},
		{QueuePipelinesFinished, nil},

		// pipelines.trigger — с DLQ (битый триггер не должен крутиться вечно)
		{QueuePipelinesTrigger, dlqArgs},

		// dlq.triggers — сама DLQ очередь
		{QueueDLQTriggers, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueExtractionsCompleted, RoutingKeyExtractionCompleted, ExchangeEvents},
		{QueuePipelinesFinished, RoutingKeyPipelineFinished, ExchangeEvents},
		{QueuePipelinesTrigger, RoutingKeyPipelineTrigger, ExchangeEvents},
		{QueueDLQTriggers, RoutingKeyDLQTriggers, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.events (direct)
    ├── extractions.completed [routing: extraction.completed]
    │       Consumer: downstream loaders
    ├── pipelines.finished [routing: pipeline.finished]
    │       Consumer: alerting / downstream loaders
    └── pipelines.trigger [routing: pipeline.trigger]
            Consumer: conveyor-pipeline daemon
            DLQ: dlq.triggers

    conveyor.dlq (direct)
    └── dlq.triggers [routing: triggers]
            Manual processing
  `
}
