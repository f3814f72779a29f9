package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает одно сообщение очереди.
// Ненулевая ошибка означает неудачную обработку (сообщение будет nack).
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — распарсенное сообщение вместе с исходной доставкой.
type Delivery struct {
	// Message — конверт сообщения Conveyor.
	Message Message

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// Ack подтверждает успешную обработку сообщения.
func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack отклоняет сообщение.
// requeue=true — вернуть в очередь, false — отправить в DLQ.
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// Consumer читает очередь Conveyor в фоне.
//
// Политика подтверждений рассчитана на очереди с DLQ (см. topology):
//   - нечитаемое сообщение сразу уходит в DLQ;
//   - сообщение неожиданного типа подтверждается и отбрасывается;
//   - ошибка обработчика даёт ровно одну повторную доставку, после
//     неё сообщение уходит в DLQ — испорченный триггер не должен
//     бесконечно перезапускать pipeline.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int
	accepts  map[MessageType]bool

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество сообщений, выдаваемых без подтверждения
	// (default: 1 — триггеры обрабатываются по одному).
	Prefetch int

	// Types — допустимые типы сообщений. Пусто — любые.
	Types []MessageType
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	var accepts map[MessageType]bool
	if len(cfg.Types) > 0 {
		accepts = make(map[MessageType]bool, len(cfg.Types))
		for _, t := range cfg.Types {
			accepts[t] = true
		}
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
		accepts:  accepts,
	}
}

// Start запускает цикл потребления в фоне. Цикл живёт до Stop или
// отмены контекста; обрыв соединения переживается переподпиской после
// reconnect.
func (c *Consumer) Start(ctx context.Context) error {
	if c.queue == "" || c.handler == nil {
		return fmt.Errorf("consumer needs a queue and a handler")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx)
	}()

	return nil
}

// consume подписывается на очередь и обрабатывает сообщения до
// остановки, переподписываясь после каждого реконнекта.
func (c *Consumer) consume(ctx context.Context) {
	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Warn("queue subscribe failed, waiting for reconnect",
				"queue", c.queue,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-c.conn.ReconnectNotify():
			}
			continue
		}

		c.logger.Info("consuming", "queue", c.queue)

		if !c.drain(ctx, deliveries) {
			return
		}

		// Канал доставки закрыт брокером — подписываемся заново
		// после восстановления соединения.
		select {
		case <-ctx.Done():
			return
		case <-c.conn.ReconnectNotify():
		}
	}
}

// subscribe настраивает prefetch и начинает потребление.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack (подтверждаем вручную)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}

	return deliveries, nil
}

// drain обрабатывает доставки, пока контекст жив. Возвращает false,
// когда пора завершаться, и true, когда канал закрыт и нужна
// переподписка.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false

		case raw, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed", "queue", c.queue)
				return true
			}
			c.handle(ctx, raw)
		}
	}
}

// handle разбирает и обрабатывает одно сообщение.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("unreadable message, sending to DLQ",
			"queue", c.queue,
			"error", err,
		)
		raw.Nack(false, false)
		return
	}

	if len(c.accepts) > 0 && !c.accepts[msg.Type] {
		c.logger.Warn("dropping message of unexpected type",
			"queue", c.queue,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		raw.Ack(false)
		return
	}

	if err := c.handler(ctx, &Delivery{Message: msg, Raw: raw}); err != nil {
		requeue := retryDelivery(raw.Redelivered)
		c.logger.Error("handler failed",
			"queue", c.queue,
			"message_id", msg.ID,
			"type", msg.Type,
			"requeue", requeue,
			"error", err,
		)
		raw.Nack(false, requeue)
		return
	}

	raw.Ack(false)
}

// retryDelivery решает судьбу сообщения после ошибки обработчика:
// первая неудача — вернуть в очередь, повторная — в DLQ.
func retryDelivery(redelivered bool) bool {
	return !redelivered
}

// Stop останавливает цикл потребления и дожидается его завершения.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// Payload приходит распарсенным как map — прогоняем через JSON
	// ещё раз, чтобы получить типизированную структуру.
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
