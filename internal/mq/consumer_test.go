package mq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConnection — соединение без брокера: канал nil, реконнектов нет.
func testConnection() *Connection {
	return &Connection{
		logger:      testLogger(),
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}
}

func TestConsumer_StartIsNonBlocking(t *testing.T) {
	c := NewConsumer(testConnection(), testLogger(), ConsumerConfig{
		Queue:   string(QueuePipelinesTrigger),
		Handler: func(context.Context, *Delivery) error { return nil },
	})

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return; the consume loop must run in the background")
	}

	// Stop дожидается завершения цикла даже без соединения.
	c.Stop()
}

func TestConsumer_StartValidatesConfig(t *testing.T) {
	c := NewConsumer(testConnection(), testLogger(), ConsumerConfig{
		Queue: string(QueuePipelinesTrigger),
	})
	if err := c.Start(context.Background()); err == nil {
		t.Error("Start without a handler should fail")
	}

	c = NewConsumer(testConnection(), testLogger(), ConsumerConfig{
		Handler: func(context.Context, *Delivery) error { return nil },
	})
	if err := c.Start(context.Background()); err == nil {
		t.Error("Start without a queue should fail")
	}
}

func TestRetryDelivery(t *testing.T) {
	if !retryDelivery(false) {
		t.Error("first failure should requeue the message")
	}
	if retryDelivery(true) {
		t.Error("second failure should send the message to DLQ")
	}
}

func TestParsePayload_Trigger(t *testing.T) {
	// Payload после json.Unmarshal конверта — map, не структура.
	msg := &Message{
		Type: MessageTypePipelineTrigger,
		Payload: map[string]any{
			"run_id":       "20260824_020000",
			"window_start": "2026-08-23T00:00:00Z",
			"window_hours": 24,
		},
	}

	payload, err := ParsePayload[PipelineTriggerPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if payload.RunID != "20260824_020000" {
		t.Errorf("run_id = %q", payload.RunID)
	}
	if payload.WindowHours != 24 {
		t.Errorf("window_hours = %d", payload.WindowHours)
	}
	if payload.WindowStart.IsZero() {
		t.Error("window_start should be parsed")
	}
}
