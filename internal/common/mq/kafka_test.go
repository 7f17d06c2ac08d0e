package mq

import (
	"testing"
	"time"
)

func TestMessageHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	msg := NewMessage([]byte("payload"))
	msg.ID = "msg-1"
	msg.Priority = 3
	msg.MaxRetries = 7
	msg.Expiration = 90 * time.Second
	msg.SetHeader("x-pool-retry", "2")

	km := toKafkaMessage("judge.submissions", msg)
	if km.Topic != "judge.submissions" {
		t.Fatalf("topic = %s", km.Topic)
	}

	back := fromKafkaMessage(km)
	if string(back.Body) != "payload" {
		t.Fatalf("body = %q", back.Body)
	}
	if back.ID != msg.ID {
		t.Fatalf("id = %s, want %s", back.ID, msg.ID)
	}
	if back.Priority != 3 {
		t.Fatalf("priority = %d", back.Priority)
	}
	if back.MaxRetries != 7 {
		t.Fatalf("max retries = %d", back.MaxRetries)
	}
	if back.Expiration != 90*time.Second {
		t.Fatalf("expiration = %v", back.Expiration)
	}
	if v, ok := back.GetHeader("x-pool-retry"); !ok || v != "2" {
		t.Fatalf("custom header lost: %q %v", v, ok)
	}
}

func TestMessageShouldRetry(t *testing.T) {
	t.Parallel()

	msg := NewMessage(nil)
	msg.MaxRetries = 2
	if !msg.ShouldRetry() {
		t.Fatalf("fresh message should retry")
	}
	msg.IncrementRetry()
	msg.IncrementRetry()
	if msg.ShouldRetry() {
		t.Fatalf("retry budget exhausted, should not retry")
	}
}

func TestSubscribeOptionsDefaults(t *testing.T) {
	t.Parallel()

	var opts SubscribeOptions
	opts.SetDefaults()
	if opts.PrefetchCount != 1 || opts.Concurrency != 1 || opts.MaxRetries != 3 || opts.RetryDelay != time.Second {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}

func TestNewKafkaQueueRequiresBrokers(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatalf("expected an error without brokers")
	}
}
