package service

import (
	"context"
	"testing"
	"time"

	"codemate/internal/common/mq"
)

func TestComputePoolBackoff(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	max := time.Second

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := ComputePoolBackoff(tt.retry, base, max); got != tt.want {
			t.Fatalf("backoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}

	if got := ComputePoolBackoff(3, 0, max); got != 0 {
		t.Fatalf("zero base should disable backoff, got %v", got)
	}
}

func TestParsePoolRetryCount(t *testing.T) {
	t.Parallel()

	if got := ParsePoolRetryCount(nil); got != 0 {
		t.Fatalf("nil headers = %d", got)
	}
	if got := ParsePoolRetryCount(map[string]string{poolRetryHeader: "3"}); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
	if got := ParsePoolRetryCount(map[string]string{poolRetryHeader: "junk"}); got != 0 {
		t.Fatalf("junk header = %d, want 0", got)
	}
	if got := ParsePoolRetryCount(map[string]string{poolRetryHeader: "-2"}); got != 0 {
		t.Fatalf("negative header = %d, want 0", got)
	}
}

func TestCloneMessageForRetryResetsConsumerRetries(t *testing.T) {
	t.Parallel()

	msg := mq.NewMessage([]byte("body"))
	msg.RetryCount = 2
	msg.SetHeader("custom", "kept")

	clone := CloneMessageForRetry(msg, 4)
	if clone.RetryCount != 0 {
		t.Fatalf("consumer retry count should reset, got %d", clone.RetryCount)
	}
	if got, _ := clone.GetHeader(poolRetryHeader); got != "4" {
		t.Fatalf("pool retry header = %q", got)
	}
	if got, _ := clone.GetHeader("custom"); got != "kept" {
		t.Fatalf("existing headers should carry over")
	}
	if string(clone.Body) != "body" {
		t.Fatalf("body changed")
	}
}

func TestRequeueForPoolFullSendsToDeadLetterWhenExhausted(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	msg := mq.NewMessage([]byte("body"))
	msg.SetHeader(poolRetryHeader, "5")

	err := RequeueForPoolFull(context.Background(), q, "judge.retry", "judge.dlq", 5, time.Millisecond, time.Millisecond, msg)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	msgs := q.all()
	if len(msgs) != 1 || msgs[0].topic != "judge.dlq" {
		t.Fatalf("expected one dead letter publish, got %+v", msgs)
	}
}

func TestRequeueForPoolFullIncrementsCounter(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	msg := mq.NewMessage([]byte("body"))
	msg.SetHeader(poolRetryHeader, "1")

	err := RequeueForPoolFull(context.Background(), q, "judge.retry", "judge.dlq", 5, time.Millisecond, 2*time.Millisecond, msg)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	msgs := q.all()
	if len(msgs) != 1 || msgs[0].topic != "judge.retry" {
		t.Fatalf("expected a retry publish, got %+v", msgs)
	}
	if got, _ := msgs[0].msg.GetHeader(poolRetryHeader); got != "2" {
		t.Fatalf("pool retry header = %q, want 2", got)
	}
}
