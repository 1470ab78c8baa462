package node

import (
	"context"
	"testing"
	"time"

	"github.com/gezibash/arc-conduit/pkg/logging"
)

func TestPing(t *testing.T) {
	cfg := testConfig(t)
	res, err := Ping(context.Background(), cfg, PingOptions{Messages: 50, Warmup: 5, Timeout: 5 * time.Second}, Deps{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if res.Messages != 50 {
		t.Fatalf("Messages = %d, want 50", res.Messages)
	}
	ordered := []time.Duration{res.Min, res.P50, res.P90, res.P99, res.P999, res.Max}
	for i := 1; i < len(ordered); i++ {
		if ordered[i] < ordered[i-1] {
			t.Fatalf("percentiles out of order: %v", ordered)
		}
	}
	if res.Min <= 0 {
		t.Errorf("Min = %v, want > 0", res.Min)
	}
	if res.Mean < res.Min || res.Mean > res.Max {
		t.Errorf("Mean = %v outside [%v, %v]", res.Mean, res.Min, res.Max)
	}
}

func TestPingRejectsZeroMessages(t *testing.T) {
	if _, err := Ping(context.Background(), testConfig(t), PingOptions{}, Deps{}); err == nil {
		t.Fatal("Ping with no messages succeeded")
	}
}

func TestPingMessageTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stream.MessageLength = 1 << 20
	if _, err := Ping(context.Background(), cfg, PingOptions{Messages: 1}, Deps{}); err == nil {
		t.Fatal("Ping with oversized message succeeded")
	}
}

func TestPingCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Ping(ctx, testConfig(t), PingOptions{Messages: 1}, Deps{}); err == nil {
		t.Fatal("Ping with cancelled context succeeded")
	}
}

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}
	tests := []struct {
		q    float64
		want time.Duration
	}{
		{0.01, 1 * time.Millisecond},
		{0.50, 50 * time.Millisecond},
		{0.90, 90 * time.Millisecond},
		{0.99, 99 * time.Millisecond},
		{0.999, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := Percentile(samples, tt.q); got != tt.want {
			t.Errorf("Percentile(%v) = %v, want %v", tt.q, got, tt.want)
		}
	}
	if got := Percentile(nil, 0.5); got != 0 {
		t.Errorf("Percentile(nil) = %v, want 0", got)
	}
}
