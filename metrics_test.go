package hxlive

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDispatchMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	reg := newTestRegistry(t, WithMetrics(registry))
	c := mount(t, NewTestClient(reg), "counter")

	mustOK(t, send(t, c, CallAction("increment"), SyncAction("label", "x")))
	if res := send(t, c); !res.NotModified() {
		t.Fatalf("status = %d, want 304", res.StatusCode)
	}
	send(t, c, CallAction("fail"))

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"ok", testutil.ToFloat64(reg.metrics.requests.WithLabelValues("counter", "ok")), 1},
		{"not modified", testutil.ToFloat64(reg.metrics.requests.WithLabelValues("counter", "not_modified")), 1},
		{"error", testutil.ToFloat64(reg.metrics.requests.WithLabelValues("counter", "error")), 1},
		{"callMethod actions", testutil.ToFloat64(reg.metrics.actions.WithLabelValues("counter", "callMethod")), 2},
		{"syncInput actions", testutil.ToFloat64(reg.metrics.actions.WithLabelValues("counter", "syncInput")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(reg.metrics.latency); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrNotModified, "not_modified"},
		{ErrChecksumMismatch, "protocol_error"},
		{&ComponentLoadError{Name: "x"}, "error"},
	}
	for _, tt := range tests {
		if got := outcome(tt.err); got != tt.want {
			t.Errorf("outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
