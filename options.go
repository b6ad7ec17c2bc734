package hxlive

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pthm/hxlive/lib/cache"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Registry.
type Option func(*options)

type options struct {
	backend    cache.Backend
	ttl        time.Duration
	nearSize   int
	serial     SerialOptions
	registerer prometheus.Registerer
	tracer     trace.TracerProvider
	sealKey    []byte
	maxBody    int64
	prefix     string
}

func defaultOptions() *options {
	return &options{
		ttl:     24 * time.Hour,
		maxBody: 1 << 20,
		prefix:  "/live/",
		serial: SerialOptions{
			Mode:    SerialReturn,
			Timeout: 60 * time.Second,
			Merge:   MergeKeepFirstData,
		},
	}
}

// WithBackend sets the cross-request cache for component trees, the serial
// queue and pending flash messages. Defaults to an in-process cache.Memory.
func WithBackend(b cache.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithTTL sets how long cached component trees live. Defaults to 24h.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithNearCache keeps the last size persisted tree records in process in
// front of the backend. Only use it when a single process serves a given
// component id, for example behind sticky sessions.
func WithNearCache(size int) Option {
	return func(o *options) {
		o.nearSize = size
	}
}

// WithSerial enables the per-component serial queue.
func WithSerial(s SerialOptions) Option {
	return func(o *options) {
		s.Enabled = true
		if s.Timeout <= 0 {
			s.Timeout = 60 * time.Second
		}
		o.serial = s
	}
}

// WithMetrics registers the dispatcher's Prometheus collectors.
func WithMetrics(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithSealKey sets the key used to encrypt cache records of sensitive
// components. Defaults to the registry secret.
func WithSealKey(key []byte) Option {
	return func(o *options) {
		o.sealKey = key
	}
}

// WithMaxBodySize limits the size of message bodies. Defaults to 1 MiB.
func WithMaxBodySize(n int64) Option {
	return func(o *options) {
		o.maxBody = n
	}
}

// WithPrefix sets the URL prefix the handler is mounted at. Defaults to
// "/live/".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}
