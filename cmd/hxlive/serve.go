package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/a-h/templ"
	"github.com/containerd/log"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pthm/hxlive"
	"github.com/pthm/hxlive/example/components"
	"github.com/pthm/hxlive/lib/cache"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func newServeCommand() *cobra.Command {
	var (
		configPath string
		addr       string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides the config)")
	return cmd
}

func runServe(ctx context.Context, cfg *Config) error {
	handler, cleanup, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.G(ctx).WithField("addr", cfg.Addr).Info("serving components")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newServer wires the registry, the todo table and the demo pages.
func newServer(ctx context.Context, cfg *Config) (http.Handler, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.G(ctx).WithError(err).Warn("cleanup failed")
			}
		}
	}

	backend := cfg.backend()
	if r, ok := backend.(*cache.Redis); ok {
		closers = append(closers, r)
		if err := r.Ping(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
	}

	dialect, _ := cfg.dialect()
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, db)
	if cfg.Database.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	todos, err := components.OpenTodos(ctx, db, dialect)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open todos: %w", err)
	}

	opts := cfg.registryOptions(backend)
	var metrics *prometheus.Registry
	if cfg.Metrics.Enabled {
		metrics = prometheus.NewRegistry()
		metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, hxlive.WithMetrics(metrics))
	}
	reg := hxlive.NewRegistry([]byte(cfg.Secret), opts...)
	components.Register(reg, todos)

	mux := http.NewServeMux()
	mux.Handle(reg.Prefix(), reg.Handler())
	mux.Handle("GET /{$}", reg.Sessions(page(reg, "Counter", "counter")))
	mux.Handle("GET /todos", reg.Sessions(page(reg, "Todos", "todo-list")))
	mux.Handle("GET /profile", reg.Sessions(page(reg, "Profile", "profile")))
	if metrics != nil {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))
	}
	return mux, cleanup, nil
}

// page serves a full page holding one freshly mounted component.
func page(reg *hxlive.Registry, title, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := layout(title, reg.View(r, name, "", nil)).Render(r.Context(), &buf); err != nil {
			log.G(r.Context()).WithError(err).WithField("component", name).Error("page render failed")
			reg.OnError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = buf.WriteTo(w)
	})
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s</title></head><body><nav><a href="/">Counter</a> <a href="/todos">Todos</a> <a href="/profile">Profile</a></nav>`,
			templ.EscapeString(title)); err != nil {
			return err
		}
		if err := hxlive.Flashes().Render(ctx, w); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}
