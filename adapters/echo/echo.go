// Package hxliveecho provides Echo framework integration for hxlive
// components.
//
// Mount the component routes onto an Echo instance or group:
//
//	e := echo.New()
//	reg := hxliveecho.Mount(e, hxliveecho.WithKey(secret))
//	hxlive.Register(reg, "counter", newCounter).Action("increment", (*Counter).Increment)
//
// Or mount on a group with middleware:
//
//	g := e.Group("/app", authMiddleware)
//	reg := hxliveecho.MountGroup(g)
package hxliveecho

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/pthm/hxlive"
)

// Option configures the Mount and MountGroup functions.
type Option func(*options)

type options struct {
	key      []byte
	path     string
	registry []hxlive.Option
}

// WithKey sets the secret the registry signs component state with.
// The key should be at least 32 bytes of cryptographically random data.
// If not provided, a random key is generated (suitable for development only).
func WithKey(key []byte) Option {
	return func(o *options) {
		o.key = key
	}
}

// WithPath sets the URL path prefix for component routes, relative to the
// Echo instance or group. Defaults to "/live/".
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithRegistryOptions passes options through to hxlive.NewRegistry.
func WithRegistryOptions(opts ...hxlive.Option) Option {
	return func(o *options) {
		o.registry = append(o.registry, opts...)
	}
}

// Mount creates a registry and mounts the component handler on an Echo instance.
//
//	e := echo.New()
//	reg := hxliveecho.Mount(e)
//
//	// With options:
//	reg := hxliveecho.Mount(e, hxliveecho.WithKey(key))
func Mount(e *echo.Echo, opts ...Option) *hxlive.Registry {
	reg := newRegistry(opts)
	e.Any(reg.Prefix()+"*", Handler(reg))
	return reg
}

// MountGroup creates a registry and mounts the component handler on an Echo group.
// This allows components to share middleware with the group (auth, logging, etc.).
//
//	g := e.Group("/app", authMiddleware)
//	reg := hxliveecho.MountGroup(g)
func MountGroup(g *echo.Group, opts ...Option) *hxlive.Registry {
	reg := newRegistry(opts)
	g.Any(reg.Prefix()+"*", Handler(reg))
	return reg
}

// Handler adapts the registry's handler to an Echo route ending in "*".
// The wildcard remainder is resolved against the registry prefix, so the
// route may live under any group.
func Handler(reg *hxlive.Registry) echo.HandlerFunc {
	h := reg.Handler()
	return func(c echo.Context) error {
		r := c.Request()
		rest := strings.TrimPrefix(c.Param("*"), "/")
		if path := reg.Prefix() + rest; path != r.URL.Path {
			r2 := r.Clone(r.Context())
			r2.URL.Path = path
			r2.URL.RawPath = ""
			r = r2
		}
		h.ServeHTTP(c.Response(), r)
		return nil
	}
}

func newRegistry(opts []Option) *hxlive.Registry {
	o := &options{path: "/live/"}
	for _, opt := range opts {
		opt(o)
	}

	key := o.key
	if key == nil {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("hxliveecho: failed to generate random key: %v", err))
		}
	}

	path := "/" + strings.Trim(o.path, "/") + "/"
	ropts := append([]hxlive.Option{hxlive.WithPrefix(path)}, o.registry...)
	return hxlive.NewRegistry(key, ropts...)
}

// Render writes a templ component to the Echo response.
//
//	func handler(c echo.Context) error {
//	    return hxliveecho.Render(c, myTemplate())
//	}
func Render(c echo.Context, component templ.Component) error {
	return hxlive.Render(c.Response(), c.Request(), component)
}

// View renders a registered component for a full page load.
//
//	func page(c echo.Context) error {
//	    return hxliveecho.View(c, reg, "counter", nil)
//	}
func View(c echo.Context, reg *hxlive.Registry, name string, setup func(hxlive.Component) error) error {
	c.Response().Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := reg.View(c.Request(), name, "", setup).Render(c.Request().Context(), c.Response()); err != nil {
		if hxlive.IsComponentLoadError(err) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return nil
}
