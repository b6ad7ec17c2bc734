package hxlive

import (
	"context"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/containerd/log"
	"github.com/vmihailenco/msgpack/v5"
)

// Flash levels for toast notifications.
const (
	FlashSuccess = "success"
	FlashError   = "error"
	FlashWarning = "warning"
	FlashInfo    = "info"
)

const (
	sessionCookie  = "hxlive_session"
	flashKeyPrefix = "hxlive:flash:"
)

// Flash represents a one-time notification message.
//
// Messages added during a request are shown by the next template that
// renders Flashes. When a method answers with a redirect the messages are
// held back and shown after the navigation instead:
//
//	func (p *Profile) Save(ctx context.Context) (hxlive.Redirect, error) {
//	    hxlive.AddFlash(ctx, hxlive.FlashSuccess, "Profile saved")
//	    return hxlive.Redirect{URL: "/"}, nil
//	}
type Flash struct {
	Level   string `json:"level" msgpack:"level"`
	Message string `json:"message" msgpack:"message"`
}

type flashBox struct {
	mu    sync.Mutex
	items []Flash
}

func flashesFrom(ctx context.Context) *flashBox {
	box, _ := ctx.Value(flashCtxKey).(*flashBox)
	return box
}

// withFlashes returns a context carrying a flash list, reusing one that is
// already present.
func withFlashes(ctx context.Context) (context.Context, *flashBox) {
	if box := flashesFrom(ctx); box != nil {
		return ctx, box
	}
	box := &flashBox{}
	return context.WithValue(ctx, flashCtxKey, box), box
}

// AddFlash queues a message for the current user. It is a no-op outside a
// request served by the registry.
func AddFlash(ctx context.Context, level, message string) {
	box := flashesFrom(ctx)
	if box == nil {
		return
	}
	box.mu.Lock()
	box.items = append(box.items, Flash{Level: level, Message: message})
	box.mu.Unlock()
}

// TakeFlashes removes and returns the queued messages.
func TakeFlashes(ctx context.Context) []Flash {
	box := flashesFrom(ctx)
	if box == nil {
		return nil
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	out := box.items
	box.items = nil
	return out
}

// detach empties the list and returns a function that puts the messages
// back, ahead of any added in between.
func (box *flashBox) detach() func() {
	box.mu.Lock()
	held := box.items
	box.items = nil
	box.mu.Unlock()
	return func() {
		box.mu.Lock()
		box.items = append(held, box.items...)
		box.mu.Unlock()
	}
}

// Flashes renders and consumes the queued messages as a toast container.
//
// Add this to your layout template (typically near the end of <body>):
//
//	@hxlive.Flashes()
func Flashes() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var sb strings.Builder
		sb.WriteString(`<div id="toasts" class="toast-container">`)
		for _, f := range TakeFlashes(ctx) {
			sb.WriteString(`<div class="toast toast-`)
			sb.WriteString(html.EscapeString(f.Level))
			sb.WriteString(`" data-auto-dismiss="3000">`)
			sb.WriteString(html.EscapeString(f.Message))
			sb.WriteString(`</div>`)
		}
		sb.WriteString(`</div>`)
		_, err := io.WriteString(w, sb.String())
		return err
	})
}

// Sessions loads messages left over from earlier requests into the request
// context and saves whatever is still queued when next returns. Messages
// are kept in the registry's backend under a per-browser session cookie.
//
//	mux.Handle("/", reg.Sessions(pages))
func (reg *Registry) Sessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, box := withFlashes(r.Context())
		sid := sessionID(w, r)
		key := flashKeyPrefix + sid

		if raw, err := reg.backend.Get(ctx, key); err == nil {
			var pending []Flash
			if err := msgpack.Unmarshal(raw, &pending); err == nil {
				box.items = append(pending, box.items...)
			}
			_ = reg.backend.Delete(ctx, key)
		}

		next.ServeHTTP(w, r.WithContext(ctx))

		box.mu.Lock()
		left := box.items
		box.mu.Unlock()
		if len(left) == 0 {
			return
		}
		raw, err := msgpack.Marshal(left)
		if err == nil {
			err = reg.backend.Set(ctx, key, raw, time.Hour)
		}
		if err != nil {
			log.G(ctx).WithError(err).Warn("pending flash messages not saved")
		}
	})
}

func sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	sid := NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sid
}
