package hxlive

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/containerd/log"
)

// Handler returns the HTTP handler for component routes. Mount it at the
// configured prefix ("/live/" by default):
//
//	mux.Handle("/live/", reg.Handler())
//
// Routes:
//
//	POST {prefix}message/{name}  apply a component message, answer JSON
//	GET  {prefix}render/{name}   render a component for lazy loading
//
// Mutating requests must carry X-Requested-With: XMLHttpRequest or
// HX-Request: true, which browsers do not send cross-origin without a
// preflight.
func (reg *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+reg.opts.prefix+"message/{name}", reg.serveMessage)
	mux.HandleFunc("GET "+reg.opts.prefix+"render/{name}", reg.serveRender)

	return reg.Sessions(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead && !IsLiveRequest(r) {
			http.Error(w, "Forbidden: live request required", http.StatusForbidden)
			return
		}
		mux.ServeHTTP(w, r)
	}))
}

func (reg *Registry) serveMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, reg.opts.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	req, err := reg.DecodeRequest(name, body)
	if err == nil {
		var resp *Response
		if resp, err = reg.Handle(ctx, r, req); err == nil {
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	switch {
	case IsNotModified(err):
		w.WriteHeader(http.StatusNotModified)
	case IsProtocolError(err):
		log.G(ctx).WithError(err).WithField("component", name).Debug("rejected component message")
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
	default:
		log.G(ctx).WithError(err).WithField("component", name).Error("component message failed")
		reg.OnError(w, r, err)
	}
}

func (reg *Registry) serveRender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	out, err := reg.renderView(ctx, r, name, r.URL.Query().Get("id"), nil)
	if err != nil {
		log.G(ctx).WithError(err).WithField("component", name).Error("component render failed")
		reg.OnError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
