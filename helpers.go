package hxlive

import (
	"net/http"

	"github.com/a-h/templ"
)

// Render writes a templ component to the HTTP response.
//
// Sets Content-Type to text/html and renders the component using the
// request's context. Use it for full page loads that embed components
// through Registry.View:
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    hxlive.Render(w, r, page(reg.View(r, "counter", "", nil)))
//	}
func Render(w http.ResponseWriter, r *http.Request, component templ.Component) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return component.Render(r.Context(), w)
}

// IsLiveRequest reports whether the request was sent by the component
// script (X-Requested-With: XMLHttpRequest) or by htmx (HX-Request: true).
func IsLiveRequest(r *http.Request) bool {
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest" || r.Header.Get("HX-Request") == "true"
}

// CurrentURL returns the URL the browser is on, from the HX-Current-URL
// header, falling back to the Referer.
func CurrentURL(r *http.Request) string {
	if u := r.Header.Get("HX-Current-URL"); u != "" {
		return u
	}
	return r.Referer()
}
