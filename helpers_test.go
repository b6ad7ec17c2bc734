package hxlive

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsLiveRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		expect  bool
	}{
		{"component script", map[string]string{"X-Requested-With": "XMLHttpRequest"}, true},
		{"htmx", map[string]string{"HX-Request": "true"}, true},
		{"htmx false", map[string]string{"HX-Request": "false"}, false},
		{"other requested-with", map[string]string{"X-Requested-With": "fetch"}, false},
		{"without headers", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			result := IsLiveRequest(req)
			if result != tt.expect {
				t.Errorf("IsLiveRequest() = %v, want %v", result, tt.expect)
			}
		})
	}
}

func TestCurrentURL(t *testing.T) {
	tests := []struct {
		name    string
		current string
		referer string
		expect  string
	}{
		{"with current URL", "http://example.com/page", "http://example.com/other", "http://example.com/page"},
		{"referer fallback", "", "http://example.com/other", "http://example.com/other"},
		{"without headers", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.current != "" {
				req.Header.Set("HX-Current-URL", tt.current)
			}
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}

			result := CurrentURL(req)
			if result != tt.expect {
				t.Errorf("CurrentURL() = %q, want %q", result, tt.expect)
			}
		})
	}
}

func TestRenderHelper(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	if err := Render(rec, req, htmlf(`<p>%s</p>`, "ok")); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if rec.Body.String() != "<p>ok</p>" {
		t.Errorf("body = %q, want <p>ok</p>", rec.Body.String())
	}
}
