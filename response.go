package hxlive

import (
	"encoding/json"
	"time"

	"github.com/pthm/hxlive/lib/encoding"
)

// Response is the JSON answer to a component message. Exactly one of DOM
// and Partials is set. Parent carries the payload of an ancestor that was
// forced to render.
type Response struct {
	ID       string                  `json:"id"`
	Data     map[string]any          `json:"data"`
	Errors   map[string][]FieldError `json:"errors"`
	Calls    []Call                  `json:"calls"`
	Checksum string                  `json:"checksum"`
	DOM      string                  `json:"dom,omitempty"`
	Partials []PartialDOM            `json:"partials,omitempty"`
	Hash     string                  `json:"hash,omitempty"`
	Return   *ReturnValue            `json:"return,omitempty"`
	Redirect map[string]any          `json:"redirect,omitempty"`
	Poll     map[string]any          `json:"poll,omitempty"`
	Parent   *Response               `json:"parent,omitempty"`

	// Queued marks an acknowledgment for a message that was queued behind
	// an in-flight one for the same component.
	Queued        bool  `json:"-"`
	Epoch         int64 `json:"-"`
	OriginalEpoch int64 `json:"-"`
}

// MarshalJSON writes queued acknowledgments in their short form.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Queued {
		return json.Marshal(map[string]any{
			"queued":         true,
			"epoch":          r.Epoch,
			"original_epoch": r.OriginalEpoch,
		})
	}
	type plain Response
	return json.Marshal((*plain)(r))
}

// PartialDOM is the HTML of one requested partial.
type PartialDOM struct {
	ID     string `json:"id,omitempty"`
	Key    string `json:"key,omitempty"`
	Target string `json:"target,omitempty"`
	DOM    string `json:"dom"`
}

// ReturnValue is the result of the last method call that returned
// something.
type ReturnValue struct {
	Method string         `json:"method"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
	Value  any            `json:"value"`
}

// Methods may return one of the following to steer the browser instead of
// (or in addition to) re-rendering.
type (
	// Redirect navigates to URL.
	Redirect struct {
		URL string
	}

	// HashUpdate replaces the location hash without navigating.
	HashUpdate struct {
		Hash string
	}

	// LocationUpdate pushes URL onto the history and re-titles the page
	// without a reload.
	LocationUpdate struct {
		URL   string
		Title string
	}

	// PollUpdate changes the component's polling.
	PollUpdate struct {
		Timing  time.Duration
		Method  string
		Disable bool
	}
)

// redirectPayload returns the redirect object for v, or nil when v does
// not steer navigation.
func redirectPayload(v any) map[string]any {
	switch r := v.(type) {
	case Redirect:
		return map[string]any{"url": r.URL}
	case *Redirect:
		return map[string]any{"url": r.URL}
	case HashUpdate:
		return map[string]any{"hash": r.Hash}
	case *HashUpdate:
		return map[string]any{"hash": r.Hash}
	case LocationUpdate:
		return locationPayload(r)
	case *LocationUpdate:
		return locationPayload(*r)
	}
	return nil
}

func locationPayload(r LocationUpdate) map[string]any {
	return map[string]any{"url": r.URL, "refresh": true, "title": r.Title}
}

func pollPayload(v any) map[string]any {
	var p PollUpdate
	switch t := v.(type) {
	case PollUpdate:
		p = t
	case *PollUpdate:
		p = *t
	default:
		return nil
	}
	out := map[string]any{"disable": p.Disable}
	if p.Timing > 0 {
		out["timing"] = p.Timing.Milliseconds()
	}
	if p.Method != "" {
		out["method"] = p.Method
	}
	return out
}

// wireReturn prepares rv for the response. Navigation values are reported
// through redirect and poll, so their return value is nil.
func wireReturn(rv *ReturnValue) (*ReturnValue, error) {
	if rv == nil {
		return nil, nil
	}
	out := &ReturnValue{Method: rv.Method, Args: rv.Args, Kwargs: rv.Kwargs}
	if out.Args == nil {
		out.Args = []any{}
	}
	if out.Kwargs == nil {
		out.Kwargs = map[string]any{}
	}
	if redirectPayload(rv.Value) != nil || pollPayload(rv.Value) != nil {
		return out, nil
	}
	var err error
	if out.Args, err = normalizeSlice(out.Args); err != nil {
		return nil, err
	}
	kw, err := encoding.Normalize(out.Kwargs)
	if err != nil {
		return nil, err
	}
	out.Kwargs, _ = kw.(map[string]any)
	if out.Value, err = encoding.Normalize(rv.Value); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeSlice(in []any) ([]any, error) {
	n, err := encoding.Normalize(in)
	if err != nil {
		return nil, err
	}
	out, _ := n.([]any)
	if out == nil {
		out = []any{}
	}
	return out, nil
}
