package hxlive

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/containerd/log"
	"github.com/pthm/hxlive/lib/markup"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handle dispatches req, through the serial queue when one is configured.
func (reg *Registry) Handle(ctx context.Context, r *http.Request, req *ComponentRequest) (*Response, error) {
	if reg.serial != nil {
		return reg.serial.Handle(ctx, r, req)
	}
	return reg.Dispatch(ctx, r, req)
}

// Dispatch applies a verified message to its component and renders the
// result. It returns ErrNotModified when the client already has the
// rendered output and nothing else needs to be sent.
//
// The steps run in a fixed order: restore or construct the component,
// bind the request, apply the client's data and hydrate, apply each
// action, complete, compute the changed fields, validate them, render,
// persist the tree, build the response and finally render any ancestors
// that were asked to repaint.
func (reg *Registry) Dispatch(ctx context.Context, r *http.Request, req *ComponentRequest) (resp *Response, err error) {
	start := time.Now()
	ctx, span := reg.tracer.Start(ctx, "hxlive.dispatch", trace.WithAttributes(
		attribute.String("hxlive.component", req.Name),
		attribute.String("hxlive.id", req.ID),
		attribute.Int("hxlive.actions", len(req.Actions)),
	))
	defer func() {
		if err != nil && !IsNotModified(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		reg.metrics.observe(req.Name, outcome(err), start)
	}()
	ctx = log.WithLogger(ctx, log.G(ctx).WithFields(log.Fields{
		"component": req.Name,
		"id":        req.ID,
	}))
	ctx, flashes := withFlashes(ctx)

	tree := reg.NewTree(r)
	c, err := reg.Create(ctx, tree, req.Name, req.ID, true)
	if err != nil {
		return nil, err
	}
	if b := baseOf(c); b.key == "" {
		b.key = req.Key
	}

	original := req.Data
	if err := applyData(ctx, c, req.Data); err != nil {
		return nil, err
	}
	if h, ok := c.(Hydrater); ok {
		if err := h.Hydrate(ctx); err != nil {
			return nil, err
		}
	}

	var (
		partials                    []Partial
		ret                         *ReturnValue
		reset, refresh, validateAll bool
	)
	for _, a := range req.Actions {
		partials = append(partials, a.Partials()...)
		reg.metrics.action(req.Name, a.Kind())

		next, rv, err := a.Apply(ctx, tree, c, req)
		if err != nil {
			return nil, err
		}
		c = next
		switch a.(type) {
		case *Reset:
			reset = true
		case *Refresh:
			refresh = true
		case *ValidateAll:
			validateAll = true
		}
		if rv != nil {
			ret = rv
		}
	}
	b := baseOf(c)

	if cm, ok := c.(Completer); ok {
		if err := cm.Complete(ctx); err != nil {
			return nil, err
		}
	}

	// Safe fields are honoured by Text at render time; the wire data is
	// always the plain value.
	data, err := FrontendData(c)
	if err != nil {
		return nil, err
	}
	changed := changedFields(data, original, reset || refresh)

	switch {
	case validateAll:
		Validate(ctx, c)
	case len(changed) > 0:
		Validate(ctx, c, changed...)
	}

	var redirect, poll map[string]any
	if ret != nil {
		redirect = redirectPayload(ret.Value)
		poll = pollPayload(ret.Value)
	}
	restoreFlashes := func() {}
	if redirect != nil {
		restoreFlashes = flashes.detach()
	}
	html, err := reg.renderNode(ctx, c, false)
	if err == nil {
		if rh, ok := c.(RenderedHook); ok {
			err = rh.Rendered(ctx, html)
		}
	}
	restoreFlashes()
	if err != nil {
		return nil, err
	}

	if err := reg.cache.Store(ctx, c); err != nil {
		log.G(ctx).WithError(err).Warn("component tree not cached")
	}

	checksum, err := reg.signer.Checksum(data)
	if err != nil {
		return nil, err
	}
	resp = &Response{
		ID:       b.id,
		Data:     make(map[string]any, len(changed)),
		Errors:   b.Errors(),
		Calls:    b.Calls(),
		Checksum: checksum,
		Redirect: redirect,
		Poll:     poll,
	}
	for _, name := range changed {
		resp.Data[name] = data[name]
	}
	if resp.Calls == nil {
		resp.Calls = []Call{}
	}
	if resp.Return, err = wireReturn(ret); err != nil {
		return nil, err
	}

	if len(partials) > 0 {
		if resp.Partials, err = extractPartials(html, partials); err != nil {
			return nil, err
		}
	} else {
		hash := reg.signer.MustChecksum(html)
		pendingReturn := ret != nil && ret.Value != nil
		if hash == req.Hash && !pendingReturn && len(b.calls) == 0 && b.parentID == "" && !b.forceRender {
			return nil, ErrNotModified
		}
		resp.DOM = html
		resp.Hash = hash
	}

	if err := reg.renderAncestors(ctx, tree, c, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// changedFields lists the fields whose encoded value differs from what the
// client sent, or every field when all is set.
func changedFields(data, original map[string]any, all bool) []string {
	var out []string
	for name, v := range data {
		if all {
			out = append(out, name)
			continue
		}
		prev, ok := original[name]
		if !ok || !sameValue(v, prev) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// renderAncestors walks up from c. Each ancestor that asked to be
// re-rendered is rendered with the freshly rendered child patched in,
// persisted and nested under the previous payload's Parent.
func (reg *Registry) renderAncestors(ctx context.Context, tree *Tree, c Component, resp *Response) error {
	into := resp
	child := c
	for p := tree.Get(baseOf(c).parentID); p != nil; p = tree.Get(baseOf(p).parentID) {
		pb := baseOf(p)
		if !pb.forceRender {
			child = p
			continue
		}

		out, err := reg.renderNode(ctx, p, false)
		if err != nil {
			return err
		}
		childHTML, err := reg.renderNode(ctx, child, true)
		if err != nil {
			return err
		}
		frag, err := markup.Parse(out)
		if err != nil {
			return err
		}
		if cf, err := markup.Parse(childHTML); err == nil && frag.Replace(AttrID, baseOf(child).id, cf) {
			out = frag.String()
		}

		data, err := FrontendData(p)
		if err != nil {
			return err
		}
		checksum, err := reg.signer.Checksum(data)
		if err != nil {
			return err
		}
		if err := reg.cache.Store(ctx, p); err != nil {
			log.G(ctx).WithError(err).WithField("parent", pb.id).Warn("parent not cached")
		}

		calls := pb.Calls()
		if calls == nil {
			calls = []Call{}
		}
		into.Parent = &Response{
			ID:       pb.id,
			Data:     data,
			Errors:   pb.Errors(),
			Calls:    calls,
			Checksum: checksum,
			DOM:      out,
		}
		into = into.Parent
		child = p
	}
	return nil
}
