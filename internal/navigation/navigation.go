// Package navigation records history mutations and browser-driven
// navigation signals as nav events.
package navigation

import (
	"github.com/dev-console/pagetap/internal/capture"
	"github.com/dev-console/pagetap/internal/host"
	"github.com/dev-console/pagetap/internal/types"
)

// History decorates PushState and ReplaceState. The underlying mutator always
// runs first; a nav event follows only when it succeeded.
type History struct {
	host.History
	ctx *capture.Context
}

// Wrap decorates h.
func Wrap(ctx *capture.Context, h host.History) *History {
	return &History{History: h, ctx: ctx}
}

func (h *History) PushState(state any, title, rawURL string) error {
	if err := h.History.PushState(state, title, rawURL); err != nil {
		return err
	}
	h.ctx.Guard("history.pushState", func() { emit(h.ctx, h.History.Href()) })
	return nil
}

func (h *History) ReplaceState(state any, title, rawURL string) error {
	if err := h.History.ReplaceState(state, title, rawURL); err != nil {
		return err
	}
	h.ctx.Guard("history.replaceState", func() { emit(h.ctx, h.History.Href()) })
	return nil
}

// Install wraps the window history and listens for popstate and hashchange.
func Install(ctx *capture.Context, win *host.Window) {
	if win.History != nil {
		win.History = Wrap(ctx, win.History)
	}
	if win.Events == nil {
		return
	}
	win.Events.AddEventListener(host.EventPopState, func(host.Event) {
		ctx.Guard("window.popstate", func() { emit(ctx, win.Href()) })
	})
	win.Events.AddEventListener(host.EventHashChange, func(ev host.Event) {
		ctx.Guard("window.hashchange", func() {
			href := win.Href()
			if hc, ok := ev.(*host.HashChangeEvent); ok && hc.NewURL != "" {
				href = hc.NewURL
			}
			emit(ctx, href)
		})
	})
}

func emit(ctx *capture.Context, href string) {
	ctx.EmitCustom(types.TagNav, types.NavPayload{Href: href, Timestamp: types.Millis(ctx.Now())})
}
