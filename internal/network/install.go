package network

import (
	"github.com/dev-console/pagetap/internal/capture"
	"github.com/dev-console/pagetap/internal/host"
)

// Install replaces the window's transport and XHR factory with instrumented
// decorators. XHR instances keep using the client they were built with, so a
// request is observed by exactly one of the two paths.
func Install(ctx *capture.Context, win *host.Window) {
	win.Transport = WrapTransport(ctx, win.Transport)
	if win.NewXHR != nil {
		win.NewXHR = WrapXHRFactory(ctx, win.NewXHR)
	}
}
