package server

import (
	"context"
	"log/slog"
	"net"

	"github.com/seoulengine/moriarty/internal/logutil"
)

type remoteAddressed interface {
	remoteAddr() net.Addr
}

func (c *Context[StateT]) remoteAddr() net.Addr { return c.RemoteAddr }

// SlogContextHandler wraps slog.Handler to inject attributes from Context.
type SlogContextHandler struct {
	slog.Handler
}

func (h *SlogContextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if sctx, ok := ctx.(remoteAddressed); ok {
		rec.AddAttrs(logutil.StringerAttr("remote", sctx.remoteAddr()))
	}

	return h.Handler.Handle(ctx, rec)
}

func (h *SlogContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SlogContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *SlogContextHandler) WithGroup(name string) slog.Handler {
	return &SlogContextHandler{Handler: h.Handler.WithGroup(name)}
}
