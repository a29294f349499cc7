package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/seoulengine/moriarty/pkg/proto"
)

// Context carries per-connection state through handler calls. It satisfies
// context.Context so handlers can pass it to blocking calls directly, and
// Pusher so subsystems like the content watcher can write one-way commands
// to the client.
type Context[StateT any] struct {
	context.Context

	RemoteAddr net.Addr

	// Platform reported by the client during the handshake.
	Platform proto.Platform

	State StateT

	rd proto.Reader

	// sendMu serializes responses from the serve goroutine with pushes
	// originating elsewhere (watcher, input forwarder, session attach).
	sendMu sync.Mutex
	wr     proto.Writer

	cancel context.CancelFunc
}

// NewContext builds a connection context over rw. The server loop uses it
// for every accepted connection; handler tests drive it directly.
func NewContext[StateT any](parent context.Context, rw io.ReadWriter) *Context[StateT] {
	ctx := &Context[StateT]{
		rd: proto.Reader{Reader: rw},
		wr: proto.Writer{Writer: rw},
	}
	ctx.Context, ctx.cancel = context.WithCancel(parent)

	return ctx
}

func (c *Context[StateT]) Close() error {
	if c.cancel != nil {
		c.cancel()
	}

	if closer, ok := any(&c.State).(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("state close failed: %w", err)
		}
	}

	return nil
}

func (c *Context[StateT]) PushContentChange(ev proto.ContentChangeEvent) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.wr.SendContentChangeEvent(ev)
}

func (c *Context[StateT]) PushStatFileCacheRefresh(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.wr.SendStatFileCacheRefresh(payload)
}

func (c *Context[StateT]) PushKeyboardKey(ev proto.KeyEvent) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.wr.SendKeyboardKeyEvent(ev)
}

func (c *Context[StateT]) PushKeyboardChar(r rune) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.wr.SendKeyboardCharEvent(r)
}

// Pusher is the one-way command surface of a connection.
type Pusher interface {
	PushContentChange(ev proto.ContentChangeEvent) error
	PushStatFileCacheRefresh(payload []byte) error
	PushKeyboardKey(ev proto.KeyEvent) error
	PushKeyboardChar(r rune) error
}

// Handler performs the filesystem side of every RPC. Implementations must
// never fail the connection for filesystem errors: those are converted to a
// proto.Result and serialized by the server loop. Handle-table state lives in
// Context.State.
type Handler[StateT any] interface {
	// HandleAttach runs after a successful handshake, before the first RPC.
	// HandleDetach runs when the connection ends, before state teardown.
	HandleAttach(ctx *Context[StateT])
	HandleDetach(ctx *Context[StateT])

	HandleLogMessage(ctx *Context[StateT], message string)

	HandleStatFile(ctx *Context[StateT], fp proto.FilePath) (proto.FileStat, proto.Result)
	HandleOpenFile(ctx *Context[StateT], fp proto.FilePath, mode proto.FileMode) (int32, proto.FileStat, proto.Result)
	HandleCloseFile(ctx *Context[StateT], handle int32) proto.Result
	HandleReadFile(ctx *Context[StateT], handle int32, count, offset uint64) ([]byte, bool, proto.Result)
	HandleWriteFile(ctx *Context[StateT], handle int32, offset uint64, data io.Reader, count uint64) (uint64, proto.Result)
	HandleSetFileModifiedTime(ctx *Context[StateT], fp proto.FilePath, mtime uint64) proto.Result
	HandleGetDirectoryListing(ctx *Context[StateT], fp proto.FilePath, includeDirs, recursive bool, extension string) ([]string, proto.Result)
	HandleCookFile(ctx *Context[StateT], fp proto.FilePath, checkTimestamp bool) (proto.FileStat, proto.CookResult, proto.Result)
	HandleCreateDirPath(ctx *Context[StateT], fp proto.FilePath) proto.Result
	HandleDelete(ctx *Context[StateT], fp proto.FilePath) proto.Result
	HandleRename(ctx *Context[StateT], from, to proto.FilePath) proto.Result
	HandleSetReadOnlyBit(ctx *Context[StateT], fp proto.FilePath, readOnly bool) proto.Result
	HandleCopy(ctx *Context[StateT], from, to proto.FilePath, allowOverwrite bool) proto.Result
	HandleDeleteDirectory(ctx *Context[StateT], fp proto.FilePath, recursive bool) proto.Result
}
