package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/seoulengine/moriarty/internal/logutil"
	"github.com/seoulengine/moriarty/pkg/proto"
)

// Server accepts Moriarty connections and dispatches RPCs to a Handler.
// Handler execution is synchronous: one RPC at a time per connection, in
// arrival order. Correlation across connections relies solely on the echoed
// token; the server never inspects it.
type Server[StateT any] struct {
	Handler     Handler[StateT]
	ReadTimeout time.Duration
	Logger      *slog.Logger

	// ConnContext optionally derives the base context for a new connection.
	ConnContext func(ctx context.Context, c net.Conn) context.Context
}

func (s *Server[StateT]) Serve(ln net.Listener) error {
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept failed: %w", err)
		}

		go s.serveConn(conn)
	}
}

func (s *Server[StateT]) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}

	return slog.Default()
}

func (s *Server[StateT]) setConnReadDeadline(conn net.Conn) error {
	if s.ReadTimeout <= 0 {
		return nil
	}

	return conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
}

func (s *Server[StateT]) deriveConnContext(conn net.Conn) context.Context {
	if s.ConnContext == nil {
		return context.Background()
	}

	return s.ConnContext(context.Background(), conn)
}

func (s *Server[StateT]) serveConn(conn net.Conn) {
	ctx := NewContext[StateT](s.deriveConnContext(conn), conn)
	ctx.RemoteAddr = conn.RemoteAddr()

	log := s.logger().With(logutil.StringerAttr("remote", conn.RemoteAddr()))

	log.Info("Client connected")
	defer log.Info("Client disconnected")

	defer func() {
		if err := ctx.Close(); err != nil {
			log.Warn("State closed with errors", logutil.ErrorAttr(err))
		}
	}()

	defer conn.Close()

	if err := s.setConnReadDeadline(conn); err != nil {
		log.Error("Failed to set read deadline", logutil.ErrorAttr(err))
		return
	}

	if err := s.handshake(ctx); err != nil {
		log.Warn("Handshake failed", logutil.ErrorAttr(err))
		return
	}

	log.Info("Handshake completed", slog.String("platform", ctx.Platform.String()))

	s.Handler.HandleAttach(ctx)
	defer s.Handler.HandleDetach(ctx)

	for {
		if err := s.setConnReadDeadline(conn); err != nil {
			log.ErrorContext(ctx, "Failed to set read deadline", logutil.ErrorAttr(err))
			return
		}

		rpc, err := ctx.rd.ReadRPC()
		switch {
		case errors.Is(err, nil):
			// pass
		case errors.Is(err, io.EOF):
			log.InfoContext(ctx, "Connection closed")
			return
		default:
			log.ErrorContext(ctx, "Read command failed", logutil.ErrorAttr(err))
			return
		}

		rlog := log.With(logutil.StringerAttr("rpc", rpc))

		if !rpc.Valid() || rpc.IsResponse() {
			rlog.WarnContext(ctx, "Invalid RPC kind received", slog.Int("kind", int(rpc)))
			return
		}

		rlog.DebugContext(ctx, "Received RPC")

		if err := s.handleRPC(rpc, ctx); err != nil {
			rlog.ErrorContext(ctx, "RPC handler failed", logutil.ErrorAttr(err))
			return
		}
	}
}

// handshake validates the client hello and answers it. Version or magic
// mismatch is terminal: the peer is not a compatible client.
func (s *Server[StateT]) handshake(ctx *Context[StateT]) error {
	hs, err := ctx.rd.ReadHandshake()
	if err != nil {
		return fmt.Errorf("read client hello failed: %w", err)
	}

	if hs.Version != proto.ProtocolVersion {
		return fmt.Errorf("protocol version mismatch: client %d, server %d", hs.Version, proto.ProtocolVersion)
	}
	if hs.Magic != proto.ConnectMagic {
		return fmt.Errorf("bad connect magic 0x%08x", hs.Magic)
	}

	ctx.Platform = hs.Platform

	ctx.sendMu.Lock()
	defer ctx.sendMu.Unlock()

	return ctx.wr.SendHandshakeResponse()
}

// handleRPC decodes one request, performs it and sends the response carrying
// the caller's token. Decode errors are terminal for the connection; handler
// outcomes never are.
func (s *Server[StateT]) handleRPC(rpc proto.RPC, ctx *Context[StateT]) error {
	if rpc.OneWay() {
		return s.handleOneWay(rpc, ctx)
	}

	token, err := ctx.rd.ReadToken()
	if err != nil {
		return fmt.Errorf("read token failed: %w", err)
	}

	switch rpc {
	case proto.RPCStatFile:
		return s.handleStatFile(ctx, token)
	case proto.RPCOpenFile:
		return s.handleOpenFile(ctx, token)
	case proto.RPCCloseFile:
		return s.handleCloseFile(ctx, token)
	case proto.RPCReadFile:
		return s.handleReadFile(ctx, token)
	case proto.RPCWriteFile:
		return s.handleWriteFile(ctx, token)
	case proto.RPCSetFileModifiedTime:
		return s.handleSetFileModifiedTime(ctx, token)
	case proto.RPCGetDirectoryListing:
		return s.handleGetDirectoryListing(ctx, token)
	case proto.RPCCookFile:
		return s.handleCookFile(ctx, token)
	case proto.RPCCreateDirPath:
		return s.handleCreateDirPath(ctx, token)
	case proto.RPCDelete:
		return s.handleDelete(ctx, token)
	case proto.RPCRename:
		return s.handleRename(ctx, token)
	case proto.RPCSetReadOnlyBit:
		return s.handleSetReadOnlyBit(ctx, token)
	case proto.RPCCopy:
		return s.handleCopy(ctx, token)
	case proto.RPCDeleteDirectory:
		return s.handleDeleteDirectory(ctx, token)
	default:
		return fmt.Errorf("unhandled RPC kind %d", rpc)
	}
}

func (s *Server[StateT]) handleOneWay(rpc proto.RPC, ctx *Context[StateT]) error {
	switch rpc {
	case proto.RPCLogMessage:
		message, err := ctx.rd.ReadLogMessage()
		if err != nil {
			return fmt.Errorf("read log message failed: %w", err)
		}

		s.Handler.HandleLogMessage(ctx, message)
		return nil
	default:
		// the remaining one-way kinds flow server to client only
		return fmt.Errorf("unexpected client-sent one-way RPC %s", rpc)
	}
}

func (s *Server[StateT]) respond(ctx *Context[StateT], send func(wr *proto.Writer) error) error {
	ctx.sendMu.Lock()
	defer ctx.sendMu.Unlock()

	return send(&ctx.wr)
}

func (s *Server[StateT]) handleStatFile(ctx *Context[StateT], token uint32) error {
	fp, err := ctx.rd.ReadStatFile()
	if err != nil {
		return fmt.Errorf("read stat file args failed: %w", err)
	}

	st, res := s.Handler.HandleStatFile(ctx, fp)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendStatFileResult(token, res, st)
	})
}

func (s *Server[StateT]) handleOpenFile(ctx *Context[StateT], token uint32) error {
	fp, mode, err := ctx.rd.ReadOpenFile()
	if err != nil {
		return fmt.Errorf("read open file args failed: %w", err)
	}

	handle, st, res := s.Handler.HandleOpenFile(ctx, fp, mode)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendOpenFileResult(token, res, handle, st)
	})
}

func (s *Server[StateT]) handleCloseFile(ctx *Context[StateT], token uint32) error {
	handle, err := ctx.rd.ReadCloseFile()
	if err != nil {
		return fmt.Errorf("read close file args failed: %w", err)
	}

	res := s.Handler.HandleCloseFile(ctx, handle)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendGenericResult(proto.RPCCloseFile, token, res)
	})
}

func (s *Server[StateT]) handleReadFile(ctx *Context[StateT], token uint32) error {
	handle, count, offset, err := ctx.rd.ReadReadFile()
	if err != nil {
		return fmt.Errorf("read read file args failed: %w", err)
	}

	data, compressed, res := s.Handler.HandleReadFile(ctx, handle, count, offset)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendReadFileResult(token, res, compressed, data)
	})
}

func (s *Server[StateT]) handleWriteFile(ctx *Context[StateT], token uint32) error {
	handle, count, offset, err := ctx.rd.ReadWriteFile()
	if err != nil {
		return fmt.Errorf("read write file args failed: %w", err)
	}

	// the stream cannot be resynchronized if the advertised size is bogus
	if count > proto.MaxTransferSize {
		return fmt.Errorf("write of %d bytes exceeds transfer limit", count)
	}

	data := io.LimitReader(ctx.rd, int64(count))
	written, res := s.Handler.HandleWriteFile(ctx, handle, offset, data, count)

	// drain whatever the handler did not consume to keep framing intact
	if _, err := io.Copy(io.Discard, data); err != nil {
		return fmt.Errorf("drain write payload failed: %w", err)
	}

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendWriteFileResult(token, res, written)
	})
}

func (s *Server[StateT]) handleSetFileModifiedTime(ctx *Context[StateT], token uint32) error {
	fp, mtime, err := ctx.rd.ReadSetFileModifiedTime()
	if err != nil {
		return fmt.Errorf("read set modified time args failed: %w", err)
	}

	res := s.Handler.HandleSetFileModifiedTime(ctx, fp, mtime)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendGenericResult(proto.RPCSetFileModifiedTime, token, res)
	})
}

func (s *Server[StateT]) handleGetDirectoryListing(ctx *Context[StateT], token uint32) error {
	fp, includeDirs, recursive, extension, err := ctx.rd.ReadGetDirectoryListing()
	if err != nil {
		return fmt.Errorf("read directory listing args failed: %w", err)
	}

	entries, res := s.Handler.HandleGetDirectoryListing(ctx, fp, includeDirs, recursive, extension)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendDirectoryListingResult(token, res, entries)
	})
}

func (s *Server[StateT]) handleCookFile(ctx *Context[StateT], token uint32) error {
	fp, checkTimestamp, err := ctx.rd.ReadCookFile()
	if err != nil {
		return fmt.Errorf("read cook file args failed: %w", err)
	}

	st, cook, res := s.Handler.HandleCookFile(ctx, fp, checkTimestamp)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendCookFileResult(token, fp, st, res, cook)
	})
}

func (s *Server[StateT]) handleCreateDirPath(ctx *Context[StateT], token uint32) error {
	fp, err := ctx.rd.ReadCreateDirPath()
	if err != nil {
		return fmt.Errorf("read create dir path args failed: %w", err)
	}

	res := s.Handler.HandleCreateDirPath(ctx, fp)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendGenericResult(proto.RPCCreateDirPath, token, res)
	})
}

func (s *Server[StateT]) handleDelete(ctx *Context[StateT], token uint32) error {
	fp, err := ctx.rd.ReadDelete()
	if err != nil {
		return fmt.Errorf("read delete args failed: %w", err)
	}

	res := s.Handler.HandleDelete(ctx, fp)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendGenericResult(proto.RPCDelete, token, res)
	})
}

func (s *Server[StateT]) handleRename(ctx *Context[StateT], token uint32) error {
	from, to, err := ctx.rd.ReadRename()
	if err != nil {
		return fmt.Errorf("read rename args failed: %w", err)
	}

	res := s.Handler.HandleRename(ctx, from, to)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendGenericResult(proto.RPCRename, token, res)
	})
}

func (s *Server[StateT]) handleSetReadOnlyBit(ctx *Context[StateT], token uint32) error {
	fp, readOnly, err := ctx.rd.ReadSetReadOnlyBit()
	if err != nil {
		return fmt.Errorf("read set read-only args failed: %w", err)
	}

	res := s.Handler.HandleSetReadOnlyBit(ctx, fp, readOnly)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendGenericResult(proto.RPCSetReadOnlyBit, token, res)
	})
}

func (s *Server[StateT]) handleCopy(ctx *Context[StateT], token uint32) error {
	from, to, allowOverwrite, err := ctx.rd.ReadCopy()
	if err != nil {
		return fmt.Errorf("read copy args failed: %w", err)
	}

	res := s.Handler.HandleCopy(ctx, from, to, allowOverwrite)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendGenericResult(proto.RPCCopy, token, res)
	})
}

func (s *Server[StateT]) handleDeleteDirectory(ctx *Context[StateT], token uint32) error {
	fp, recursive, err := ctx.rd.ReadDeleteDirectory()
	if err != nil {
		return fmt.Errorf("read delete directory args failed: %w", err)
	}

	res := s.Handler.HandleDeleteDirectory(ctx, fp, recursive)

	return s.respond(ctx, func(wr *proto.Writer) error {
		return wr.SendGenericResult(proto.RPCDeleteDirectory, token, res)
	})
}
