// Package handler implements the filesystem side of the protocol: every RPC
// lands here after decoding, performs a local operation and reports a typed
// outcome. Filesystem errors never terminate a connection.
package handler

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/djherbis/times"
	"github.com/pierrec/lz4/v4"

	"github.com/seoulengine/moriarty/internal/cooker"
	"github.com/seoulengine/moriarty/internal/copier"
	"github.com/seoulengine/moriarty/internal/logutil"
	"github.com/seoulengine/moriarty/internal/statcache"
	"github.com/seoulengine/moriarty/pkg/proto"
	"github.com/seoulengine/moriarty/pkg/server"
)

type HandlerContext = server.Context[State]

type Handler struct {
	Resolver *Resolver
	Cooker   cooker.Cooker
	Hub      *server.Hub
	Copier   *copier.Copier

	// AllowWrite gates every mutating operation. Read-only servers answer
	// them with a generic failure but keep the connection alive.
	AllowWrite bool
}

func (h *Handler) HandleAttach(ctx *HandlerContext) {
	if h.Hub != nil {
		h.Hub.Attach(ctx)
	}

	// prime the client's stat cache for every hot-reloadable root
	for _, mon := range h.Resolver.Monitored() {
		payload, err := statcache.Build(mon.Directory, mon.Root)
		if err != nil {
			slog.WarnContext(ctx, "Stat cache build failed",
				logutil.StringerAttr("dir", mon.Directory), logutil.ErrorAttr(err))
			// an explicit empty refresh still goes out so the client
			// drops any stale records for this root
			payload = nil
		}

		if err := ctx.PushStatFileCacheRefresh(payload); err != nil {
			slog.WarnContext(ctx, "Stat cache push failed", logutil.ErrorAttr(err))
			return
		}
	}
}

func (h *Handler) HandleDetach(ctx *HandlerContext) {
	if h.Hub != nil {
		h.Hub.Detach(ctx)
	}
}

func (h *Handler) HandleLogMessage(ctx *HandlerContext, message string) {
	slog.InfoContext(ctx, "Client log", slog.String("message", message))
}

func (h *Handler) HandleStatFile(ctx *HandlerContext, fp proto.FilePath) (proto.FileStat, proto.Result) {
	log := slog.With(logutil.StringerAttr("path", fp))
	log.InfoContext(ctx, "Stat file")

	path, err := h.Resolver.Resolve(fp)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.FileStat{}, proto.ResultGenericFailure
	}

	info, err := os.Stat(path)
	if err != nil {
		log.DebugContext(ctx, "Stat failed", logutil.ErrorAttr(err))
		return proto.FileStat{}, resultFromError(err)
	}

	return statOf(info), proto.ResultSuccess
}

func (h *Handler) HandleOpenFile(ctx *HandlerContext, fp proto.FilePath, mode proto.FileMode) (int32, proto.FileStat, proto.Result) {
	log := slog.With(logutil.StringerAttr("path", fp), logutil.StringerAttr("mode", mode))
	log.InfoContext(ctx, "Open file")

	if mode.Writable() && !h.AllowWrite {
		log.WarnContext(ctx, "Writable open rejected")
		return 0, proto.FileStat{}, proto.ResultGenericFailure
	}

	path, err := h.Resolver.Resolve(fp)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return 0, proto.FileStat{}, proto.ResultGenericFailure
	}

	flags, ok := openFlags(mode)
	if !ok {
		log.WarnContext(ctx, "Unknown open mode")
		return 0, proto.FileStat{}, proto.ResultGenericFailure
	}

	if flags&os.O_CREATE != 0 {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.WarnContext(ctx, "Create parent directory failed", logutil.ErrorAttr(err))
			return 0, proto.FileStat{}, resultFromError(err)
		}
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		log.WarnContext(ctx, "Open failed", logutil.ErrorAttr(err))
		return 0, proto.FileStat{}, resultFromError(err)
	}

	info, err := file.Stat()
	if err != nil {
		log.WarnContext(ctx, "Stat failed", logutil.ErrorAttr(err))
		file.Close()
		return 0, proto.FileStat{}, proto.ResultGenericFailure
	}

	handle := ctx.State.add(file, !mode.Writable())

	return handle, statOf(info), proto.ResultSuccess
}

func (h *Handler) HandleCloseFile(ctx *HandlerContext, handle int32) proto.Result {
	log := slog.With(slog.Int("handle", int(handle)))
	log.InfoContext(ctx, "Close file")

	entry, ok := ctx.State.remove(handle)
	if !ok {
		log.WarnContext(ctx, "Unknown handle")
		return proto.ResultGenericFailure
	}

	if err := entry.file.Close(); err != nil {
		log.WarnContext(ctx, "Close failed", logutil.ErrorAttr(err))
		return proto.ResultGenericFailure
	}

	return proto.ResultSuccess
}

func (h *Handler) HandleReadFile(ctx *HandlerContext, handle int32, count, offset uint64) ([]byte, bool, proto.Result) {
	log := slog.With(slog.Int("handle", int(handle)),
		slog.Uint64("count", count), slog.Uint64("offset", offset))
	log.DebugContext(ctx, "Read file")

	if count > proto.MaxTransferSize || offset > uint64(1)<<62 {
		log.WarnContext(ctx, "Read request out of bounds")
		return nil, false, proto.ResultGenericFailure
	}

	entry, ok := ctx.State.get(handle)
	if !ok {
		log.WarnContext(ctx, "Unknown handle")
		return nil, false, proto.ResultGenericFailure
	}

	buf := make([]byte, count)
	n, err := entry.file.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		log.WarnContext(ctx, "Read failed", logutil.ErrorAttr(err))
		return nil, false, proto.ResultGenericFailure
	}

	data := buf[:n]
	if entry.allowCompression && n > 0 {
		if compressed, ok := compressIfSmaller(data); ok {
			return compressed, true, proto.ResultSuccess
		}
	}

	return data, false, proto.ResultSuccess
}

func (h *Handler) HandleWriteFile(ctx *HandlerContext, handle int32, offset uint64, data io.Reader, count uint64) (uint64, proto.Result) {
	log := slog.With(slog.Int("handle", int(handle)),
		slog.Uint64("count", count), slog.Uint64("offset", offset))
	log.DebugContext(ctx, "Write file")

	if !h.AllowWrite {
		log.WarnContext(ctx, "Write rejected")
		return 0, proto.ResultGenericFailure
	}

	entry, ok := ctx.State.get(handle)
	if !ok {
		log.WarnContext(ctx, "Unknown handle")
		return 0, proto.ResultGenericFailure
	}

	if _, err := entry.file.Seek(int64(offset), io.SeekStart); err != nil {
		log.WarnContext(ctx, "Seek failed", logutil.ErrorAttr(err))
		return 0, proto.ResultGenericFailure
	}

	written, err := h.Copier.CopyN(entry.file, data, int64(count))
	if err != nil {
		log.WarnContext(ctx, "Write failed", logutil.ErrorAttr(err))
		return 0, proto.ResultGenericFailure
	}

	return uint64(written), proto.ResultSuccess
}

func (h *Handler) HandleSetFileModifiedTime(ctx *HandlerContext, fp proto.FilePath, mtime uint64) proto.Result {
	log := slog.With(logutil.StringerAttr("path", fp), slog.Uint64("mtime", mtime))
	log.InfoContext(ctx, "Set file modified time")

	if !h.AllowWrite {
		log.WarnContext(ctx, "Write rejected")
		return proto.ResultGenericFailure
	}

	path, err := h.Resolver.Resolve(fp)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.ResultGenericFailure
	}

	// keep the access time intact, only the modification time is addressed
	atime := time.Now()
	if ts, err := times.Stat(path); err == nil {
		atime = ts.AccessTime()
	}

	if err := os.Chtimes(path, atime, time.Unix(int64(mtime), 0)); err != nil {
		log.WarnContext(ctx, "Chtimes failed", logutil.ErrorAttr(err))
		return resultFromError(err)
	}

	return proto.ResultSuccess
}

func (h *Handler) HandleGetDirectoryListing(ctx *HandlerContext, fp proto.FilePath, includeDirs, recursive bool, extension string) ([]string, proto.Result) {
	log := slog.With(logutil.StringerAttr("path", fp),
		slog.Bool("includeDirs", includeDirs), slog.Bool("recursive", recursive),
		slog.String("extension", extension))
	log.InfoContext(ctx, "Directory listing")

	root, err := h.Resolver.Resolve(fp)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return nil, proto.ResultGenericFailure
	}

	info, err := os.Stat(root)
	if err != nil {
		log.DebugContext(ctx, "Stat failed", logutil.ErrorAttr(err))
		return nil, resultFromError(err)
	}
	if !info.IsDir() {
		log.WarnContext(ctx, "Listing target is not a directory")
		return nil, proto.ResultGenericFailure
	}

	entries, err := listDirectory(root, includeDirs, recursive, extension)
	if err != nil {
		log.WarnContext(ctx, "Listing failed", logutil.ErrorAttr(err))
		return nil, proto.ResultGenericFailure
	}

	return entries, proto.ResultSuccess
}

func (h *Handler) HandleCookFile(ctx *HandlerContext, fp proto.FilePath, checkTimestamp bool) (proto.FileStat, proto.CookResult, proto.Result) {
	log := slog.With(logutil.StringerAttr("path", fp), slog.Bool("checkTimestamp", checkTimestamp))
	log.InfoContext(ctx, "Cook file")

	path, err := h.Resolver.Resolve(fp)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.FileStat{}, proto.CookFailed, proto.ResultGenericFailure
	}

	cook := h.Cooker.Cook(ctx, path, checkTimestamp)
	log.InfoContext(ctx, "Cook finished", logutil.StringerAttr("result", cook))

	res := proto.ResultGenericFailure
	if cook == proto.CookSuccess || cook == proto.CookUpToDate {
		res = proto.ResultSuccess
	}

	// a fresh stat rides along so the client can refresh its cache entry
	var st proto.FileStat
	if info, err := os.Stat(path); err == nil {
		st = statOf(info)
	}

	return st, cook, res
}

func (h *Handler) HandleCreateDirPath(ctx *HandlerContext, fp proto.FilePath) proto.Result {
	log := slog.With(logutil.StringerAttr("path", fp))
	log.InfoContext(ctx, "Create directory path")

	if !h.AllowWrite {
		log.WarnContext(ctx, "Write rejected")
		return proto.ResultGenericFailure
	}

	path, err := h.Resolver.Resolve(fp)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.ResultGenericFailure
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		log.WarnContext(ctx, "MkdirAll failed", logutil.ErrorAttr(err))
		return resultFromError(err)
	}

	return proto.ResultSuccess
}

func (h *Handler) HandleDelete(ctx *HandlerContext, fp proto.FilePath) proto.Result {
	log := slog.With(logutil.StringerAttr("path", fp))
	log.InfoContext(ctx, "Delete")

	if !h.AllowWrite {
		log.WarnContext(ctx, "Write rejected")
		return proto.ResultGenericFailure
	}

	path, err := h.Resolver.Resolve(fp)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.ResultGenericFailure
	}

	if err := os.Remove(path); err != nil {
		log.DebugContext(ctx, "Remove failed", logutil.ErrorAttr(err))
		return resultFromError(err)
	}

	return proto.ResultSuccess
}

func (h *Handler) HandleRename(ctx *HandlerContext, from, to proto.FilePath) proto.Result {
	log := slog.With(logutil.StringerAttr("from", from), logutil.StringerAttr("to", to))
	log.InfoContext(ctx, "Rename")

	if !h.AllowWrite {
		log.WarnContext(ctx, "Write rejected")
		return proto.ResultGenericFailure
	}

	fromPath, err := h.Resolver.Resolve(from)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.ResultGenericFailure
	}

	toPath, err := h.Resolver.Resolve(to)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.ResultGenericFailure
	}

	if err := os.Rename(fromPath, toPath); err != nil {
		log.WarnContext(ctx, "Rename failed", logutil.ErrorAttr(err))
		return resultFromError(err)
	}

	return proto.ResultSuccess
}

func (h *Handler) HandleSetReadOnlyBit(ctx *HandlerContext, fp proto.FilePath, readOnly bool) proto.Result {
	log := slog.With(logutil.StringerAttr("path", fp), slog.Bool("readOnly", readOnly))
	log.InfoContext(ctx, "Set read-only bit")

	if !h.AllowWrite {
		log.WarnContext(ctx, "Write rejected")
		return proto.ResultGenericFailure
	}

	path, err := h.Resolver.Resolve(fp)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.ResultGenericFailure
	}

	info, err := os.Stat(path)
	if err != nil {
		log.DebugContext(ctx, "Stat failed", logutil.ErrorAttr(err))
		return resultFromError(err)
	}

	mode := info.Mode().Perm()
	if readOnly {
		mode &^= 0o222
	} else {
		mode |= 0o200
	}

	if err := os.Chmod(path, mode); err != nil {
		log.WarnContext(ctx, "Chmod failed", logutil.ErrorAttr(err))
		return resultFromError(err)
	}

	return proto.ResultSuccess
}

func (h *Handler) HandleCopy(ctx *HandlerContext, from, to proto.FilePath, allowOverwrite bool) proto.Result {
	log := slog.With(logutil.StringerAttr("from", from), logutil.StringerAttr("to", to),
		slog.Bool("allowOverwrite", allowOverwrite))
	log.InfoContext(ctx, "Copy")

	if !h.AllowWrite {
		log.WarnContext(ctx, "Write rejected")
		return proto.ResultGenericFailure
	}

	fromPath, err := h.Resolver.Resolve(from)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.ResultGenericFailure
	}

	toPath, err := h.Resolver.Resolve(to)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.ResultGenericFailure
	}

	if err := h.copyFile(fromPath, toPath, allowOverwrite); err != nil {
		log.WarnContext(ctx, "Copy failed", logutil.ErrorAttr(err))
		return resultFromError(err)
	}

	return proto.ResultSuccess
}

func (h *Handler) copyFile(fromPath, toPath string, allowOverwrite bool) error {
	src, err := os.Open(fromPath)
	if err != nil {
		return err
	}
	defer src.Close()

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !allowOverwrite {
		flags |= os.O_EXCL
	}

	dst, err := os.OpenFile(toPath, flags, 0o644)
	if err != nil {
		return err
	}

	if _, err := h.Copier.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}

	return dst.Close()
}

func (h *Handler) HandleDeleteDirectory(ctx *HandlerContext, fp proto.FilePath, recursive bool) proto.Result {
	log := slog.With(logutil.StringerAttr("path", fp), slog.Bool("recursive", recursive))
	log.InfoContext(ctx, "Delete directory")

	if !h.AllowWrite {
		log.WarnContext(ctx, "Write rejected")
		return proto.ResultGenericFailure
	}

	path, err := h.Resolver.Resolve(fp)
	if err != nil {
		log.WarnContext(ctx, "Resolve failed", logutil.ErrorAttr(err))
		return proto.ResultGenericFailure
	}

	// RemoveAll succeeds on a missing target, the protocol does not
	if _, err := os.Stat(path); err != nil {
		log.DebugContext(ctx, "Stat failed", logutil.ErrorAttr(err))
		return resultFromError(err)
	}

	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		log.WarnContext(ctx, "Remove failed", logutil.ErrorAttr(err))
		return resultFromError(err)
	}

	return proto.ResultSuccess
}

func statOf(info fs.FileInfo) proto.FileStat {
	return proto.FileStat{
		Size:         uint64(info.Size()),
		ModifiedTime: uint64(info.ModTime().Unix()),
		IsDirectory:  info.IsDir(),
	}
}

func resultFromError(err error) proto.Result {
	switch {
	case err == nil:
		return proto.ResultSuccess
	case errors.Is(err, fs.ErrNotExist):
		return proto.ResultFileNotFound
	default:
		return proto.ResultGenericFailure
	}
}

// openFlags maps a protocol mode to open(2) flags. WriteAppend and ReadWrite
// open identically: every write request carries an explicit offset, so
// O_APPEND would fight the offset and append position is the client's to
// track.
func openFlags(mode proto.FileMode) (int, bool) {
	switch mode {
	case proto.FileRead:
		return os.O_RDONLY, true
	case proto.FileWriteTruncate:
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC, true
	case proto.FileWriteAppend, proto.FileReadWrite:
		return os.O_RDWR | os.O_CREATE, true
	default:
		return 0, false
	}
}

// compressIfSmaller frames data through LZ4 and keeps the result only when it
// is strictly smaller than the input.
func compressIfSmaller(data []byte) ([]byte, bool) {
	var out bytes.Buffer

	zw := lz4.NewWriter(&out)
	if _, err := zw.Write(data); err != nil {
		return nil, false
	}
	if err := zw.Close(); err != nil {
		return nil, false
	}

	if out.Len() >= len(data) {
		return nil, false
	}

	return out.Bytes(), true
}
