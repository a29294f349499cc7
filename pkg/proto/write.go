package proto

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Writer encodes protocol messages onto a stream. The server sends responses
// and push commands; clients send the handshake and requests. Writer does no
// locking: callers that interleave responses with pushes on one connection
// must serialize access themselves.
type Writer struct {
	io.Writer
}

// Server-side senders.

func (w *Writer) SendHandshakeResponse() error {
	if err := w.writeUint32(ProtocolVersion); err != nil {
		return err
	}

	return w.writeUint32(ConnectResponseMagic)
}

// SendGenericResult sends a response whose payload is just the result byte
// (CloseFile, SetFileModifiedTime, CreateDirPath, Delete, Rename,
// SetReadOnlyBit, Copy, DeleteDirectory).
func (w *Writer) SendGenericResult(rpc RPC, token uint32, res Result) error {
	if err := w.writeResponseHeader(rpc, token); err != nil {
		return err
	}

	return w.writeResult(res)
}

func (w *Writer) SendStatFileResult(token uint32, res Result, st FileStat) error {
	if err := w.writeResponseHeader(RPCStatFile, token); err != nil {
		return err
	}
	if err := w.writeResult(res); err != nil {
		return err
	}

	return w.writeStat(st)
}

func (w *Writer) SendOpenFileResult(token uint32, res Result, handle int32, st FileStat) error {
	if err := w.writeResponseHeader(RPCOpenFile, token); err != nil {
		return err
	}
	if err := w.writeResult(res); err != nil {
		return err
	}
	if err := w.writeUint32(uint32(handle)); err != nil {
		return err
	}

	return w.writeStat(st)
}

// SendReadFileResult sends the read payload. compressed marks data as an LZ4
// frame that decodes to the actual file bytes.
func (w *Writer) SendReadFileResult(token uint32, res Result, compressed bool, data []byte) error {
	if err := w.writeResponseHeader(RPCReadFile, token); err != nil {
		return err
	}
	if err := w.writeBool(compressed); err != nil {
		return err
	}
	if err := w.writeResult(res); err != nil {
		return err
	}
	if err := w.writeUint64(uint64(len(data))); err != nil {
		return err
	}

	return w.writeAll(data)
}

func (w *Writer) SendWriteFileResult(token uint32, res Result, written uint64) error {
	if err := w.writeResponseHeader(RPCWriteFile, token); err != nil {
		return err
	}
	if err := w.writeResult(res); err != nil {
		return err
	}

	return w.writeUint64(written)
}

func (w *Writer) SendDirectoryListingResult(token uint32, res Result, entries []string) error {
	if err := w.writeResponseHeader(RPCGetDirectoryListing, token); err != nil {
		return err
	}
	if err := w.writeResult(res); err != nil {
		return err
	}

	return w.writeStringArray(entries)
}

func (w *Writer) SendCookFileResult(token uint32, fp FilePath, st FileStat, res Result, cook CookResult) error {
	if err := w.writeResponseHeader(RPCCookFile, token); err != nil {
		return err
	}
	if err := w.WriteFilePath(fp); err != nil {
		return err
	}
	if err := w.writeUint64(st.Size); err != nil {
		return err
	}
	if err := w.writeUint64(st.ModifiedTime); err != nil {
		return err
	}
	if err := w.writeResult(res); err != nil {
		return err
	}

	return w.writeUint32(uint32(int32(cook)))
}

// Push command senders (server to client, no token).

func (w *Writer) SendContentChangeEvent(ev ContentChangeEvent) error {
	if err := w.writeRPC(RPCContentChangeEvent); err != nil {
		return err
	}
	if err := w.WriteFilePath(ev.Old); err != nil {
		return err
	}
	if err := w.WriteFilePath(ev.New); err != nil {
		return err
	}
	if err := w.writeUint64(ev.Size); err != nil {
		return err
	}
	if err := w.writeUint64(ev.ModifiedTime); err != nil {
		return err
	}

	return w.writeUint8(uint8(ev.Event))
}

// SendStatFileCacheRefresh sends the compressed record block. A nil or empty
// payload is sent as an explicit zero length, never as truncated content.
func (w *Writer) SendStatFileCacheRefresh(payload []byte) error {
	if err := w.writeRPC(RPCStatFileCacheRefreshEvent); err != nil {
		return err
	}
	if err := w.writeUint32(uint32(len(payload))); err != nil {
		return err
	}

	return w.writeAll(payload)
}

func (w *Writer) SendKeyboardKeyEvent(ev KeyEvent) error {
	if err := w.writeRPC(RPCKeyboardKeyEvent); err != nil {
		return err
	}
	if err := w.writeUint32(ev.VirtualKey); err != nil {
		return err
	}

	return w.writeUint8(uint8(ev.Type))
}

func (w *Writer) SendKeyboardCharEvent(c rune) error {
	if err := w.writeRPC(RPCKeyboardCharEvent); err != nil {
		return err
	}

	return w.writeUint32(uint32(c))
}

// WriteStatCacheRecord appends one (FilePath, size, mtime) record to an
// uncompressed stat-cache payload being built.
func (w *Writer) WriteStatCacheRecord(fp FilePath, size, mtime uint64) error {
	if err := w.WriteFilePath(fp); err != nil {
		return err
	}
	if err := w.writeUint64(size); err != nil {
		return err
	}

	return w.writeUint64(mtime)
}

// Client-side senders.

func (w *Writer) SendHandshake(platform Platform) error {
	if err := w.writeUint32(ProtocolVersion); err != nil {
		return err
	}
	if err := w.writeUint32(ConnectMagic); err != nil {
		return err
	}

	return w.writeUint32(uint32(platform))
}

func (w *Writer) SendLogMessage(message string) error {
	if err := w.writeRPC(RPCLogMessage); err != nil {
		return err
	}

	return w.writeString(message)
}

func (w *Writer) SendStatFile(token uint32, fp FilePath) error {
	return w.sendFilePathRequest(RPCStatFile, token, fp)
}

func (w *Writer) SendOpenFile(token uint32, fp FilePath, mode FileMode) error {
	if err := w.writeRequestHeader(RPCOpenFile, token); err != nil {
		return err
	}
	if err := w.WriteFilePath(fp); err != nil {
		return err
	}

	return w.writeUint8(uint8(mode))
}

func (w *Writer) SendCloseFile(token uint32, handle int32) error {
	if err := w.writeRequestHeader(RPCCloseFile, token); err != nil {
		return err
	}

	return w.writeUint32(uint32(handle))
}

func (w *Writer) SendReadFile(token uint32, handle int32, count, offset uint64) error {
	if err := w.writeRequestHeader(RPCReadFile, token); err != nil {
		return err
	}
	if err := w.writeUint32(uint32(handle)); err != nil {
		return err
	}
	if err := w.writeUint64(count); err != nil {
		return err
	}

	return w.writeUint64(offset)
}

func (w *Writer) SendWriteFile(token uint32, handle int32, offset uint64, data []byte) error {
	if err := w.writeRequestHeader(RPCWriteFile, token); err != nil {
		return err
	}
	if err := w.writeUint32(uint32(handle)); err != nil {
		return err
	}
	if err := w.writeUint64(uint64(len(data))); err != nil {
		return err
	}
	if err := w.writeUint64(offset); err != nil {
		return err
	}

	return w.writeAll(data)
}

func (w *Writer) SendSetFileModifiedTime(token uint32, fp FilePath, mtime uint64) error {
	if err := w.writeRequestHeader(RPCSetFileModifiedTime, token); err != nil {
		return err
	}
	if err := w.WriteFilePath(fp); err != nil {
		return err
	}

	return w.writeUint64(mtime)
}

func (w *Writer) SendGetDirectoryListing(token uint32, fp FilePath, includeDirs, recursive bool, extension string) error {
	if err := w.writeRequestHeader(RPCGetDirectoryListing, token); err != nil {
		return err
	}
	if err := w.WriteFilePath(fp); err != nil {
		return err
	}

	var flags uint8
	if includeDirs {
		flags |= ListingIncludeSubdirectories
	}
	if recursive {
		flags |= ListingRecursive
	}
	if err := w.writeUint8(flags); err != nil {
		return err
	}

	return w.writeString(extension)
}

func (w *Writer) SendCookFile(token uint32, fp FilePath, checkTimestamp bool) error {
	if err := w.writeRequestHeader(RPCCookFile, token); err != nil {
		return err
	}
	if err := w.WriteFilePath(fp); err != nil {
		return err
	}

	var flags uint8
	if checkTimestamp {
		flags |= CookFlagCheckTimestamp
	}

	return w.writeUint8(flags)
}

func (w *Writer) SendCreateDirPath(token uint32, fp FilePath) error {
	return w.sendFilePathRequest(RPCCreateDirPath, token, fp)
}

func (w *Writer) SendDelete(token uint32, fp FilePath) error {
	return w.sendFilePathRequest(RPCDelete, token, fp)
}

func (w *Writer) SendRename(token uint32, from, to FilePath) error {
	if err := w.writeRequestHeader(RPCRename, token); err != nil {
		return err
	}
	if err := w.WriteFilePath(from); err != nil {
		return err
	}

	return w.WriteFilePath(to)
}

func (w *Writer) SendCopy(token uint32, from, to FilePath, allowOverwrite bool) error {
	if err := w.writeRequestHeader(RPCCopy, token); err != nil {
		return err
	}
	if err := w.WriteFilePath(from); err != nil {
		return err
	}
	if err := w.WriteFilePath(to); err != nil {
		return err
	}

	return w.writeBool(allowOverwrite)
}

func (w *Writer) SendSetReadOnlyBit(token uint32, fp FilePath, readOnly bool) error {
	if err := w.writeRequestHeader(RPCSetReadOnlyBit, token); err != nil {
		return err
	}
	if err := w.WriteFilePath(fp); err != nil {
		return err
	}

	return w.writeBool(readOnly)
}

func (w *Writer) SendDeleteDirectory(token uint32, fp FilePath, recursive bool) error {
	if err := w.writeRequestHeader(RPCDeleteDirectory, token); err != nil {
		return err
	}
	if err := w.WriteFilePath(fp); err != nil {
		return err
	}

	return w.writeBool(recursive)
}

// WriteFilePath writes the directory byte, type byte and relative path of a
// FilePath. Separators are normalized to forward slashes on the wire.
func (w *Writer) WriteFilePath(fp FilePath) error {
	if err := w.writeUint8(uint8(fp.Directory)); err != nil {
		return err
	}
	if err := w.writeUint8(uint8(fp.Type)); err != nil {
		return err
	}

	return w.writeString(strings.ReplaceAll(fp.RelativePath, "\\", "/"))
}

func (w *Writer) sendFilePathRequest(rpc RPC, token uint32, fp FilePath) error {
	if err := w.writeRequestHeader(rpc, token); err != nil {
		return err
	}

	return w.WriteFilePath(fp)
}

func (w *Writer) writeRequestHeader(rpc RPC, token uint32) error {
	if err := w.writeRPC(rpc.Request()); err != nil {
		return err
	}

	return w.writeUint32(token)
}

func (w *Writer) writeResponseHeader(rpc RPC, token uint32) error {
	if err := w.writeRPC(rpc.Response()); err != nil {
		return err
	}

	return w.writeUint32(token)
}

func (w *Writer) writeRPC(rpc RPC) error {
	return w.writeUint8(uint8(rpc))
}

func (w *Writer) writeResult(res Result) error {
	return w.writeUint8(uint8(res))
}

func (w *Writer) writeBool(b bool) error {
	if b {
		return w.writeUint8(1)
	}

	return w.writeUint8(0)
}

func (w *Writer) writeStat(st FileStat) error {
	var flags uint8
	if st.IsDirectory {
		flags |= StatFlagDirectory
	}

	if err := w.writeUint8(flags); err != nil {
		return err
	}
	if err := w.writeUint64(st.Size); err != nil {
		return err
	}

	return w.writeUint64(st.ModifiedTime)
}

func (w *Writer) writeString(s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("string of %d bytes exceeds length limit", len(s))
	}

	if err := w.writeUint32(uint32(len(s))); err != nil {
		return err
	}

	return w.writeAll([]byte(s))
}

func (w *Writer) writeStringArray(entries []string) error {
	if err := w.writeUint32(uint32(len(entries))); err != nil {
		return err
	}

	for _, s := range entries {
		if err := w.writeString(s); err != nil {
			return err
		}
	}

	return nil
}

func (w *Writer) writeUint8(v uint8) error {
	return w.writeAll([]byte{v})
}

func (w *Writer) writeUint32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return w.writeAll(b[:])
}

func (w *Writer) writeUint64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return w.writeAll(b[:])
}

func (w *Writer) writeAll(b []byte) error {
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	return nil
}
