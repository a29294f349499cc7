package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Reader decodes protocol messages from a stream. It is used by the server
// for requests and by clients (and tests) for responses and push commands.
type Reader struct {
	io.Reader
}

// ReadRPC reads the kind byte that starts every message.
func (r *Reader) ReadRPC() (RPC, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return RPC(b[0]), nil
}

// ReadToken reads the 4-byte correlation token that follows the kind byte of
// every request and response.
func (r *Reader) ReadToken() (uint32, error) {
	return r.readUint32()
}

// ReadHandshake reads the client hello.
func (r *Reader) ReadHandshake() (Handshake, error) {
	var hs Handshake
	if err := binary.Read(r, binary.BigEndian, &hs); err != nil {
		return hs, fmt.Errorf("binary.Read failed: %w", err)
	}

	return hs, nil
}

// ReadHandshakeResponse reads the server's handshake reply.
func (r *Reader) ReadHandshakeResponse() (version, magic uint32, err error) {
	if version, err = r.readUint32(); err != nil {
		return 0, 0, err
	}
	if magic, err = r.readUint32(); err != nil {
		return 0, 0, err
	}

	return version, magic, nil
}

// Request argument readers. Each reads everything following the token.

func (r *Reader) ReadLogMessage() (string, error) {
	return r.readString()
}

func (r *Reader) ReadStatFile() (FilePath, error) {
	return r.ReadFilePath()
}

func (r *Reader) ReadOpenFile() (FilePath, FileMode, error) {
	fp, err := r.ReadFilePath()
	if err != nil {
		return fp, 0, err
	}

	mode, err := r.readUint8()
	if err != nil {
		return fp, 0, err
	}

	return fp, FileMode(mode), nil
}

func (r *Reader) ReadCloseFile() (int32, error) {
	return r.readHandle()
}

func (r *Reader) ReadReadFile() (handle int32, count, offset uint64, err error) {
	if handle, err = r.readHandle(); err != nil {
		return 0, 0, 0, err
	}
	if count, err = r.readUint64(); err != nil {
		return 0, 0, 0, err
	}
	if offset, err = r.readUint64(); err != nil {
		return 0, 0, 0, err
	}

	return handle, count, offset, nil
}

// ReadWriteFile reads the write parameters. The count bytes of file data
// follow on the stream and must be consumed by the caller.
func (r *Reader) ReadWriteFile() (handle int32, count, offset uint64, err error) {
	if handle, err = r.readHandle(); err != nil {
		return 0, 0, 0, err
	}
	if count, err = r.readUint64(); err != nil {
		return 0, 0, 0, err
	}
	if offset, err = r.readUint64(); err != nil {
		return 0, 0, 0, err
	}

	return handle, count, offset, nil
}

func (r *Reader) ReadSetFileModifiedTime() (FilePath, uint64, error) {
	fp, err := r.ReadFilePath()
	if err != nil {
		return fp, 0, err
	}

	mtime, err := r.readUint64()
	if err != nil {
		return fp, 0, err
	}

	return fp, mtime, nil
}

func (r *Reader) ReadGetDirectoryListing() (fp FilePath, includeDirs, recursive bool, extension string, err error) {
	if fp, err = r.ReadFilePath(); err != nil {
		return fp, false, false, "", err
	}

	flags, err := r.readUint8()
	if err != nil {
		return fp, false, false, "", err
	}

	if extension, err = r.readString(); err != nil {
		return fp, false, false, "", err
	}

	return fp, flags&ListingIncludeSubdirectories != 0, flags&ListingRecursive != 0, extension, nil
}

func (r *Reader) ReadCookFile() (FilePath, bool, error) {
	fp, err := r.ReadFilePath()
	if err != nil {
		return fp, false, err
	}

	flags, err := r.readUint8()
	if err != nil {
		return fp, false, err
	}

	return fp, flags&CookFlagCheckTimestamp != 0, nil
}

func (r *Reader) ReadCreateDirPath() (FilePath, error) {
	return r.ReadFilePath()
}

func (r *Reader) ReadDelete() (FilePath, error) {
	return r.ReadFilePath()
}

func (r *Reader) ReadRename() (from, to FilePath, err error) {
	if from, err = r.ReadFilePath(); err != nil {
		return from, to, err
	}
	if to, err = r.ReadFilePath(); err != nil {
		return from, to, err
	}

	return from, to, nil
}

func (r *Reader) ReadCopy() (from, to FilePath, allowOverwrite bool, err error) {
	if from, err = r.ReadFilePath(); err != nil {
		return from, to, false, err
	}
	if to, err = r.ReadFilePath(); err != nil {
		return from, to, false, err
	}

	b, err := r.readUint8()
	if err != nil {
		return from, to, false, err
	}

	return from, to, b != 0, nil
}

func (r *Reader) ReadSetReadOnlyBit() (FilePath, bool, error) {
	fp, err := r.ReadFilePath()
	if err != nil {
		return fp, false, err
	}

	b, err := r.readUint8()
	if err != nil {
		return fp, false, err
	}

	return fp, b != 0, nil
}

func (r *Reader) ReadDeleteDirectory() (FilePath, bool, error) {
	fp, err := r.ReadFilePath()
	if err != nil {
		return fp, false, err
	}

	b, err := r.readUint8()
	if err != nil {
		return fp, false, err
	}

	return fp, b != 0, nil
}

// Response payload readers, used by the client half of the protocol. Each
// reads everything following the echoed token.

func (r *Reader) ReadGenericResult() (Result, error) {
	return r.readResult()
}

func (r *Reader) ReadStatFileResult() (Result, FileStat, error) {
	res, err := r.readResult()
	if err != nil {
		return res, FileStat{}, err
	}

	st, err := r.readStat()
	return res, st, err
}

func (r *Reader) ReadOpenFileResult() (Result, int32, FileStat, error) {
	res, err := r.readResult()
	if err != nil {
		return res, 0, FileStat{}, err
	}

	handle, err := r.readHandle()
	if err != nil {
		return res, 0, FileStat{}, err
	}

	st, err := r.readStat()
	return res, handle, st, err
}

// ReadReadFileResult returns the raw payload; when compressed is true the
// bytes are an LZ4 frame the caller must decompress.
func (r *Reader) ReadReadFileResult() (res Result, compressed bool, data []byte, err error) {
	b, err := r.readUint8()
	if err != nil {
		return 0, false, nil, err
	}
	compressed = b != 0

	if res, err = r.readResult(); err != nil {
		return res, false, nil, err
	}

	length, err := r.readUint64()
	if err != nil {
		return res, false, nil, err
	}
	if length > MaxTransferSize {
		return res, false, nil, fmt.Errorf("read payload of %d bytes exceeds transfer limit", length)
	}

	data = make([]byte, length)
	if _, err = io.ReadFull(r, data); err != nil {
		return res, false, nil, fmt.Errorf("io.ReadFull failed: %w", err)
	}

	return res, compressed, data, nil
}

func (r *Reader) ReadWriteFileResult() (Result, uint64, error) {
	res, err := r.readResult()
	if err != nil {
		return res, 0, err
	}

	written, err := r.readUint64()
	return res, written, err
}

func (r *Reader) ReadDirectoryListingResult() (Result, []string, error) {
	res, err := r.readResult()
	if err != nil {
		return res, nil, err
	}

	entries, err := r.readStringArray()
	return res, entries, err
}

func (r *Reader) ReadCookFileResult() (fp FilePath, st FileStat, res Result, cook CookResult, err error) {
	if fp, err = r.ReadFilePath(); err != nil {
		return fp, st, res, cook, err
	}
	if st.Size, err = r.readUint64(); err != nil {
		return fp, st, res, cook, err
	}
	if st.ModifiedTime, err = r.readUint64(); err != nil {
		return fp, st, res, cook, err
	}
	if res, err = r.readResult(); err != nil {
		return fp, st, res, cook, err
	}

	raw, err := r.readUint32()
	return fp, st, res, CookResult(int32(raw)), err
}

// Push command readers.

func (r *Reader) ReadContentChangeEvent() (ContentChangeEvent, error) {
	var ev ContentChangeEvent
	var err error

	if ev.Old, err = r.ReadFilePath(); err != nil {
		return ev, err
	}
	if ev.New, err = r.ReadFilePath(); err != nil {
		return ev, err
	}
	if ev.Size, err = r.readUint64(); err != nil {
		return ev, err
	}
	if ev.ModifiedTime, err = r.readUint64(); err != nil {
		return ev, err
	}

	b, err := r.readUint8()
	if err != nil {
		return ev, err
	}
	ev.Event = FileEvent(b)

	return ev, nil
}

// ReadStatFileCacheRefresh returns the compressed record block. A nil slice
// means "no data"; the receiver must not attempt decompression in that case.
func (r *Reader) ReadStatFileCacheRefresh() ([]byte, error) {
	length, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	if length > MaxTransferSize {
		return nil, fmt.Errorf("cache payload of %d bytes exceeds transfer limit", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("io.ReadFull failed: %w", err)
	}

	return data, nil
}

// ReadStatCacheRecord reads one (FilePath, size, mtime) record of a
// decompressed stat-cache payload.
func (r *Reader) ReadStatCacheRecord() (fp FilePath, size, mtime uint64, err error) {
	if fp, err = r.ReadFilePath(); err != nil {
		return fp, 0, 0, err
	}
	if size, err = r.readUint64(); err != nil {
		return fp, 0, 0, err
	}
	if mtime, err = r.readUint64(); err != nil {
		return fp, 0, 0, err
	}

	return fp, size, mtime, nil
}

func (r *Reader) ReadKeyboardKeyEvent() (KeyEvent, error) {
	key, err := r.readUint32()
	if err != nil {
		return KeyEvent{}, err
	}

	t, err := r.readUint8()
	if err != nil {
		return KeyEvent{}, err
	}

	return KeyEvent{VirtualKey: key, Type: KeyEventType(t)}, nil
}

func (r *Reader) ReadKeyboardCharEvent() (rune, error) {
	c, err := r.readUint32()
	return rune(c), err
}

// ReadFilePath reads the directory byte, type byte and relative path of a
// FilePath value, normalizing separators to forward slashes.
func (r *Reader) ReadFilePath() (FilePath, error) {
	dir, err := r.readUint8()
	if err != nil {
		return FilePath{}, err
	}

	typ, err := r.readUint8()
	if err != nil {
		return FilePath{}, err
	}

	rel, err := r.readString()
	if err != nil {
		return FilePath{}, err
	}

	return FilePath{
		Directory:    GameDirectory(dir),
		Type:         FileType(typ),
		RelativePath: normalizeSlashes(rel),
	}, nil
}

func (r *Reader) readUint8() (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("io.ReadFull failed: %w", err)
	}

	return b[0], nil
}

func (r *Reader) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("io.ReadFull failed: %w", err)
	}

	return binary.BigEndian.Uint32(b[:]), nil
}

func (r *Reader) readUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("io.ReadFull failed: %w", err)
	}

	return binary.BigEndian.Uint64(b[:]), nil
}

func (r *Reader) readHandle() (int32, error) {
	u, err := r.readUint32()
	return int32(u), err
}

func (r *Reader) readResult() (Result, error) {
	b, err := r.readUint8()
	if err != nil {
		return 0, err
	}

	res := Result(b)
	if !res.Valid() {
		return res, fmt.Errorf("invalid result code %d", b)
	}

	return res, nil
}

func (r *Reader) readString() (string, error) {
	length, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if length > MaxStringLen {
		return "", fmt.Errorf("string of %d bytes exceeds length limit", length)
	}
	if length == 0 {
		return "", nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("io.ReadFull failed: %w", err)
	}

	return string(buf), nil
}

func (r *Reader) readStringArray() ([]string, error) {
	count, err := r.readUint32()
	if err != nil {
		return nil, err
	}

	ret := make([]string, 0, min(count, 4096))
	for i := uint32(0); i < count; i++ {
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}

	return ret, nil
}

func (r *Reader) readStat() (FileStat, error) {
	flags, err := r.readUint8()
	if err != nil {
		return FileStat{}, err
	}

	var st FileStat
	st.IsDirectory = flags&StatFlagDirectory != 0

	if st.Size, err = r.readUint64(); err != nil {
		return st, err
	}
	if st.ModifiedTime, err = r.readUint64(); err != nil {
		return st, err
	}

	return st, nil
}
