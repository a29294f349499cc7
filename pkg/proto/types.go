// Package proto describes the Moriarty remote-file protocol used by a running
// game client to read, write, stat and watch files on a development machine.
// The protocol is request/response over TCP with an additional one-way push
// channel. Every message starts with a single RPC kind byte; responses set
// ResponseFlag on the kind and echo the caller's 4-byte correlation token.
// All multi-byte integers are big-endian.
package proto

// RPC is the operation code read first from every message.
type RPC uint8

const (
	// RPCLogMessage forwards a client log line to the server log. One-way,
	// client to server.
	RPCLogMessage RPC = iota

	// RPCStatFile requests size/mtime/directory info for a FilePath.
	RPCStatFile

	// RPCOpenFile opens (or creates, depending on mode) a remote file and
	// allocates a handle. The response also carries the file's stat so the
	// client can prime its cache without a second round trip.
	RPCOpenFile

	// RPCCloseFile releases a handle allocated by RPCOpenFile.
	RPCCloseFile

	// RPCReadFile reads up to count bytes at an offset from a handle. The
	// payload may be LZ4-compressed when that is strictly smaller.
	RPCReadFile

	// RPCWriteFile writes count bytes at an offset to a handle.
	RPCWriteFile

	// RPCSetFileModifiedTime sets a file's mtime in unix seconds.
	RPCSetFileModifiedTime

	// RPCGetDirectoryListing enumerates a directory, optionally recursively,
	// returning paths relative to the listed root.
	RPCGetDirectoryListing

	// RPCCookFile asks the server to run the cook/build step for an asset.
	RPCCookFile

	// RPCKeyboardKeyEvent pushes a keyboard key event to the client. One-way,
	// server to client.
	RPCKeyboardKeyEvent

	// RPCContentChangeEvent pushes a filesystem change notification to the
	// client. One-way, server to client.
	RPCContentChangeEvent

	// RPCKeyboardCharEvent pushes a typed character to the client. One-way,
	// server to client.
	RPCKeyboardCharEvent

	// RPCStatFileCacheRefreshEvent pushes a compressed bulk stat listing of a
	// monitored directory. One-way, server to client.
	RPCStatFileCacheRefreshEvent

	// RPCCreateDirPath creates a directory and any missing parents.
	RPCCreateDirPath

	// RPCDelete deletes a file.
	RPCDelete

	// RPCRename renames a file or directory.
	RPCRename

	// RPCSetReadOnlyBit sets or clears a file's read-only attribute.
	RPCSetReadOnlyBit

	// RPCCopy copies a file, optionally overwriting the target.
	RPCCopy

	// RPCDeleteDirectory deletes a directory, optionally recursively.
	RPCDeleteDirectory

	rpcCount
)

// ResponseFlag marks a kind byte as the response to the request of the same
// base value. Request and response kinds always differ only in this bit.
const ResponseFlag RPC = 0x80

// Response returns the response kind for a request kind.
func (r RPC) Response() RPC { return r | ResponseFlag }

// Request returns the request kind for a response kind.
func (r RPC) Request() RPC { return r &^ ResponseFlag }

// IsResponse reports whether the kind byte carries ResponseFlag.
func (r RPC) IsResponse() bool { return r&ResponseFlag != 0 }

// Valid reports whether the base kind is a known RPC.
func (r RPC) Valid() bool { return r.Request() < rpcCount }

// OneWay reports whether the kind never carries a correlation token.
func (r RPC) OneWay() bool {
	switch r.Request() {
	case RPCLogMessage, RPCKeyboardKeyEvent, RPCContentChangeEvent,
		RPCKeyboardCharEvent, RPCStatFileCacheRefreshEvent:
		return true
	default:
		return false
	}
}

var rpcNames = [...]string{
	RPCLogMessage:                "LogMessage",
	RPCStatFile:                  "StatFile",
	RPCOpenFile:                  "OpenFile",
	RPCCloseFile:                 "CloseFile",
	RPCReadFile:                  "ReadFile",
	RPCWriteFile:                 "WriteFile",
	RPCSetFileModifiedTime:       "SetFileModifiedTime",
	RPCGetDirectoryListing:       "GetDirectoryListing",
	RPCCookFile:                  "CookFile",
	RPCKeyboardKeyEvent:          "KeyboardKeyEvent",
	RPCContentChangeEvent:        "ContentChangeEvent",
	RPCKeyboardCharEvent:         "KeyboardCharEvent",
	RPCStatFileCacheRefreshEvent: "StatFileCacheRefreshEvent",
	RPCCreateDirPath:             "CreateDirPath",
	RPCDelete:                    "Delete",
	RPCRename:                    "Rename",
	RPCSetReadOnlyBit:            "SetReadOnlyBit",
	RPCCopy:                      "Copy",
	RPCDeleteDirectory:           "DeleteDirectory",
}

func (r RPC) String() string {
	base := r.Request()
	if base >= rpcCount {
		return "Unknown"
	}
	if r.IsResponse() {
		return rpcNames[base] + "Response"
	}
	return rpcNames[base]
}

// Result is the coarse outcome carried as the first payload byte of every
// response. Existence and permission failures collapse to ResultFileNotFound;
// everything else collapses to ResultGenericFailure.
type Result uint8

const (
	ResultSuccess Result = iota
	ResultFileNotFound
	ResultGenericFailure

	resultCount
)

// Valid reports whether a received status byte is within the contract.
func (r Result) Valid() bool { return r < resultCount }

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultFileNotFound:
		return "FileNotFound"
	case ResultGenericFailure:
		return "GenericFailure"
	default:
		return "Invalid"
	}
}

// FileMode is the open mode byte of RPCOpenFile.
type FileMode uint8

const (
	FileRead FileMode = iota
	FileWriteTruncate
	FileWriteAppend
	FileReadWrite

	fileModeCount
)

// Valid reports whether the mode byte is within the contract.
func (m FileMode) Valid() bool { return m < fileModeCount }

// Writable reports whether the mode permits writes.
func (m FileMode) Writable() bool { return m != FileRead }

func (m FileMode) String() string {
	switch m {
	case FileRead:
		return "Read"
	case FileWriteTruncate:
		return "WriteTruncate"
	case FileWriteAppend:
		return "WriteAppend"
	case FileReadWrite:
		return "ReadWrite"
	default:
		return "Invalid"
	}
}

// GameDirectory is the enumerated logical root a FilePath is resolved under.
type GameDirectory uint8

const (
	DirUnknown GameDirectory = iota
	DirConfig
	DirContent
	DirLog
	DirSave
	DirToolsBin
	DirVideos

	gameDirectoryCount
)

// GameDirectoryCount is the number of logical roots, DirUnknown included.
const GameDirectoryCount = int(gameDirectoryCount)

// Valid reports whether the directory is a known, non-Unknown root.
func (d GameDirectory) Valid() bool { return d > DirUnknown && d < gameDirectoryCount }

func (d GameDirectory) String() string {
	switch d {
	case DirConfig:
		return "Config"
	case DirContent:
		return "Content"
	case DirLog:
		return "Log"
	case DirSave:
		return "Save"
	case DirToolsBin:
		return "ToolsBin"
	case DirVideos:
		return "Videos"
	default:
		return "Unknown"
	}
}

// FileStat is the basic file metadata carried by stat-like responses.
// A zero ModifiedTime is the sentinel for "not found"; stat fields are only
// meaningful when the timestamp is nonzero.
type FileStat struct {
	Size         uint64
	ModifiedTime uint64
	IsDirectory  bool
}

// StatFlagDirectory is bit0 of the StatFile response flags byte.
const StatFlagDirectory uint8 = 1 << 0

// GetDirectoryListing flag bits. The two flags are independent: a directory
// can appear in results without being descended into.
const (
	ListingIncludeSubdirectories uint8 = 1 << 0
	ListingRecursive             uint8 = 1 << 1
)

// CookFlagCheckTimestamp asks the cook step to skip up-to-date targets.
const CookFlagCheckTimestamp uint8 = 1 << 0

// CookResult is the detailed cook outcome transmitted alongside the RPC
// result byte. The RPC result is ResultSuccess for both CookSuccess and
// CookUpToDate; the detailed code is preserved for client-side branching.
type CookResult int32

const (
	CookSuccess CookResult = iota
	CookUpToDate
	CookOutOfDate
	CookFailed
	CookUnsupported
)

func (c CookResult) String() string {
	switch c {
	case CookSuccess:
		return "Success"
	case CookUpToDate:
		return "UpToDate"
	case CookOutOfDate:
		return "OutOfDate"
	case CookFailed:
		return "Failed"
	case CookUnsupported:
		return "Unsupported"
	default:
		return "Invalid"
	}
}

// FileEvent classifies a content change notification.
type FileEvent uint8

const (
	FileAdded FileEvent = iota
	FileRemoved
	FileModified
	FileRenamed
)

func (e FileEvent) String() string {
	switch e {
	case FileAdded:
		return "Added"
	case FileRemoved:
		return "Removed"
	case FileModified:
		return "Modified"
	case FileRenamed:
		return "Renamed"
	default:
		return "Invalid"
	}
}

// ContentChangeEvent is a push notification for a filesystem change inside a
// monitored directory. For non-rename events Old == New.
type ContentChangeEvent struct {
	Old          FilePath
	New          FilePath
	Size         uint64
	ModifiedTime uint64
	Event        FileEvent
}

// KeyEventType classifies a pushed keyboard key event.
type KeyEventType uint8

const (
	KeyPressed KeyEventType = iota
	KeyReleased
)

// KeyEvent is a pushed keyboard key event.
type KeyEvent struct {
	VirtualKey uint32
	Type       KeyEventType
}

// Platform identifies the client platform sent during the handshake.
type Platform uint32

const (
	PlatformPC Platform = iota
	PlatformAndroid
	PlatformIOS
	PlatformLinux
)

func (p Platform) String() string {
	switch p {
	case PlatformPC:
		return "PC"
	case PlatformAndroid:
		return "Android"
	case PlatformIOS:
		return "IOS"
	case PlatformLinux:
		return "Linux"
	default:
		return "Unknown"
	}
}

// Handshake is the fixed-size hello a client sends before any RPC.
type Handshake struct {
	Version  uint32
	Magic    uint32
	Platform Platform
}

const (
	// ProtocolVersion must match on both ends of a connection.
	ProtocolVersion uint32 = 4

	// ConnectMagic is sent by the client, ConnectResponseMagic by the server.
	ConnectMagic         uint32 = 0x4d4f5249
	ConnectResponseMagic uint32 = 0x41525459

	// DefaultPort is the TCP port conventionally used for the protocol.
	DefaultPort = 22180
)

// MaxStringLen bounds every length-prefixed string on the wire.
const MaxStringLen = 1 << 24

// MaxTransferSize bounds a single read or write payload. Requests exceeding
// it for reads fail with an empty generic-failure response; for writes the
// stream cannot be safely resynchronized and the connection is dropped.
const MaxTransferSize = 1 << 30
