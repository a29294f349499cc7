package server_test

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seoulengine/moriarty/pkg/proto"
	"github.com/seoulengine/moriarty/pkg/server"
)

type stubHandler struct {
	mu       sync.Mutex
	logs     []string
	attached int
	detached int
}

type stubContext = server.Context[struct{}]

func (h *stubHandler) HandleAttach(ctx *stubContext) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attached++
}

func (h *stubHandler) HandleDetach(ctx *stubContext) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached++
}

func (h *stubHandler) HandleLogMessage(ctx *stubContext, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, message)
}

func (h *stubHandler) HandleStatFile(ctx *stubContext, fp proto.FilePath) (proto.FileStat, proto.Result) {
	return proto.FileStat{Size: 7, ModifiedTime: 1700000000}, proto.ResultSuccess
}

func (h *stubHandler) HandleOpenFile(ctx *stubContext, fp proto.FilePath, mode proto.FileMode) (int32, proto.FileStat, proto.Result) {
	return 5, proto.FileStat{Size: 7, ModifiedTime: 1700000000}, proto.ResultSuccess
}

func (h *stubHandler) HandleCloseFile(ctx *stubContext, handle int32) proto.Result {
	return proto.ResultSuccess
}

func (h *stubHandler) HandleReadFile(ctx *stubContext, handle int32, count, offset uint64) ([]byte, bool, proto.Result) {
	return []byte("data"), false, proto.ResultSuccess
}

func (h *stubHandler) HandleWriteFile(ctx *stubContext, handle int32, offset uint64, data io.Reader, count uint64) (uint64, proto.Result) {
	n, err := io.Copy(io.Discard, data)
	if err != nil {
		return 0, proto.ResultGenericFailure
	}

	return uint64(n), proto.ResultSuccess
}

func (h *stubHandler) HandleSetFileModifiedTime(ctx *stubContext, fp proto.FilePath, mtime uint64) proto.Result {
	return proto.ResultSuccess
}

func (h *stubHandler) HandleGetDirectoryListing(ctx *stubContext, fp proto.FilePath, includeDirs, recursive bool, extension string) ([]string, proto.Result) {
	return []string{"a.txt"}, proto.ResultSuccess
}

func (h *stubHandler) HandleCookFile(ctx *stubContext, fp proto.FilePath, checkTimestamp bool) (proto.FileStat, proto.CookResult, proto.Result) {
	return proto.FileStat{}, proto.CookUnsupported, proto.ResultGenericFailure
}

func (h *stubHandler) HandleCreateDirPath(ctx *stubContext, fp proto.FilePath) proto.Result {
	return proto.ResultSuccess
}

func (h *stubHandler) HandleDelete(ctx *stubContext, fp proto.FilePath) proto.Result {
	return proto.ResultSuccess
}

func (h *stubHandler) HandleRename(ctx *stubContext, from, to proto.FilePath) proto.Result {
	return proto.ResultSuccess
}

func (h *stubHandler) HandleSetReadOnlyBit(ctx *stubContext, fp proto.FilePath, readOnly bool) proto.Result {
	return proto.ResultSuccess
}

func (h *stubHandler) HandleCopy(ctx *stubContext, from, to proto.FilePath, allowOverwrite bool) proto.Result {
	return proto.ResultSuccess
}

func (h *stubHandler) HandleDeleteDirectory(ctx *stubContext, fp proto.FilePath, recursive bool) proto.Result {
	return proto.ResultSuccess
}

func startServer(t *testing.T) (*stubHandler, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	h := &stubHandler{}
	s := &server.Server[struct{}]{Handler: h}
	go func() { _ = s.Serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return h, conn
}

func handshake(t *testing.T, conn net.Conn) (*proto.Reader, *proto.Writer) {
	t.Helper()

	rd := &proto.Reader{Reader: conn}
	wr := &proto.Writer{Writer: conn}

	require.NoError(t, wr.SendHandshake(proto.PlatformPC))

	version, magic, err := rd.ReadHandshakeResponse()
	require.NoError(t, err)
	require.Equal(t, proto.ProtocolVersion, version)
	require.Equal(t, proto.ConnectResponseMagic, magic)

	return rd, wr
}

func TestTokenEcho(t *testing.T) {
	_, conn := startServer(t)
	rd, wr := handshake(t, conn)

	fp, ok := proto.NewFilePath(proto.DirContent, "data.json")
	require.True(t, ok)

	require.NoError(t, wr.SendStatFile(0xdeadbeef, fp))

	rpc, err := rd.ReadRPC()
	require.NoError(t, err)
	assert.Equal(t, proto.RPCStatFile.Response(), rpc)

	token, err := rd.ReadToken()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), token, "response must carry the caller's token unchanged")

	res, st, err := rd.ReadStatFileResult()
	require.NoError(t, err)
	assert.Equal(t, proto.ResultSuccess, res)
	assert.Equal(t, uint64(7), st.Size)
}

func TestHandshakeBadMagicClosesConnection(t *testing.T) {
	_, conn := startServer(t)

	var hello [12]byte
	binary.BigEndian.PutUint32(hello[0:], proto.ProtocolVersion)
	binary.BigEndian.PutUint32(hello[4:], 0x12345678)
	binary.BigEndian.PutUint32(hello[8:], uint32(proto.PlatformPC))

	_, err := conn.Write(hello[:])
	require.NoError(t, err)

	var buf [1]byte
	_, err = io.ReadFull(conn, buf[:])
	assert.Error(t, err, "server must close without answering a bad hello")
}

func TestHandshakeVersionMismatchClosesConnection(t *testing.T) {
	_, conn := startServer(t)

	var hello [12]byte
	binary.BigEndian.PutUint32(hello[0:], proto.ProtocolVersion+1)
	binary.BigEndian.PutUint32(hello[4:], proto.ConnectMagic)
	binary.BigEndian.PutUint32(hello[8:], uint32(proto.PlatformPC))

	_, err := conn.Write(hello[:])
	require.NoError(t, err)

	var buf [1]byte
	_, err = io.ReadFull(conn, buf[:])
	assert.Error(t, err)
}

func TestLogMessageProducesNoResponse(t *testing.T) {
	h, conn := startServer(t)
	rd, wr := handshake(t, conn)

	require.NoError(t, wr.SendLogMessage("client booted"))

	// the next response observed must answer the stat, not the log
	fp, ok := proto.NewFilePath(proto.DirContent, "data.json")
	require.True(t, ok)
	require.NoError(t, wr.SendStatFile(1, fp))

	rpc, err := rd.ReadRPC()
	require.NoError(t, err)
	assert.Equal(t, proto.RPCStatFile.Response(), rpc)

	token, err := rd.ReadToken()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), token)

	_, _, err = rd.ReadStatFileResult()
	require.NoError(t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"client booted"}, h.logs)
}

func TestResponseKindFromClientClosesConnection(t *testing.T) {
	_, conn := startServer(t)
	rd, _ := handshake(t, conn)

	_, err := conn.Write([]byte{byte(proto.RPCStatFile.Response())})
	require.NoError(t, err)

	_, err = rd.ReadRPC()
	assert.Error(t, err)
}

func TestWriteFilePayloadFraming(t *testing.T) {
	_, conn := startServer(t)
	rd, wr := handshake(t, conn)

	require.NoError(t, wr.SendWriteFile(2, 5, 0, []byte("hello")))

	rpc, err := rd.ReadRPC()
	require.NoError(t, err)
	assert.Equal(t, proto.RPCWriteFile.Response(), rpc)

	token, err := rd.ReadToken()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), token)

	res, written, err := rd.ReadWriteFileResult()
	require.NoError(t, err)
	assert.Equal(t, proto.ResultSuccess, res)
	assert.Equal(t, uint64(5), written)

	// the stream stays in sync for the next request
	fp, ok := proto.NewFilePath(proto.DirContent, "data.json")
	require.True(t, ok)
	require.NoError(t, wr.SendStatFile(3, fp))

	rpc, err = rd.ReadRPC()
	require.NoError(t, err)
	assert.Equal(t, proto.RPCStatFile.Response(), rpc)
}
