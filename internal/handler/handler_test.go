package handler_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seoulengine/moriarty/internal/cooker"
	"github.com/seoulengine/moriarty/internal/copier"
	"github.com/seoulengine/moriarty/internal/handler"
	"github.com/seoulengine/moriarty/pkg/proto"
	"github.com/seoulengine/moriarty/pkg/server"
)

func newTestHandler(t *testing.T, allowWrite bool) (*handler.Handler, *handler.HandlerContext, string) {
	t.Helper()

	root := t.TempDir()
	resolver, err := handler.NewResolver(map[proto.GameDirectory]string{
		proto.DirContent: root,
	})
	require.NoError(t, err)

	h := &handler.Handler{
		Resolver:   resolver,
		Cooker:     cooker.Disabled{},
		Copier:     copier.NewCopier(),
		AllowWrite: allowWrite,
	}

	ctx := server.NewContext[handler.State](context.Background(), &bytes.Buffer{})
	t.Cleanup(func() { _ = ctx.Close() })

	return h, ctx, root
}

func contentPath(t *testing.T, rel string) proto.FilePath {
	t.Helper()

	fp, ok := proto.NewFilePath(proto.DirContent, rel)
	require.True(t, ok, "no file type for %q", rel)
	return fp
}

func writeFixture(t *testing.T, root, rel string, data []byte) {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}

func TestOpenReadClose(t *testing.T) {
	h, ctx, root := newTestHandler(t, false)

	content := make([]byte, 256)
	_, err := rand.Read(content)
	require.NoError(t, err)
	writeFixture(t, root, "blob.dat", content)

	fp := contentPath(t, "blob.dat")

	handle, st, res := h.HandleOpenFile(ctx, fp, proto.FileRead)
	require.Equal(t, proto.ResultSuccess, res)
	require.NotZero(t, handle)
	assert.Equal(t, uint64(len(content)), st.Size)
	assert.NotZero(t, st.ModifiedTime)

	data, compressed, res := h.HandleReadFile(ctx, handle, uint64(len(content)), 0)
	require.Equal(t, proto.ResultSuccess, res)
	assert.False(t, compressed, "random data must be served verbatim")
	assert.Equal(t, content, data)

	// short read past EOF
	data, _, res = h.HandleReadFile(ctx, handle, 1000, 200)
	require.Equal(t, proto.ResultSuccess, res)
	assert.Equal(t, content[200:], data)

	assert.Equal(t, proto.ResultSuccess, h.HandleCloseFile(ctx, handle))
}

func TestOpenThenStatAgreement(t *testing.T) {
	h, ctx, root := newTestHandler(t, false)

	writeFixture(t, root, "settings.json", []byte(`{"a":1}`))
	fp := contentPath(t, "settings.json")

	handle, openSt, res := h.HandleOpenFile(ctx, fp, proto.FileRead)
	require.Equal(t, proto.ResultSuccess, res)
	defer h.HandleCloseFile(ctx, handle)

	statSt, res := h.HandleStatFile(ctx, fp)
	require.Equal(t, proto.ResultSuccess, res)
	assert.Equal(t, statSt, openSt)
}

func TestStatFileNotFound(t *testing.T) {
	h, ctx, _ := newTestHandler(t, false)

	st, res := h.HandleStatFile(ctx, contentPath(t, "missing.json"))
	assert.Equal(t, proto.ResultFileNotFound, res)
	assert.Zero(t, st.ModifiedTime, "zero timestamp is the not-found sentinel")
}

func TestAttachMissingRootPushesEmptyRefresh(t *testing.T) {
	root := t.TempDir()
	resolver, err := handler.NewResolver(map[proto.GameDirectory]string{
		proto.DirContent: root,
	})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(root))

	h := &handler.Handler{
		Resolver: resolver,
		Cooker:   cooker.Disabled{},
		Copier:   copier.NewCopier(),
	}

	var out bytes.Buffer
	ctx := server.NewContext[handler.State](context.Background(), &out)
	t.Cleanup(func() { _ = ctx.Close() })

	h.HandleAttach(ctx)

	rd := proto.Reader{Reader: &out}
	rpc, err := rd.ReadRPC()
	require.NoError(t, err)
	assert.Equal(t, proto.RPCStatFileCacheRefreshEvent, rpc)

	payload, err := rd.ReadStatFileCacheRefresh()
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestUseAfterCloseMisses(t *testing.T) {
	h, ctx, root := newTestHandler(t, false)

	writeFixture(t, root, "a.txt", []byte("x"))

	handle, _, res := h.HandleOpenFile(ctx, contentPath(t, "a.txt"), proto.FileRead)
	require.Equal(t, proto.ResultSuccess, res)
	require.Equal(t, proto.ResultSuccess, h.HandleCloseFile(ctx, handle))

	_, _, res = h.HandleReadFile(ctx, handle, 1, 0)
	assert.Equal(t, proto.ResultGenericFailure, res)
	assert.Equal(t, proto.ResultGenericFailure, h.HandleCloseFile(ctx, handle))

	// a later open must not recycle the stale handle value
	next, _, res := h.HandleOpenFile(ctx, contentPath(t, "a.txt"), proto.FileRead)
	require.Equal(t, proto.ResultSuccess, res)
	assert.NotEqual(t, handle, next)
}

func TestReadFileCompressesRepetitiveData(t *testing.T) {
	h, ctx, root := newTestHandler(t, false)

	content := []byte(strings.Repeat("abcd", 4096))
	writeFixture(t, root, "big.txt", content)

	handle, _, res := h.HandleOpenFile(ctx, contentPath(t, "big.txt"), proto.FileRead)
	require.Equal(t, proto.ResultSuccess, res)

	data, compressed, res := h.HandleReadFile(ctx, handle, uint64(len(content)), 0)
	require.Equal(t, proto.ResultSuccess, res)
	require.True(t, compressed)
	require.Less(t, len(data), len(content), "compressed form must be strictly smaller")

	expanded, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, content, expanded)
}

func TestReadFileWritableHandleNotCompressed(t *testing.T) {
	h, ctx, root := newTestHandler(t, true)

	content := []byte(strings.Repeat("abcd", 4096))
	writeFixture(t, root, "big.txt", content)

	handle, _, res := h.HandleOpenFile(ctx, contentPath(t, "big.txt"), proto.FileReadWrite)
	require.Equal(t, proto.ResultSuccess, res)

	data, compressed, res := h.HandleReadFile(ctx, handle, uint64(len(content)), 0)
	require.Equal(t, proto.ResultSuccess, res)
	assert.False(t, compressed)
	assert.Equal(t, content, data)
}

func TestReadFileBoundsCheck(t *testing.T) {
	h, ctx, root := newTestHandler(t, false)

	writeFixture(t, root, "a.txt", []byte("x"))
	handle, _, res := h.HandleOpenFile(ctx, contentPath(t, "a.txt"), proto.FileRead)
	require.Equal(t, proto.ResultSuccess, res)

	data, compressed, res := h.HandleReadFile(ctx, handle, proto.MaxTransferSize+1, 0)
	assert.Equal(t, proto.ResultGenericFailure, res)
	assert.Empty(t, data)
	assert.False(t, compressed)
}

func TestWriteFile(t *testing.T) {
	h, ctx, root := newTestHandler(t, true)

	fp := contentPath(t, "out.txt")

	handle, _, res := h.HandleOpenFile(ctx, fp, proto.FileWriteTruncate)
	require.Equal(t, proto.ResultSuccess, res)

	payload := []byte("hello world")
	written, res := h.HandleWriteFile(ctx, handle, 0, bytes.NewReader(payload), uint64(len(payload)))
	require.Equal(t, proto.ResultSuccess, res)
	assert.Equal(t, uint64(len(payload)), written)

	// overwrite in the middle
	written, res = h.HandleWriteFile(ctx, handle, 6, bytes.NewReader([]byte("earth")), 5)
	require.Equal(t, proto.ResultSuccess, res)
	assert.Equal(t, uint64(5), written)

	require.Equal(t, proto.ResultSuccess, h.HandleCloseFile(ctx, handle))

	got, err := os.ReadFile(filepath.Join(root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello earth"), got)
}

func TestWriteThenReadBackSizes(t *testing.T) {
	for _, n := range []int{0, 1, 4096} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			h, ctx, _ := newTestHandler(t, true)

			payload := make([]byte, n)
			_, err := rand.Read(payload)
			require.NoError(t, err)

			handle, _, res := h.HandleOpenFile(ctx, contentPath(t, "round.txt"), proto.FileWriteTruncate)
			require.Equal(t, proto.ResultSuccess, res)

			written, res := h.HandleWriteFile(ctx, handle, 0, bytes.NewReader(payload), uint64(n))
			require.Equal(t, proto.ResultSuccess, res)
			assert.Equal(t, uint64(n), written)

			data, compressed, res := h.HandleReadFile(ctx, handle, uint64(n), 0)
			require.Equal(t, proto.ResultSuccess, res)
			assert.False(t, compressed)
			assert.Equal(t, payload, data)
		})
	}
}

func TestWriteRejectedOnReadOnlyServer(t *testing.T) {
	h, ctx, root := newTestHandler(t, false)

	writeFixture(t, root, "a.txt", []byte("x"))

	_, _, res := h.HandleOpenFile(ctx, contentPath(t, "a.txt"), proto.FileWriteTruncate)
	assert.Equal(t, proto.ResultGenericFailure, res)

	handle, _, res := h.HandleOpenFile(ctx, contentPath(t, "a.txt"), proto.FileRead)
	require.Equal(t, proto.ResultSuccess, res)

	_, res = h.HandleWriteFile(ctx, handle, 0, bytes.NewReader([]byte("y")), 1)
	assert.Equal(t, proto.ResultGenericFailure, res)

	assert.Equal(t, proto.ResultGenericFailure, h.HandleDelete(ctx, contentPath(t, "a.txt")))
}

func TestDeleteIdempotence(t *testing.T) {
	h, ctx, root := newTestHandler(t, true)

	writeFixture(t, root, "gone.txt", []byte("x"))
	fp := contentPath(t, "gone.txt")

	assert.Equal(t, proto.ResultSuccess, h.HandleDelete(ctx, fp))
	assert.Equal(t, proto.ResultFileNotFound, h.HandleDelete(ctx, fp))
}

func listingRoot() proto.FilePath {
	return proto.FilePath{Directory: proto.DirContent}
}

func TestDirectoryListingFlagMatrix(t *testing.T) {
	h, ctx, root := newTestHandler(t, false)

	writeFixture(t, root, "a.txt", []byte("a"))
	writeFixture(t, root, "sub/b.txt", []byte("b"))
	writeFixture(t, root, "sub/c.json", []byte("{}"))

	tests := []struct {
		name        string
		includeDirs bool
		recursive   bool
		extension   string
		want        []string
	}{
		{"flat files only", false, false, ".txt", []string{"a.txt"}},
		{"full tree", true, true, ".txt", []string{"a.txt", "sub", "sub/b.txt"}},
		{"recursive without dirs", false, true, ".txt", []string{"a.txt", "sub/b.txt"}},
		{"dirs without descent", true, false, ".txt", []string{"a.txt", "sub"}},
		{"no filter", false, true, "", []string{"a.txt", "sub/b.txt", "sub/c.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, res := h.HandleGetDirectoryListing(ctx, listingRoot(), tt.includeDirs, tt.recursive, tt.extension)
			require.Equal(t, proto.ResultSuccess, res)
			assert.ElementsMatch(t, tt.want, entries)
		})
	}
}

func TestDirectoryListingMissingRoot(t *testing.T) {
	h, ctx, _ := newTestHandler(t, false)

	fp := proto.FilePath{Directory: proto.DirContent, RelativePath: "nope"}
	_, res := h.HandleGetDirectoryListing(ctx, fp, false, false, "")
	assert.Equal(t, proto.ResultFileNotFound, res)
}

func TestCreateAndDeleteDirectory(t *testing.T) {
	h, ctx, root := newTestHandler(t, true)

	dir := proto.FilePath{Directory: proto.DirContent, RelativePath: "nested/deep"}
	require.Equal(t, proto.ResultSuccess, h.HandleCreateDirPath(ctx, dir))

	info, err := os.Stat(filepath.Join(root, "nested", "deep"))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	writeFixture(t, root, "nested/deep/file.txt", []byte("x"))

	parent := proto.FilePath{Directory: proto.DirContent, RelativePath: "nested"}
	assert.Equal(t, proto.ResultGenericFailure, h.HandleDeleteDirectory(ctx, parent, false),
		"non-recursive delete of a populated directory must fail")
	assert.Equal(t, proto.ResultSuccess, h.HandleDeleteDirectory(ctx, parent, true))
	assert.Equal(t, proto.ResultFileNotFound, h.HandleDeleteDirectory(ctx, parent, true))
}

func TestRename(t *testing.T) {
	h, ctx, root := newTestHandler(t, true)

	writeFixture(t, root, "old.txt", []byte("content"))

	res := h.HandleRename(ctx, contentPath(t, "old.txt"), contentPath(t, "new.txt"))
	require.Equal(t, proto.ResultSuccess, res)

	_, err := os.Stat(filepath.Join(root, "old.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	got, err := os.ReadFile(filepath.Join(root, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), got)
}

func TestCopyOverwriteFlag(t *testing.T) {
	h, ctx, root := newTestHandler(t, true)

	writeFixture(t, root, "src.txt", []byte("source"))
	writeFixture(t, root, "dst.txt", []byte("old"))

	res := h.HandleCopy(ctx, contentPath(t, "src.txt"), contentPath(t, "dst.txt"), false)
	assert.Equal(t, proto.ResultGenericFailure, res, "existing target without overwrite must fail")

	res = h.HandleCopy(ctx, contentPath(t, "src.txt"), contentPath(t, "dst.txt"), true)
	require.Equal(t, proto.ResultSuccess, res)

	got, err := os.ReadFile(filepath.Join(root, "dst.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("source"), got)
}

func TestSetReadOnlyBit(t *testing.T) {
	h, ctx, root := newTestHandler(t, true)

	writeFixture(t, root, "a.txt", []byte("x"))
	fp := contentPath(t, "a.txt")

	require.Equal(t, proto.ResultSuccess, h.HandleSetReadOnlyBit(ctx, fp, true))

	info, err := os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&0o222)

	require.Equal(t, proto.ResultSuccess, h.HandleSetReadOnlyBit(ctx, fp, false))

	info, err = os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o200)
}

func TestSetFileModifiedTime(t *testing.T) {
	h, ctx, root := newTestHandler(t, true)

	writeFixture(t, root, "a.txt", []byte("x"))

	const mtime = 1600000000
	require.Equal(t, proto.ResultSuccess, h.HandleSetFileModifiedTime(ctx, contentPath(t, "a.txt"), mtime))

	info, err := os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(mtime), info.ModTime().Unix())
}

func TestPathTraversalRejected(t *testing.T) {
	h, ctx, _ := newTestHandler(t, false)

	fp := proto.FilePath{
		Directory:    proto.DirContent,
		Type:         proto.FileTypeText,
		RelativePath: "../escape",
	}

	_, res := h.HandleStatFile(ctx, fp)
	assert.Equal(t, proto.ResultGenericFailure, res)
}

func TestUnservedDirectoryRejected(t *testing.T) {
	h, ctx, _ := newTestHandler(t, false)

	fp := proto.FilePath{
		Directory:    proto.DirSave,
		Type:         proto.FileTypeSaveGame,
		RelativePath: "slot0",
	}

	_, res := h.HandleStatFile(ctx, fp)
	assert.Equal(t, proto.ResultGenericFailure, res)
}
