package proto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seoulengine/moriarty/pkg/proto"
)

func TestExtensionToFileType(t *testing.T) {
	tests := []struct {
		ext  string
		want proto.FileType
	}{
		{".json", proto.FileTypeJson},
		{".JSON", proto.FileTypeJson},
		{".lua", proto.FileTypeScript},
		{".lbc", proto.FileTypeScript},
		{".png", proto.FileTypeTexture0},
		{".sif3", proto.FileTypeTexture3},
		{".csp", proto.FileTypeScriptProject},
		{".csproj", proto.FileTypeScriptProject},
		{".nope", proto.FileTypeUnknown},
		{"", proto.FileTypeUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, proto.ExtensionToFileType(tt.ext), "extension %q", tt.ext)
	}
}

func TestCanonicalExtensionRoundTrip(t *testing.T) {
	// every valid type must resolve back to itself through its canonical
	// extension
	for ft := proto.FileTypeUnknown + 1; ft.Valid(); ft++ {
		ext := ft.Extension()
		require.NotEmpty(t, ext, "type %s has no canonical extension", ft)
		assert.Equal(t, ft, proto.ExtensionToFileType(ext), "extension %q", ext)
	}
}

func TestNewFilePath(t *testing.T) {
	fp, ok := proto.NewFilePath(proto.DirContent, "Authored/UI/Screens.swf")
	require.True(t, ok)
	assert.Equal(t, proto.DirContent, fp.Directory)
	assert.Equal(t, proto.FileTypeUIMovie, fp.Type)
	assert.Equal(t, "Authored/UI/Screens", fp.RelativePath)
	assert.Equal(t, "Authored/UI/Screens.swf", fp.RelativeFilename())
	assert.True(t, fp.IsValid())
}

func TestNewFilePathUnknownExtension(t *testing.T) {
	_, ok := proto.NewFilePath(proto.DirContent, "notes/readme.md")
	assert.False(t, ok)
}

func TestNewFilePathNormalizesSeparators(t *testing.T) {
	fp, ok := proto.NewFilePath(proto.DirConfig, `\Scripts\Engine\Init.lua`)
	require.True(t, ok)
	assert.Equal(t, "Scripts/Engine/Init", fp.RelativePath)
}

func TestNewFilePathCollapsesToCanonicalExtension(t *testing.T) {
	fp, ok := proto.NewFilePath(proto.DirContent, "Textures/Splash.png")
	require.True(t, ok)
	assert.Equal(t, proto.FileTypeTexture0, fp.Type)
	// the canonical cooked extension wins when resolving back to a filename
	assert.Equal(t, "Textures/Splash.sif0", fp.RelativeFilename())
}

func TestFilePathIsValid(t *testing.T) {
	assert.False(t, proto.FilePath{}.IsValid())
	assert.False(t, proto.FilePath{
		Directory:    proto.DirContent,
		Type:         proto.FileTypeText,
		RelativePath: "/absolute",
	}.IsValid())
}

func TestFilePathString(t *testing.T) {
	fp, ok := proto.NewFilePath(proto.DirConfig, "gameplay.csv")
	require.True(t, ok)
	assert.Equal(t, "Config://gameplay.csv", fp.String())
}
