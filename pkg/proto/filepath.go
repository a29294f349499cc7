package proto

import (
	"path"
	"strings"
)

// FileType is the enumerated asset kind derived from a file's extension.
// It is carried on the wire instead of the raw extension string and is
// authoritative for serialization once captured.
type FileType uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeAnimation2D
	FileTypeCsv
	FileTypeEffect
	FileTypeEffectHeader
	FileTypeExe
	FileTypeFont
	FileTypeFxBank
	FileTypeHtml
	FileTypeJson
	FileTypePEMCertificate
	FileTypeProtobuf
	FileTypeSaveGame
	FileTypeSceneAsset
	FileTypeScenePrefab
	FileTypeScript
	FileTypeSoundBank
	FileTypeSoundProject
	FileTypeTexture0
	FileTypeTexture1
	FileTypeTexture2
	FileTypeTexture3
	FileTypeTexture4
	FileTypeText
	FileTypeUIMovie
	FileTypeWav
	FileTypeXml
	FileTypeScriptProject
	FileTypeCs
	FileTypeVideo

	fileTypeCount
)

// Valid reports whether the type byte is a known asset kind.
func (t FileType) Valid() bool { return t > FileTypeUnknown && t < fileTypeCount }

// extensionToType maps lowercase extensions to asset kinds. Several source
// and cooked extensions collapse to the same kind; canonicalExtension picks
// the one used when a FilePath is resolved back to a disk name.
var extensionToType = map[string]FileType{
	".avi":    FileTypeVideo,
	".bank":   FileTypeSoundBank,
	".cs":     FileTypeCs,
	".csp":    FileTypeScriptProject,
	".csproj": FileTypeScriptProject,
	".csv":    FileTypeCsv,
	".dat":    FileTypeSaveGame,
	".exe":    FileTypeExe,
	".fbx":    FileTypeSceneAsset,
	".fcn":    FileTypeUIMovie,
	".fev":    FileTypeSoundProject,
	".fspro":  FileTypeSoundProject,
	".fx":     FileTypeEffect,
	".fxb":    FileTypeFxBank,
	".fxc":    FileTypeEffect,
	".fxh":    FileTypeEffectHeader,
	".html":   FileTypeHtml,
	".json":   FileTypeJson,
	".lbc":    FileTypeScript,
	".lua":    FileTypeScript,
	".pb":     FileTypeProtobuf,
	".pem":    FileTypePEMCertificate,
	".png":    FileTypeTexture0,
	".prefab": FileTypeScenePrefab,
	".proto":  FileTypeProtobuf,
	".saf":    FileTypeAnimation2D,
	".sff":    FileTypeFont,
	".sif0":   FileTypeTexture0,
	".sif1":   FileTypeTexture1,
	".sif2":   FileTypeTexture2,
	".sif3":   FileTypeTexture3,
	".sif4":   FileTypeTexture4,
	".son":    FileTypeAnimation2D,
	".spf":    FileTypeScenePrefab,
	".ssa":    FileTypeSceneAsset,
	".swf":    FileTypeUIMovie,
	".ttf":    FileTypeFont,
	".txt":    FileTypeText,
	".wav":    FileTypeWav,
	".xfx":    FileTypeFxBank,
	".xml":    FileTypeXml,
}

var typeToExtension = [fileTypeCount]string{
	FileTypeAnimation2D:    ".saf",
	FileTypeCsv:            ".csv",
	FileTypeEffect:         ".fx",
	FileTypeEffectHeader:   ".fxh",
	FileTypeExe:            ".exe",
	FileTypeFont:           ".sff",
	FileTypeFxBank:         ".fxb",
	FileTypeHtml:           ".html",
	FileTypeJson:           ".json",
	FileTypePEMCertificate: ".pem",
	FileTypeProtobuf:       ".pb",
	FileTypeSaveGame:       ".dat",
	FileTypeSceneAsset:     ".ssa",
	FileTypeScenePrefab:    ".spf",
	FileTypeScript:         ".lua",
	FileTypeSoundBank:      ".bank",
	FileTypeSoundProject:   ".fspro",
	FileTypeTexture0:       ".sif0",
	FileTypeTexture1:       ".sif1",
	FileTypeTexture2:       ".sif2",
	FileTypeTexture3:       ".sif3",
	FileTypeTexture4:       ".sif4",
	FileTypeText:           ".txt",
	FileTypeUIMovie:        ".swf",
	FileTypeWav:            ".wav",
	FileTypeXml:            ".xml",
	FileTypeScriptProject:  ".csp",
	FileTypeCs:             ".cs",
	FileTypeVideo:          ".avi",
}

// ExtensionToFileType maps a file extension (with leading dot, any case) to
// its asset kind, or FileTypeUnknown for unrecognized extensions.
func ExtensionToFileType(ext string) FileType {
	return extensionToType[strings.ToLower(ext)]
}

// Extension returns the canonical extension for the asset kind, or "" for
// FileTypeUnknown.
func (t FileType) Extension() string {
	if !t.Valid() {
		return ""
	}
	return typeToExtension[t]
}

func (t FileType) String() string {
	if !t.Valid() {
		return "Unknown"
	}
	// trim the dot; the canonical extension doubles as a short name
	return strings.TrimPrefix(typeToExtension[t], ".")
}

// FilePath is a structured reference to a game asset. RelativePath never
// contains a leading separator or a file extension; Type is derived from the
// extension at capture time.
type FilePath struct {
	Directory    GameDirectory
	Type         FileType
	RelativePath string
}

// IsValid reports whether the FilePath can address a real asset.
func (p FilePath) IsValid() bool {
	return p.Directory.Valid() && p.RelativePath != "" &&
		!strings.HasPrefix(p.RelativePath, "/") && !strings.HasPrefix(p.RelativePath, "\\")
}

// RelativeFilename is RelativePath plus the type's canonical extension,
// using forward slashes.
func (p FilePath) RelativeFilename() string {
	return p.RelativePath + p.Type.Extension()
}

func (p FilePath) String() string {
	return p.Directory.String() + "://" + p.RelativeFilename()
}

// NewFilePath captures a FilePath from a slash-relative filename inside the
// given logical root. The second return is false when the filename's
// extension maps to no known asset kind.
func NewFilePath(dir GameDirectory, relativeFilename string) (FilePath, bool) {
	rel := normalizeSlashes(relativeFilename)
	ext := path.Ext(rel)
	t := ExtensionToFileType(ext)
	if t == FileTypeUnknown {
		return FilePath{}, false
	}

	return FilePath{
		Directory:    dir,
		Type:         t,
		RelativePath: strings.TrimSuffix(rel, ext),
	}, true
}

// normalizeSlashes converts backslashes to the canonical wire separator and
// strips any leading separator.
func normalizeSlashes(s string) string {
	s = strings.ReplaceAll(s, "\\", "/")
	return strings.TrimPrefix(s, "/")
}
