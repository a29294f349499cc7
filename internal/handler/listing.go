package handler

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// listDirectory enumerates root and returns paths relative to it, using
// forward slashes. The two flags are independent: includeDirs controls
// whether subdirectories appear in the result, recursive controls whether
// they are descended into. The extension filter applies to files only;
// directory entries always pass it.
func listDirectory(root string, includeDirs, recursive bool, extension string) ([]string, error) {
	entries := []string{}
	if err := listInto(&entries, root, "", includeDirs, recursive, extension); err != nil {
		return nil, err
	}

	return entries, nil
}

func listInto(out *[]string, root, prefix string, includeDirs, recursive bool, extension string) error {
	dirents, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(prefix)))
	if err != nil {
		return err
	}

	for _, dirent := range dirents {
		rel := path.Join(prefix, dirent.Name())

		if dirent.IsDir() {
			if includeDirs {
				*out = append(*out, rel)
			}
			if recursive {
				if err := listInto(out, root, rel, includeDirs, recursive, extension); err != nil {
					// subdirectory vanished or became unreadable, skip it
					continue
				}
			}
			continue
		}

		if matchesExtension(dirent.Name(), extension) {
			*out = append(*out, rel)
		}
	}

	return nil
}

func matchesExtension(name, extension string) bool {
	if extension == "" {
		return true
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}

	return strings.EqualFold(path.Ext(name), extension)
}
