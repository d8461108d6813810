package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path's base name for ext, adding ext when
// the name has none. Dot files such as ".env" are treated as extension-less.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir := filepath.Dir(path)
	name := filepath.Base(path)
	if lastDot := strings.LastIndex(name, "."); lastDot > 0 {
		name = name[:lastDot]
	}
	return filepath.Join(dir, name+ext)
}

// CleanExt returns the lower-cased extension of an untrusted file name, or ""
// when the extension contains anything but letters and digits.
func CleanExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}
