package blenddeps

import (
	"path/filepath"
	"strings"
)

// Blender marks blend-file-relative paths with a leading "//"; they resolve
// against the directory containing the file that stores them. Stored paths
// may use either slash, regardless of the platform that saved the file.

const relMarker = "//"

func isRelativePath(raw string) bool {
	return strings.HasPrefix(raw, relMarker)
}

// resolvePath turns a raw stored path into an absolute one. Non-relative
// paths are used as-is (cleaned). An empty directory for a relative path is
// a resolution failure.
func resolvePath(raw, blendDir string) (string, error) {
	p := strings.ReplaceAll(raw, "\\", "/")
	if strings.HasPrefix(p, relMarker) {
		if blendDir == "" {
			return "", ErrPathResolution
		}
		return filepath.Join(blendDir, filepath.FromSlash(p[len(relMarker):])), nil
	}
	return filepath.Clean(filepath.FromSlash(p)), nil
}
