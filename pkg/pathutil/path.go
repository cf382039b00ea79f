// Package pathutil provides canonicalization helpers for logical paths.
//
// A logical path is absolute, slash-delimited, and UTF-8; a trailing slash
// distinguishes a directory reference from a file reference. All helpers are
// pure string functions and never touch I/O.
package pathutil

import (
	"strings"

	"github.com/wukibaka/cloudpaste/pkg/errors"
)

// Root is the canonical root directory path.
const Root = "/"

// Normalize produces the canonical form of a logical path: it ensures a
// leading slash, collapses runs of slashes, and appends a trailing slash when
// the caller declares the reference is a directory. Paths containing ".."
// segments are rejected.
//
// Example usage:
//
//	p, err := pathutil.Normalize("//docs//report.pdf", false)
//	// p == "/docs/report.pdf"
func Normalize(path string, isDir bool) (string, error) {
	if path == "" {
		path = Root
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	// Collapse runs of slashes and drop empty segments.
	segments := make([]string, 0, 8)
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return "", errors.Newf(errors.KindBadRequest, "path %q contains parent traversal", path)
		}
		segments = append(segments, seg)
	}

	if len(segments) == 0 {
		return Root, nil
	}

	out := "/" + strings.Join(segments, "/")
	if isDir || strings.HasSuffix(path, "/") {
		out += "/"
	}
	return out, nil
}

// IsDirRef reports whether the path references a directory.
func IsDirRef(path string) bool {
	return path == Root || strings.HasSuffix(path, "/")
}

// ParentOf returns the parent directory of path, always with a trailing
// slash. The parent of the root is the root.
func ParentOf(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if trimmed == "" {
		return Root
	}
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return Root
	}
	return trimmed[:idx+1]
}

// Basename returns the final segment of path, without any trailing slash.
// The basename of the root is the empty string.
func Basename(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if trimmed == "" {
		return ""
	}
	idx := strings.LastIndex(trimmed, "/")
	return trimmed[idx+1:]
}

// Join concatenates two path fragments with exactly one slash between them.
// The trailing-slash form of b is preserved.
func Join(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return strings.TrimSuffix(a, "/") + "/" + strings.TrimPrefix(b, "/")
}

// IsAncestorOf reports whether dir (a directory path) is a strict ancestor of
// path. The root is an ancestor of every other path.
func IsAncestorOf(dir, path string) bool {
	if !IsDirRef(dir) || dir == path {
		return false
	}
	if dir == Root {
		return path != Root
	}
	return strings.HasPrefix(path, dir)
}
