package s3

import (
	"strings"
)

// normalizePrefixComponent forces a non-empty prefix component into the
// "name/" form with no leading slash.
func normalizePrefixComponent(c string) string {
	c = strings.Trim(c, "/")
	if c == "" {
		return ""
	}
	return c + "/"
}

// basePrefix is rootPrefix + defaultFolder, each normalized to end in a
// slash.
func (d *Driver) basePrefix() string {
	return normalizePrefixComponent(d.cfg.RootPrefix) + normalizePrefixComponent(d.cfg.DefaultFolder)
}

// keyFor maps a logical sub-path to the object key under the effective
// prefix. Directory sub-paths keep their trailing slash, so the returned key
// is a directory marker key for them.
func (d *Driver) keyFor(subPath string) string {
	return d.basePrefix() + strings.TrimPrefix(subPath, "/")
}

// subPathFor maps an object key back to the logical sub-path, preserving any
// trailing slash.
func (d *Driver) subPathFor(key string) string {
	return "/" + strings.TrimPrefix(key, d.basePrefix())
}
