// Package utils provides small, generic helpers shared across layers.
// Nothing here knows about creators, chats, or HTTP.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or not a
// valid integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageParams normalizes raw page and per-page query values into safe
// pagination inputs. Pages start at 1; sizes are clamped to [1, maxSize].
func PageParams(rawPage, rawSize string, defSize, maxSize int) (page, size int) {
	page = AtoiDefault(rawPage, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(rawSize, defSize)
	if size < 1 {
		size = defSize
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	return page, size
}

// TotalPages returns the page count for total items at the given page size.
// A zero or negative size yields 0 to avoid division surprises.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	n := total / int64(size)
	if total%int64(size) != 0 {
		n++
	}
	return int(n)
}
