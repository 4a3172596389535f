package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const bytesUnitPrefix = "bytes="

// ErrUnsatisfiableRange indicates a recognized but invalid byte-range
// request, surfaced to clients as HTTP 416.
var ErrUnsatisfiableRange = errors.New("server: unsatisfiable byte range")

// ByteRange is a resolved, inclusive byte span within a buffer.
type ByteRange struct {
	Start int
	End   int
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() int {
	return r.End - r.Start + 1
}

// ContentRange renders the Content-Range header value for a buffer of the
// given total size.
func (r ByteRange) ContentRange(size int) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ResolveRange maps a Range header onto a buffer of size bytes. An absent
// header, or one that is not recognized as a bytes= range at all, resolves
// to the full buffer with status 200. A recognized header resolves to a
// partial span with status 206 when 0 <= start <= end < size, where an
// omitted start defaults to 0 and an omitted end to size-1. Anything else
// that was recognized but does not satisfy those bounds is an
// ErrUnsatisfiableRange with status 416.
func ResolveRange(header string, size int) (ByteRange, int, error) {
	if !strings.HasPrefix(header, bytesUnitPrefix) {
		return ByteRange{Start: 0, End: size - 1}, http.StatusOK, nil
	}

	spec := strings.TrimPrefix(header, bytesUnitPrefix)
	startText, endText, found := strings.Cut(spec, "-")
	if !found {
		return ByteRange{}, http.StatusRequestedRangeNotSatisfiable, ErrUnsatisfiableRange
	}

	start := 0
	end := size - 1
	if startText != "" {
		parsed, err := strconv.Atoi(startText)
		if err != nil {
			return ByteRange{}, http.StatusRequestedRangeNotSatisfiable, ErrUnsatisfiableRange
		}
		start = parsed
	}
	if endText != "" {
		parsed, err := strconv.Atoi(endText)
		if err != nil {
			return ByteRange{}, http.StatusRequestedRangeNotSatisfiable, ErrUnsatisfiableRange
		}
		end = parsed
	}

	if start < 0 || end < start || end >= size {
		return ByteRange{}, http.StatusRequestedRangeNotSatisfiable, ErrUnsatisfiableRange
	}

	return ByteRange{Start: start, End: end}, http.StatusPartialContent, nil
}
