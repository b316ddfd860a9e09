package assets

import (
	"fmt"
	"strconv"
	"strings"

	"clipstitch/internal/services"
)

// ByteRange is an inclusive byte span within a file.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered.
func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ContentRange formats the Content-Range header value for a file of size.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// RangeError reports an unsatisfiable or malformed range request.
type RangeError struct {
	Size   int64
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: %s", services.ErrRangeNotSatisfiable, e.Reason)
}

// Unwrap exposes the range marker to errors.Is.
func (e *RangeError) Unwrap() error { return services.ErrRangeNotSatisfiable }

// ParseRange parses a single-range Range header against a file of size.
// An empty header yields ok=false and no error. Ends past the file are
// clamped; multi-range and malformed headers are rejected.
func ParseRange(header string, size int64) (ByteRange, bool, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ByteRange{}, false, nil
	}
	fail := func(reason string) (ByteRange, bool, error) {
		return ByteRange{}, false, &RangeError{Size: size, Reason: reason}
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return fail("unsupported range unit")
	}
	if strings.Contains(spec, ",") {
		return fail("multiple ranges are not supported")
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return fail("missing '-'")
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if first == "" {
		// Suffix form: the final n bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return fail("invalid suffix length")
		}
		if size == 0 {
			return fail("empty file")
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, End: size - 1}, true, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return fail("invalid start")
	}
	if start >= size {
		return fail(fmt.Sprintf("start %d beyond size %d", start, size))
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return fail("invalid end")
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return ByteRange{Start: start, End: end}, true, nil
}
