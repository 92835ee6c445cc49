package proxy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedRange is returned for Range headers that cannot be parsed.
	ErrMalformedRange = errors.New("malformed range header")

	// ErrRangeNotSatisfiable is returned when the requested window lies
	// outside the resource, or when more than one range is requested.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// RangeSpec is a resolved byte window within a resource of known length.
// Invariant: 0 <= Start <= End < Total.
type RangeSpec struct {
	Start int64
	End   int64
	Total int64
}

// Length returns the number of bytes covered by the window.
func (r RangeSpec) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange renders the Content-Range value for a 206 response.
func (r RangeSpec) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

// UnsatisfiableContentRange renders the Content-Range value for a 416 response.
func UnsatisfiableContentRange(total int64) string {
	return fmt.Sprintf("bytes */%d", total)
}

// ParseRange resolves a client Range header against a known resource length.
// A missing header returns (nil, nil): full-resource mode. Only a single
// bytes range is supported; multiple ranges and windows starting past the
// end of the resource are unsatisfiable. When the end bound is omitted it
// defaults to start+defaultChunkSize-1, so an open-ended request never pins
// an unbounded transfer. All end bounds are clamped to total-1.
func ParseRange(header string, total, defaultChunkSize int64) (*RangeSpec, error) {
	if header == "" {
		return nil, nil
	}

	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}

	if strings.Contains(raw, ",") {
		return nil, fmt.Errorf("%w: multiple ranges in %q", ErrRangeNotSatisfiable, header)
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}

	// Suffix form "bytes=-N" addresses the final N bytes.
	if startStr == "" {
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
		if total <= 0 {
			return nil, fmt.Errorf("%w: empty resource", ErrRangeNotSatisfiable)
		}
		start := total - suffix
		if start < 0 {
			start = 0
		}
		return &RangeSpec{Start: start, End: total - 1, Total: total}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}

	if start >= total {
		return nil, fmt.Errorf("%w: start %d beyond length %d", ErrRangeNotSatisfiable, start, total)
	}

	var end int64
	if endStr == "" {
		if defaultChunkSize <= 0 {
			end = total - 1
		} else {
			end = start + defaultChunkSize - 1
		}
	} else {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
	}

	if end > total-1 {
		end = total - 1
	}

	return &RangeSpec{Start: start, End: end, Total: total}, nil
}
