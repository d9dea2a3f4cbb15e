package endpoint

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// errorKind is the classification assigned to a failed getLogs call. The
// table is deliberately substring-based: upstream RPC nodes disagree on
// error shapes and this is the only thing that holds across providers.
type errorKind int

const (
	kindUnknown errorKind = iota
	kindRangeTooWide
	kindInvalidParamsWithHint
	kindInvalidParamsNoHint
	kindResponseTooLarge
	kindRateLimited
	kindTimeout
)

type classification struct {
	kind          errorKind
	maxBlockHint  uint64 // parsed from a "range is too wide; max N" message
	hasBlockHint  bool
	rangeLo       uint64 // parsed from "Try with this block range [0x.., 0x..]"
	rangeHi       uint64
	hasRangeHint  bool
}

var blockRangeRe = regexp.MustCompile(`\[0x([0-9a-fA-F]+),\s*0x([0-9a-fA-F]+)\]`)

// classify inspects err's message (and, for timeouts, err's type) and
// returns the deterministic response the endpoint should take.
func classify(err error) classification {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return classification{kind: kindTimeout}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "block range is too wide"), strings.Contains(lower, "range is too large"):
		c := classification{kind: kindRangeTooWide}
		if n, ok := parseBlockHint(msg); ok {
			c.maxBlockHint = n
			c.hasBlockHint = true
		}
		return c

	case strings.Contains(lower, "response size should not greater than"), strings.Contains(lower, "response size exceed"):
		return classification{kind: kindResponseTooLarge}

	case strings.Contains(lower, "invalid params"):
		if m := blockRangeRe.FindStringSubmatch(msg); m != nil {
			lo, errLo := strconv.ParseUint(m[1], 16, 64)
			hi, errHi := strconv.ParseUint(m[2], 16, 64)
			if errLo == nil && errHi == nil {
				return classification{kind: kindInvalidParamsWithHint, rangeLo: lo, rangeHi: hi, hasRangeHint: true}
			}
		}
		return classification{kind: kindInvalidParamsNoHint}

	case strings.Contains(lower, "rate limit exceeded"):
		return classification{kind: kindRateLimited}

	default:
		return classification{kind: kindUnknown}
	}
}

// parseBlockHint scans a message for the first numeric token, accepting a
// trailing "k" suffix as a x1000 multiplier (e.g. "max 5k" -> 5000).
func parseBlockHint(msg string) (uint64, bool) {
	for _, word := range strings.Fields(msg) {
		word = strings.Trim(word, ".,;:")
		mult := uint64(1)
		if strings.HasSuffix(word, "k") {
			mult = 1000
			word = strings.TrimSuffix(word, "k")
		}
		word = strings.ReplaceAll(word, ",", "")
		if word == "" {
			continue
		}
		if n, err := strconv.ParseUint(word, 10, 64); err == nil {
			return n * mult, true
		}
	}
	return 0, false
}
