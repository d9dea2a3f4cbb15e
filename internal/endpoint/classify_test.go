package endpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyRangeTooWideWithHint(t *testing.T) {
	c := classify(errors.New("block range is too wide, max is 5k blocks"))
	require.Equal(t, kindRangeTooWide, c.kind)
	require.True(t, c.hasBlockHint)
	require.Equal(t, uint64(5000), c.maxBlockHint)
}

func TestClassifyRangeTooLargeNoHint(t *testing.T) {
	c := classify(errors.New("query returned more than range is too large for this provider"))
	require.Equal(t, kindRangeTooWide, c.kind)
	require.False(t, c.hasBlockHint)
}

func TestClassifyInvalidParamsWithBlockRangeHint(t *testing.T) {
	c := classify(errors.New("invalid params: Try with this block range [0x1, 0x64]"))
	require.Equal(t, kindInvalidParamsWithHint, c.kind)
	require.True(t, c.hasRangeHint)
	require.Equal(t, uint64(1), c.rangeLo)
	require.Equal(t, uint64(100), c.rangeHi)
}

func TestClassifyInvalidParamsWithoutHint(t *testing.T) {
	c := classify(errors.New("invalid params"))
	require.Equal(t, kindInvalidParamsNoHint, c.kind)
}

func TestClassifyResponseTooLarge(t *testing.T) {
	c := classify(errors.New("response size should not greater than 10mb"))
	require.Equal(t, kindResponseTooLarge, c.kind)
}

func TestClassifyRateLimited(t *testing.T) {
	c := classify(errors.New("429: rate limit exceeded"))
	require.Equal(t, kindRateLimited, c.kind)
}

func TestClassifyTimeout(t *testing.T) {
	c := classify(context.DeadlineExceeded)
	require.Equal(t, kindTimeout, c.kind)
}

func TestClassifyUnknown(t *testing.T) {
	c := classify(errors.New("connection reset by peer"))
	require.Equal(t, kindUnknown, c.kind)
}

func TestParseBlockHintCommaSeparated(t *testing.T) {
	n, ok := parseBlockHint("max allowed is 10,000 blocks")
	require.True(t, ok)
	require.Equal(t, uint64(10000), n)
}
