package utils

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSplitLines is a function.
func TestSplitLines(t *testing.T) {
	type scenario struct {
		multilineString string
		expected        []string
	}

	scenarios := []scenario{
		{
			"",
			[]string{},
		},
		{
			"\n",
			[]string{},
		},
		{
			"bootstrap\nupdate\n",
			[]string{
				"bootstrap",
				"update",
			},
		},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, SplitLines(s.multilineString))
	}
}

func TestNormalizeLinefeeds(t *testing.T) {
	assert.Equal(t, "a\nb\nc", NormalizeLinefeeds("a\r\nb\rc"))
}

func TestMax(t *testing.T) {
	assert.Equal(t, 5, Max(5, 3))
	assert.Equal(t, 5, Max(3, 5))
}

func TestSafeTruncate(t *testing.T) {
	assert.Equal(t, "hel", SafeTruncate("hello", 3))
	assert.Equal(t, "hi", SafeTruncate("hi", 10))
}

func TestFormatBinaryBytes(t *testing.T) {
	assert.Equal(t, "0B", FormatBinaryBytes(0))
	assert.Equal(t, "512.00B", FormatBinaryBytes(512))
	assert.Equal(t, "1.00KiB", FormatBinaryBytes(1024))
}

func TestFormatMap(t *testing.T) {
	assert.Equal(t, "none\n", FormatMap(0, nil))
	assert.Equal(t, "\nbar: 2\nfoo: 1\n", FormatMap(0, map[string]string{"foo": "1", "bar": "2"}))
}

type closer struct{ err error }

func (c closer) Close() error { return c.err }

func TestCloseMany(t *testing.T) {
	assert.NoError(t, CloseMany(nil))

	boom := errors.New("boom")
	err := CloseMany([]io.Closer{closer{nil}, closer{boom}})
	assert.Error(t, err)
}
