package segmenter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSegments_GSM7(t *testing.T) {
	seg := NewDefaultSegmenter()

	parts, ucs2, err := seg.GetSegments(strings.Repeat("a", 160))
	require.NoError(t, err)
	assert.False(t, ucs2)
	assert.Len(t, parts, 1)

	parts, _, err = seg.GetSegments(strings.Repeat("a", 161))
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, 153, len(parts[0]))
	assert.Equal(t, 8, len(parts[1]))
}

func TestGetSegments_ExtensionCharsCountDouble(t *testing.T) {
	seg := NewDefaultSegmenter()

	// 80 euro signs = 160 septets, still one part
	parts, ucs2, err := seg.GetSegments(strings.Repeat("€", 80))
	require.NoError(t, err)
	assert.False(t, ucs2)
	assert.Len(t, parts, 1)

	parts, _, err = seg.GetSegments(strings.Repeat("€", 81))
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestGetSegments_UCS2(t *testing.T) {
	seg := NewDefaultSegmenter()

	parts, ucs2, err := seg.GetSegments(strings.Repeat("ж", 71))
	require.NoError(t, err)
	assert.True(t, ucs2)
	require.Len(t, parts, 2)
	assert.Equal(t, 67, Length(parts[0]))
	assert.Equal(t, 4, Length(parts[1]))
}

func TestGetSegments_Empty(t *testing.T) {
	parts, ucs2, err := NewDefaultSegmenter().GetSegments("")
	require.NoError(t, err)
	assert.False(t, ucs2)
	assert.Equal(t, []string{""}, parts)
}

func TestRequiresUCS2(t *testing.T) {
	assert.False(t, RequiresUCS2("Hello {name}, your code is 1234!"))
	assert.True(t, RequiresUCS2("Webale nnyo 🙏"))
}

func TestSplit(t *testing.T) {
	assert.Nil(t, Split("", 10))
	assert.Equal(t, []string{"abc", "def", "g"}, Split("abcdefg", 3))
	assert.Equal(t, []string{"ééé", "éé"}, Split("ééééé", 3))
	assert.Equal(t, []string{"abc"}, Split("abc", 0))
}
