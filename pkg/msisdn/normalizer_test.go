package msisdn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUganda(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New("ug")
	require.NoError(t, err)
	require.Equal(t, "256", n.CountryCode)
	return n
}

func TestNormalize_UgandaForms(t *testing.T) {
	n := newUganda(t)

	for _, raw := range []string{
		"0701234567",
		"+256701234567",
		"701234567",
		"256701234567",
		"00256701234567",
		" +256 (70) 123-4567 ",
	} {
		t.Run(raw, func(t *testing.T) {
			got, err := n.Normalize(raw)
			require.NoError(t, err)
			assert.Equal(t, "+256701234567", got)
		})
	}
}

func TestNormalize_Rejections(t *testing.T) {
	n := newUganda(t)

	tests := []struct {
		raw  string
		want error
	}{
		{"", ErrEmpty},
		{"abc", ErrEmpty},
		{"12345", ErrTooShort},
		{"+254712345678", ErrWrongCountry},
		{"+447911123456", ErrWrongCountry},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := n.Normalize(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var rej *RejectError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.raw, rej.Raw)
		})
	}
}

func TestNormalize_OutputIsCountryPrefixedOrRejected(t *testing.T) {
	n := newUganda(t)

	for _, raw := range []string{"0701234567", "0772123456", "0391234567", "07", "0abc", "0999999999"} {
		got, err := n.Normalize(raw)
		if err != nil {
			assert.Empty(t, got)
			continue
		}
		assert.True(t, strings.HasPrefix(got, "+256"), "got %q for %q", got, raw)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := newUganda(t)

	for _, raw := range []string{"0701234567", "701234567", "256772123456"} {
		once, err := n.Normalize(raw)
		require.NoError(t, err)
		twice, err := n.Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestNormalizeAll_ScenarioWithDedupLeftToCaller(t *testing.T) {
	n := newUganda(t)

	valid, rejected := n.NormalizeAll([]string{"0701234567", "+256701234567", "701234567", "abc", "256701234567"})

	assert.Equal(t, []string{"+256701234567", "+256701234567", "+256701234567", "+256701234567"}, valid)
	require.Len(t, rejected, 1)
	assert.Equal(t, "abc", rejected[0].Raw)

	unique := map[string]struct{}{}
	for _, v := range valid {
		unique[v] = struct{}{}
	}
	assert.Len(t, unique, 1)
}

func TestNew_UnknownRegion(t *testing.T) {
	_, err := New("ZZ")
	assert.Error(t, err)
}
