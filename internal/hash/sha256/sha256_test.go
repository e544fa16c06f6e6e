package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", got)
}

func TestRecordID_Stable(t *testing.T) {
	t.Parallel()

	a := RecordID("https://agency.gov/tender/123", "RFP-42", "Waterproofing Coating")
	b := RecordID("https://agency.gov/tender/123", "RFP-42", "Waterproofing Coating")
	require.Equal(t, a, b)
	require.Len(t, a, 16)
}

func TestRecordID_DistinguishesInputs(t *testing.T) {
	t.Parallel()

	base := RecordID("https://agency.gov/tender/123", "RFP-42", "Waterproofing")
	require.NotEqual(t, base, RecordID("https://agency.gov/tender/124", "RFP-42", "Waterproofing"))
	require.NotEqual(t, base, RecordID("https://agency.gov/tender/123", "RFP-43", "Waterproofing"))
	require.NotEqual(t, base, RecordID("https://agency.gov/tender/123", "RFP-42", "Roofing"))
}

func TestRecordID_TruncatesLongTitles(t *testing.T) {
	t.Parallel()

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	prefix := string(long[:100])

	require.Equal(t,
		RecordID("https://agency.gov/t", "", prefix),
		RecordID("https://agency.gov/t", "", string(long)),
	)
}
