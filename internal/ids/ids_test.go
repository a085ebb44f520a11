package ids

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	got := make([]string, 50)
	for i := range got {
		got[i] = NewAt(at)
	}
	assert.True(t, sort.StringsAreSorted(got))
	assert.Len(t, got[0], 26)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(New()))
	assert.True(t, Valid("01HX0000000000000000000001"))
	assert.False(t, Valid("org-1"))
	assert.False(t, Valid(""))
}

func TestCreatedAt(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	ts, ok := CreatedAt(NewAt(at))
	require.True(t, ok)
	assert.True(t, ts.Equal(at))

	_, ok = CreatedAt("nope")
	assert.False(t, ok)
}
