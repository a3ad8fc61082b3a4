package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestIsKeyOrderIndependent(t *testing.T) {
	a, err := DigestRaw([]byte(`{"b":2,"a":1,"nested":{"y":"2","x":"1"}}`))
	require.NoError(t, err)
	b, err := DigestRaw([]byte(`{"a":1,"nested":{"x":"1","y":"2"},"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDigestMatchesDigestRaw(t *testing.T) {
	v := map[string]any{"module": "orders", "fields": []any{"a", "b"}}
	fromValue, err := Digest(v)
	require.NoError(t, err)
	fromRaw, err := DigestRaw([]byte(`{"fields":["a","b"],"module":"orders"}`))
	require.NoError(t, err)
	assert.Equal(t, fromRaw, fromValue)
}

func TestDigestDistinguishesValues(t *testing.T) {
	a, err := Digest(map[string]any{"k": 1})
	require.NoError(t, err)
	b, err := Digest(map[string]any{"k": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDigestRawRejectsInvalidJSON(t *testing.T) {
	_, err := DigestRaw([]byte(`{not json`))
	require.Error(t, err)
}
