package session

import (
	"testing"

	"guardian/pkg/platform/sentinel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher(t *testing.T) {
	c, err := NewCipher([]byte("operator secret"))
	require.NoError(t, err)

	sealed, err := c.Seal([]byte("payload"), []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, recordVersion, sealed[0])

	t.Run("same secret opens", func(t *testing.T) {
		again, err := NewCipher([]byte("operator secret"))
		require.NoError(t, err)
		plain, err := again.Open(sealed, []byte("k1"))
		require.NoError(t, err)
		assert.Equal(t, "payload", string(plain))
	})

	t.Run("bound to its key", func(t *testing.T) {
		_, err := c.Open(sealed, []byte("k2"))
		assert.ErrorIs(t, err, sentinel.ErrCorrupt)
	})

	t.Run("unknown version", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[0] = 9
		_, err := c.Open(bad, []byte("k1"))
		assert.ErrorIs(t, err, sentinel.ErrCorrupt)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := c.Open(sealed[:5], []byte("k1"))
		assert.ErrorIs(t, err, sentinel.ErrCorrupt)
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := NewCipher(nil)
		assert.Error(t, err)
	})
}

func TestDecodeRecordRejectsMalformed(t *testing.T) {
	_, err := decodeRecord([]byte(`{"id":"not-a-uuid","display_name":"x","role":"officer","auth_type":"email"}`))
	assert.ErrorIs(t, err, sentinel.ErrCorrupt)

	lower := `{"id":"7f1d4a52-3b9c-4c7e-9e59-0d6a1f0c2b11","display_name":"x","role":"officer","auth_type":"wallet","address":"0xab8483f64d9c6d1ecf9b849ae677dd3315835cb2"}`
	_, err = decodeRecord([]byte(lower))
	assert.ErrorIs(t, err, sentinel.ErrCorrupt)

	_, err = decodeRecord([]byte(`{`))
	assert.ErrorIs(t, err, sentinel.ErrCorrupt)
}
