package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("classified error keeps its kind through wrapping", func(t *testing.T) {
		base := New(KindUserRejected, "wallet.connect", "")
		wrapped := fmt.Errorf("login: %w", base)

		assert.Equal(t, KindUserRejected, KindOf(wrapped))
		assert.True(t, Is(wrapped, KindUserRejected))
		assert.False(t, Is(wrapped, KindNetworkError))
	})

	t.Run("unclassified error is a network error", func(t *testing.T) {
		assert.Equal(t, KindNetworkError, KindOf(errors.New("dial tcp: refused")))
	})
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("nonce too low")
	err := Wrap(cause, KindTransactionFailed, "transaction.submit", "submission failed")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "nonce too low")
	assert.Nil(t, Wrap(nil, KindTransactionFailed, "op", "msg"))
}

func TestUserMessage(t *testing.T) {
	hash := common.HexToHash("0xabc")

	t.Run("includes transaction hash when present", func(t *testing.T) {
		err := New(KindConfirmationTimeout, "transaction.wait", "").WithTxHash(hash)
		msg := UserMessage(err)

		assert.Contains(t, msg, "still pending")
		assert.Contains(t, msg, hash.Hex())
	})

	t.Run("never leaks raw provider text", func(t *testing.T) {
		err := Wrap(errors.New("internal json-rpc error -32603"), KindNetworkError, "wallet.request", "")
		assert.Equal(t, KindNetworkError.DefaultMessage(), UserMessage(err))
	})

	t.Run("unknown outcome is not reported as failure", func(t *testing.T) {
		assert.True(t, KindConfirmationTimeout.IsUnknownOutcome())
		assert.False(t, KindTransactionFailed.IsUnknownOutcome())
	})
}

func TestTxHashOf(t *testing.T) {
	_, ok := TxHashOf(New(KindTransactionFailed, "op", ""))
	assert.False(t, ok)

	hash := common.HexToHash("0x01")
	got, ok := TxHashOf(fmt.Errorf("outer: %w", New(KindTransactionFailed, "op", "").WithTxHash(hash)))
	require.True(t, ok)
	assert.Equal(t, hash, got)
}
