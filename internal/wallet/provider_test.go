package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"guardian/pkg/failure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gethStyleError struct{ code int }

func (e gethStyleError) Error() string  { return "rpc failure" }
func (e gethStyleError) ErrorCode() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind failure.Kind
	}{
		{"user rejected", &RPCError{Code: CodeUserRejected}, failure.KindUserRejected},
		{"unauthorized", &RPCError{Code: CodeUnauthorized}, failure.KindUserRejected},
		{"request pending", &RPCError{Code: CodeRequestPending}, failure.KindUserRejected},
		{"unrecognized chain", &RPCError{Code: CodeUnrecognizedChain}, failure.KindWrongNetwork},
		{"disconnected", &RPCError{Code: CodeDisconnected}, failure.KindProviderUnavailable},
		{"unsupported", &RPCError{Code: CodeUnsupportedMethod}, failure.KindProviderUnavailable},
		{"out of set code", &RPCError{Code: -32000}, failure.KindNetworkError},
		{"wrapped geth error", fmt.Errorf("call: %w", gethStyleError{code: CodeUserRejected}), failure.KindUserRejected},
		{"plain error", errors.New("connection reset"), failure.KindNetworkError},
		{"deadline", context.DeadlineExceeded, failure.KindNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, failure.KindOf(Classify(tt.err, "op")))
		})
	}

	t.Run("classified errors pass through", func(t *testing.T) {
		orig := failure.New(failure.KindSignerRequired, "x", "")
		assert.Same(t, orig, Classify(orig, "op"))
	})
	assert.NoError(t, Classify(nil, "op"))
}

func TestDecodeAccounts(t *testing.T) {
	got, err := DecodeAccounts(json.RawMessage(`["0x5b38da6a701c568545dcfcb03fcb875f56beddc4","junk"]`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4", got[0].Hex())

	_, err = DecodeAccounts(json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestDecodeQuantity(t *testing.T) {
	v, err := DecodeQuantity(json.RawMessage(`"0x7a69"`))
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), v)

	_, err = DecodeQuantity(json.RawMessage(`"31337"`))
	assert.Error(t, err)
}
