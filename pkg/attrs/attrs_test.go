package attrs

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestExtractString(t *testing.T) {
	addr := common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	kv := []any{"user_id", "u-1", "address", addr, "chain_id", uint64(5), "dangling"}

	assert.Equal(t, "u-1", ExtractString(kv, "user_id"))
	assert.Equal(t, addr.Hex(), ExtractString(kv, "address"))
	assert.Empty(t, ExtractString(kv, "chain_id"))
	assert.Empty(t, ExtractString(kv, "dangling"))
}

func TestToMap(t *testing.T) {
	kv := []any{"user_id", "u-1", "chain_id", uint64(5), 7, "ignored"}

	assert.Equal(t, map[string]string{"chain_id": "5"}, ToMap(kv, "user_id"))
	assert.Nil(t, ToMap(nil))
}
