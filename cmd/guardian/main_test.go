package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"guardian/internal/ledger"
	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"
	"guardian/pkg/failure"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := rootCommand()

	for _, path := range [][]string{
		{"login"},
		{"login-wallet"},
		{"evidence", "upload"},
		{"evidence", "verify"},
		{"case", "create"},
		{"fir", "file"},
		{"custody", "transfer"},
		{"access", "grant"},
		{"role", "assign"},
		{"network", "switch"},
		{"audit", "materialize"},
	} {
		t.Run(fmt.Sprint(path), func(t *testing.T) {
			cmd, _, err := root.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], cmd.Name())
		})
	}

	flag := root.PersistentFlags().Lookup("json")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestDescribeError(t *testing.T) {
	t.Run("classified failures use the user message", func(t *testing.T) {
		hash := common.HexToHash("0xbeef")
		err := fmt.Errorf("upload: %w", failure.New(failure.KindConfirmationTimeout, "transaction.wait", "").WithTxHash(hash))
		msg := describeError(err)
		assert.Contains(t, msg, "still pending")
		assert.Contains(t, msg, hash.Hex())
	})

	t.Run("domain errors show their message only", func(t *testing.T) {
		err := dErrors.New(dErrors.CodeForbidden, "role Legal Counsel may not perform evidence.upload")
		assert.Equal(t, "role Legal Counsel may not perform evidence.upload", describeError(err))
	})

	t.Run("anything else is printed as is", func(t *testing.T) {
		assert.Equal(t, "open evidence.jpg: no such file", describeError(errors.New("open evidence.jpg: no such file")))
	})
}

func TestParseArgs(t *testing.T) {
	id, err := parseID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.Int64())

	for _, bad := range []string{"0", "-3", "abc", ""} {
		_, err := parseID(bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), bad)
	}

	role, err := parseRole("Forensic")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleForensic, role)

	_, err = parseRole("sheriff")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, "Evidence", &ledger.Result{TxHash: common.HexToHash("0x01"), Pending: true})
	assert.Contains(t, buf.String(), "confirmation pending")

	buf.Reset()
	printResult(&buf, "Case", nil)
	assert.Empty(t, buf.String())
}
