// Package wallet manages the connection to an EIP-1193 style wallet provider:
// account access, the active signer, network checks and out-of-band
// account/chain change notifications.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"guardian/pkg/failure"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Provider methods used by this package.
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	MethodBlockNumber     = "eth_blockNumber"
	MethodSendTransaction = "eth_sendTransaction"
	MethodSwitchChain     = "wallet_switchEthereumChain"
	MethodAddChain        = "wallet_addEthereumChain"
)

// Provider error codes. This set is closed: any other code is a network error.
const (
	CodeUserRejected       = 4001
	CodeUnauthorized       = 4100
	CodeUnsupportedMethod  = 4200
	CodeDisconnected       = 4900
	CodeChainDisconnected  = 4901
	CodeUnrecognizedChain  = 4902
	CodeRequestPending     = -32002
	CodeInternalJSONRPC    = -32603
	CodeInvalidParams      = -32602
	CodeMethodNotSupported = -32601
)

// RPCError is a provider error carrying a numeric code.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ErrorCode satisfies go-ethereum's rpc.Error so bridge errors round-trip.
func (e *RPCError) ErrorCode() int {
	return e.Code
}

// codedError matches RPCError and go-ethereum rpc errors alike.
type codedError interface {
	error
	ErrorCode() int
}

// CodeOf returns the provider code carried by err, if any.
func CodeOf(err error) (int, bool) {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.ErrorCode(), true
	}
	return 0, false
}

// Classify maps a raw provider error into the failure taxonomy.
// Already classified errors pass through unchanged.
func Classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := failure.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failure.Wrap(err, failure.KindNetworkError, op, "")
	}
	code, ok := CodeOf(err)
	if !ok {
		return failure.Wrap(err, failure.KindNetworkError, op, "")
	}
	switch code {
	case CodeUserRejected:
		return failure.Wrap(err, failure.KindUserRejected, op, "")
	case CodeUnauthorized:
		return failure.Wrap(err, failure.KindUserRejected, op, "The wallet has not authorized this site.")
	case CodeRequestPending:
		return failure.Wrap(err, failure.KindUserRejected, op, "A wallet request is already pending. Open the wallet to continue.")
	case CodeUnrecognizedChain:
		return failure.Wrap(err, failure.KindWrongNetwork, op, "The wallet does not know the required network.")
	case CodeDisconnected, CodeChainDisconnected:
		return failure.Wrap(err, failure.KindProviderUnavailable, op, "The wallet is disconnected.")
	case CodeUnsupportedMethod, CodeMethodNotSupported:
		return failure.Wrap(err, failure.KindProviderUnavailable, op, "The wallet does not support this request.")
	default:
		return failure.Wrap(err, failure.KindNetworkError, op, "")
	}
}

// NotificationKind distinguishes provider notifications.
type NotificationKind string

const (
	NotifyAccountsChanged NotificationKind = "accounts"
	NotifyChainChanged    NotificationKind = "chain"
)

// Notification is an out-of-band change reported by the provider.
type Notification struct {
	Kind     NotificationKind
	Accounts []common.Address
	ChainID  uint64
}

// Listener receives provider notifications on the provider's goroutine.
type Listener func(Notification)

// Provider is an EIP-1193 style wallet.
type Provider interface {
	// Request sends a JSON-RPC request and returns the raw result.
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	// OnChange registers l for account and chain notifications. The returned
	// func unregisters it.
	OnChange(l Listener) (stop func())
}

// TxRequest is the eth_sendTransaction parameter object.
type TxRequest struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Gas   hexutil.Uint64 `json:"gas"`
	Value *hexutil.Big   `json:"value,omitempty"`
}

// AddChainParams is the wallet_addEthereumChain parameter object.
type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

// DecodeAccounts parses an accounts result, dropping malformed entries.
func DecodeAccounts(raw json.RawMessage) ([]common.Address, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	out := make([]common.Address, 0, len(list))
	for _, s := range list {
		if !common.IsHexAddress(s) {
			continue
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

// DecodeQuantity parses a hex quantity result such as eth_chainId.
func DecodeQuantity(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("decode quantity: %w", err)
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("decode quantity %q: %w", s, err)
	}
	return v, nil
}
