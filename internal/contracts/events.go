package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DecodedLog is the result of decoding one receipt log: either Decoded or
// Unrecognized.
type DecodedLog interface {
	decodedLog()
}

// Decoded is a log matched to a known event signature.
type Decoded struct {
	Name     string
	Contract string
	Args     map[string]any
	Log      types.Log
}

// Unrecognized is a log no decoder accepted. It is data, not an error.
type Unrecognized struct {
	Log    types.Log
	Reason string
}

func (Decoded) decodedLog()      {}
func (Unrecognized) decodedLog() {}

// Uint returns a uint256 argument.
func (d Decoded) Uint(name string) (*big.Int, bool) {
	v, ok := d.Args[name].(*big.Int)
	return v, ok
}

// Uint8 returns a uint8 argument.
func (d Decoded) Uint8(name string) (uint8, bool) {
	v, ok := d.Args[name].(uint8)
	return v, ok
}

// Address returns an address argument.
func (d Decoded) Address(name string) (common.Address, bool) {
	v, ok := d.Args[name].(common.Address)
	return v, ok
}

// String returns a string argument.
func (d Decoded) String(name string) (string, bool) {
	v, ok := d.Args[name].(string)
	return v, ok
}

type decoder struct {
	contract string
	address  common.Address
	event    abi.Event
}

// Decoders maps event signatures (topic 0) to their ABI definitions.
type Decoders struct {
	byTopic map[common.Hash]decoder
}

// NewDecoders returns an empty registry.
func NewDecoders() *Decoders {
	return &Decoders{byTopic: map[common.Hash]decoder{}}
}

// Register adds every event of contract. When address is non-zero, logs
// emitted by any other address are left unrecognized.
func (d *Decoders) Register(contract string, address common.Address, def abi.ABI) {
	for _, ev := range def.Events {
		d.byTopic[ev.ID] = decoder{contract: contract, address: address, event: ev}
	}
}

// DefaultDecoders registers the ledger and registry events at their
// deployed addresses.
func DefaultDecoders(ledger, registry common.Address) *Decoders {
	d := NewDecoders()
	d.Register("ledger", ledger, LedgerABI)
	d.Register("registry", registry, RegistryABI)
	return d
}

// Decode attempts to decode lg. It never fails: any problem yields
// Unrecognized with the reason.
func (d *Decoders) Decode(lg types.Log) DecodedLog {
	if len(lg.Topics) == 0 {
		return Unrecognized{Log: lg, Reason: "anonymous log"}
	}
	dec, ok := d.byTopic[lg.Topics[0]]
	if !ok {
		return Unrecognized{Log: lg, Reason: "unknown event signature"}
	}
	if dec.address != (common.Address{}) && lg.Address != dec.address {
		return Unrecognized{Log: lg, Reason: fmt.Sprintf("%s emitted by foreign contract %s", dec.event.Name, lg.Address.Hex())}
	}

	var indexed abi.Arguments
	for _, arg := range dec.event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(lg.Topics)-1 != len(indexed) {
		return Unrecognized{Log: lg, Reason: fmt.Sprintf("%s: expected %d indexed topics, got %d", dec.event.Name, len(indexed), len(lg.Topics)-1)}
	}

	args := map[string]any{}
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return Unrecognized{Log: lg, Reason: fmt.Sprintf("%s topics: %v", dec.event.Name, err)}
	}
	if err := dec.event.Inputs.NonIndexed().UnpackIntoMap(args, lg.Data); err != nil {
		return Unrecognized{Log: lg, Reason: fmt.Sprintf("%s data: %v", dec.event.Name, err)}
	}
	return Decoded{Name: dec.event.Name, Contract: dec.contract, Args: args, Log: lg}
}

// DecodeAll decodes every log in order.
func (d *Decoders) DecodeAll(logs []*types.Log) []DecodedLog {
	out := make([]DecodedLog, 0, len(logs))
	for _, lg := range logs {
		if lg == nil {
			continue
		}
		out = append(out, d.Decode(*lg))
	}
	return out
}

// First returns the first decoded event called name.
func First(logs []DecodedLog, name string) (Decoded, bool) {
	for _, l := range logs {
		if dec, ok := l.(Decoded); ok && dec.Name == name {
			return dec, true
		}
	}
	return Decoded{}, false
}

// CountUnrecognized returns how many entries are Unrecognized.
func CountUnrecognized(logs []DecodedLog) int {
	n := 0
	for _, l := range logs {
		if _, ok := l.(Unrecognized); ok {
			n++
		}
	}
	return n
}

// Topic returns the signature hash of a known event, for filters and tests.
func Topic(name string) common.Hash {
	if ev, ok := LedgerABI.Events[name]; ok {
		return ev.ID
	}
	if ev, ok := RegistryABI.Events[name]; ok {
		return ev.ID
	}
	return common.Hash{}
}
