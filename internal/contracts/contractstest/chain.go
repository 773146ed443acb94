// Package contractstest simulates the ledger and registry contracts in
// memory. A Chain serves reads as a contracts.ChainReader and mines writes
// submitted through a wallettest provider.
package contractstest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"guardian/internal/contracts"
	"guardian/internal/wallet"
	"guardian/internal/wallet/wallettest"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	LedgerAddress   = common.HexToAddress("0x1ed9e2f3a9b84c0d5e6f708192a3b4c5d6e7f801")
	RegistryAddress = common.HexToAddress("0x4e9f0a1b2c3d4e5f60718293a4b5c6d7e8f90a12")
)

// Role values as stored by the registry.
const (
	RoleNone uint8 = iota
	RoleOfficer
	RoleForensic
	RoleLawyer
	RoleCourt
)

var errReverted = errors.New("execution reverted")

type evidence struct {
	cid, hash, description string
	caseID                 *big.Int
	uploader               common.Address
	timestamp              int64
	custodian              common.Address
}

type caseRecord struct {
	number, description string
	investigator        common.Address
	createdAt           int64
}

type custodyEntry struct {
	custodian common.Address
	timestamp int64
	notes     string
}

// Chain is an in-memory node running both contracts.
type Chain struct {
	mu sync.Mutex

	owner    common.Address
	roles    map[common.Address]uint8
	evidence []evidence
	cases    []caseRecord
	custody  map[uint64][]custodyEntry
	access   map[uint64]map[common.Address]bool
	firs     []string

	block    uint64
	nonce    uint64
	now      func() time.Time
	receipts map[common.Hash]*types.Receipt
	held     map[common.Hash]*types.Receipt
	hold     bool
	logs     []types.Log
	inject   []types.Log
	corrupt  bool
	callErr  error
	sendErr  error
}

// New deploys both contracts with owner as the registry owner.
func New(owner common.Address) *Chain {
	return &Chain{
		owner:    owner,
		roles:    map[common.Address]uint8{},
		custody:  map[uint64][]custodyEntry{},
		access:   map[uint64]map[common.Address]bool{},
		block:    1,
		now:      time.Now,
		receipts: map[common.Hash]*types.Receipt{},
		held:     map[common.Hash]*types.Receipt{},
	}
}

// Attach routes p's eth_sendTransaction into the chain.
func (c *Chain) Attach(p *wallettest.Provider) {
	p.OnSend(c.Send)
}

// SetRole writes a raw registry value, including values outside the
// canonical table.
func (c *Chain) SetRole(addr common.Address, role uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles[addr] = role
}

// Role returns the raw registry value for addr.
func (c *Chain) Role(addr common.Address) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roles[addr]
}

// SetClock fixes block timestamps.
func (c *Chain) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// HoldReceipts keeps mined receipts invisible until Release.
func (c *Chain) HoldReceipts(hold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = hold
}

// Release publishes held receipts.
func (c *Chain) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, r := range c.held {
		c.receipts[h] = r
		delete(c.held, h)
	}
}

// Advance mines n empty blocks.
func (c *Chain) Advance(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block += n
}

// InjectLog appends lg to the next mined receipt.
func (c *Chain) InjectLog(lg types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inject = append(c.inject, lg)
}

// CorruptNextReceipt truncates the data of every log the next transaction
// emits, leaving the receipt successful.
func (c *Chain) CorruptNextReceipt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corrupt = true
}

// FailCalls makes every read return err until called with nil.
func (c *Chain) FailCalls(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callErr = err
}

// FailSends makes every submission return err until called with nil.
func (c *Chain) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// EvidenceCount returns how many evidence items were recorded.
func (c *Chain) EvidenceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evidence)
}

// Send mines req in its own block. Failed authorization checks produce a
// receipt with status 0 rather than an error, as a real revert would.
func (c *Chain) Send(req wallet.TxRequest) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return common.Hash{}, c.sendErr
	}

	c.nonce++
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], c.nonce)
	hash := crypto.Keccak256Hash(n[:], req.From.Bytes(), req.Data)
	c.block++

	logs, err := c.execute(req)
	status := types.ReceiptStatusSuccessful
	if err != nil {
		status = types.ReceiptStatusFailed
		logs = nil
	}
	if c.corrupt {
		for i := range logs {
			logs[i].Data = logs[i].Data[:len(logs[i].Data)/3]
		}
		c.corrupt = false
	}
	logs = append(logs, c.inject...)
	c.inject = nil

	receipt := &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     uint64(req.Gas) / 2,
	}
	for i := range logs {
		logs[i].TxHash = hash
		logs[i].BlockNumber = c.block
		logs[i].Index = uint(i)
		lg := logs[i]
		receipt.Logs = append(receipt.Logs, &lg)
	}
	if status == types.ReceiptStatusSuccessful {
		c.logs = append(c.logs, logs...)
	}
	if c.hold {
		c.held[hash] = receipt
	} else {
		c.receipts[hash] = receipt
	}
	return hash, nil
}

func (c *Chain) execute(req wallet.TxRequest) ([]types.Log, error) {
	def, ok := c.abiFor(req.To)
	if !ok {
		return nil, nil
	}
	if len(req.Data) < 4 {
		return nil, errReverted
	}
	method, err := def.MethodById(req.Data[:4])
	if err != nil {
		return nil, errReverted
	}
	args, err := method.Inputs.Unpack(req.Data[4:])
	if err != nil {
		return nil, errReverted
	}
	from := req.From
	role := c.roles[from]
	isCourt := role == RoleCourt || from == c.owner

	switch method.Name {
	case contracts.MethodAssignRole:
		user, target := args[0].(common.Address), args[1].(uint8)
		if !isCourt || target == RoleNone || target > RoleCourt {
			return nil, errReverted
		}
		c.roles[user] = target
		return c.emit(contracts.RegistryABI, RegistryAddress, contracts.EventRoleAssigned, user, target, from), nil

	case contracts.MethodRevokeRole:
		user := args[0].(common.Address)
		if !isCourt {
			return nil, errReverted
		}
		delete(c.roles, user)
		return c.emit(contracts.RegistryABI, RegistryAddress, contracts.EventRoleRevoked, user, from), nil

	case contracts.MethodFileFIR:
		if role != RoleOfficer && !isCourt {
			return nil, errReverted
		}
		number := args[0].(string)
		c.firs = append(c.firs, number)
		return c.emit(contracts.LedgerABI, LedgerAddress, contracts.EventFIRFiled, from, number), nil

	case contracts.MethodCreateCase:
		if role != RoleOfficer && !isCourt {
			return nil, errReverted
		}
		investigator := args[2].(common.Address)
		c.cases = append(c.cases, caseRecord{
			number:       args[0].(string),
			description:  args[1].(string),
			investigator: investigator,
			createdAt:    c.now().Unix(),
		})
		id := uint64(len(c.cases))
		c.access[id] = map[common.Address]bool{investigator: true, from: true}
		return c.emit(contracts.LedgerABI, LedgerAddress, contracts.EventCaseCreated, new(big.Int).SetUint64(id), from), nil

	case contracts.MethodUploadEvidence:
		if role != RoleOfficer && role != RoleForensic && !isCourt {
			return nil, errReverted
		}
		caseID := args[3].(*big.Int)
		if caseID.Sign() != 0 && !c.caseExists(caseID) {
			return nil, errReverted
		}
		ts := c.now().Unix()
		c.evidence = append(c.evidence, evidence{
			cid:         args[0].(string),
			hash:        args[1].(string),
			description: args[2].(string),
			caseID:      caseID,
			uploader:    from,
			timestamp:   ts,
			custodian:   from,
		})
		id := uint64(len(c.evidence))
		c.custody[id] = []custodyEntry{{custodian: from, timestamp: ts, notes: "uploaded"}}
		return c.emit(contracts.LedgerABI, LedgerAddress, contracts.EventEvidenceUploaded, new(big.Int).SetUint64(id), from, args[0].(string)), nil

	case contracts.MethodTransferCustody:
		id, recipient, notes := args[0].(*big.Int), args[1].(common.Address), args[2].(string)
		ev := c.evidenceByID(id)
		if ev == nil || (ev.custodian != from && !isCourt) {
			return nil, errReverted
		}
		prev := ev.custodian
		ev.custodian = recipient
		c.custody[id.Uint64()] = append(c.custody[id.Uint64()], custodyEntry{custodian: recipient, timestamp: c.now().Unix(), notes: notes})
		return c.emit(contracts.LedgerABI, LedgerAddress, contracts.EventCustodyTransferred, id, prev, recipient), nil

	case contracts.MethodGrantCaseAccess, contracts.MethodRevokeCaseAccess:
		id, user := args[0].(*big.Int), args[1].(common.Address)
		if !isCourt || !c.caseExists(id) {
			return nil, errReverted
		}
		if method.Name == contracts.MethodGrantCaseAccess {
			c.access[id.Uint64()][user] = true
			return c.emit(contracts.LedgerABI, LedgerAddress, contracts.EventCaseAccessGranted, id, user), nil
		}
		delete(c.access[id.Uint64()], user)
		return c.emit(contracts.LedgerABI, LedgerAddress, contracts.EventCaseAccessRevoked, id, user), nil
	}
	return nil, errReverted
}

// CallContract serves view functions.
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callErr != nil {
		return nil, c.callErr
	}
	if msg.To == nil {
		return nil, nil
	}
	def, ok := c.abiFor(*msg.To)
	if !ok || len(msg.Data) < 4 {
		return nil, nil
	}
	method, err := def.MethodById(msg.Data[:4])
	if err != nil {
		return nil, errReverted
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, errReverted
	}

	var out []any
	switch method.Name {
	case contracts.MethodOwner:
		out = []any{c.owner}
	case contracts.MethodGetUserRole:
		out = []any{c.roles[args[0].(common.Address)]}
	case contracts.MethodHasRole:
		out = []any{c.roles[args[0].(common.Address)] == args[1].(uint8)}
	case contracts.MethodGetEvidence:
		ev := c.evidenceByID(args[0].(*big.Int))
		if ev == nil {
			return nil, errReverted
		}
		out = []any{ev.cid, ev.hash, ev.description, ev.caseID, ev.uploader, big.NewInt(ev.timestamp)}
	case contracts.MethodGetCaseDetails:
		id := args[0].(*big.Int)
		if !c.caseExists(id) {
			return nil, errReverted
		}
		cr := c.cases[id.Uint64()-1]
		out = []any{cr.number, cr.description, cr.investigator, big.NewInt(cr.createdAt), uint8(1)}
	case contracts.MethodGetCustodyHistory:
		id := args[0].(*big.Int)
		var (
			custodians []common.Address
			stamps     []*big.Int
			notes      []string
		)
		if id.IsUint64() {
			for _, e := range c.custody[id.Uint64()] {
				custodians = append(custodians, e.custodian)
				stamps = append(stamps, big.NewInt(e.timestamp))
				notes = append(notes, e.notes)
			}
		}
		out = []any{custodians, stamps, notes}
	case contracts.MethodHasCaseAccess:
		id, user := args[0].(*big.Int), args[1].(common.Address)
		out = []any{id.IsUint64() && c.access[id.Uint64()][user]}
	default:
		return nil, errReverted
	}
	return method.Outputs.Pack(out...)
}

func (c *Chain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Log
	for _, lg := range c.logs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, lg.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && (len(lg.Topics) == 0 || !containsHash(q.Topics[0], lg.Topics[0])) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

// TransactionReceipt returns ethereum.NotFound until the receipt is visible.
func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

func (c *Chain) abiFor(addr common.Address) (abi.ABI, bool) {
	switch addr {
	case LedgerAddress:
		return contracts.LedgerABI, true
	case RegistryAddress:
		return contracts.RegistryABI, true
	}
	return abi.ABI{}, false
}

func (c *Chain) caseExists(id *big.Int) bool {
	return id.IsUint64() && id.Uint64() >= 1 && id.Uint64() <= uint64(len(c.cases))
}

func (c *Chain) evidenceByID(id *big.Int) *evidence {
	if !id.IsUint64() || id.Uint64() < 1 || id.Uint64() > uint64(len(c.evidence)) {
		return nil
	}
	return &c.evidence[id.Uint64()-1]
}

// emit builds a log for the named event; values follow the event's input
// order.
func (c *Chain) emit(def abi.ABI, addr common.Address, name string, values ...any) []types.Log {
	lg, err := EncodeLog(def, addr, name, values...)
	if err != nil {
		panic(fmt.Sprintf("contractstest: %v", err))
	}
	return []types.Log{lg}
}

// EncodeLog builds a log for the named event with values in input order.
func EncodeLog(def abi.ABI, addr common.Address, name string, values ...any) (types.Log, error) {
	ev, ok := def.Events[name]
	if !ok {
		return types.Log{}, fmt.Errorf("unknown event %s", name)
	}
	if len(values) != len(ev.Inputs) {
		return types.Log{}, fmt.Errorf("%s: want %d values, got %d", name, len(ev.Inputs), len(values))
	}
	topics := []common.Hash{ev.ID}
	var data []any
	for i, in := range ev.Inputs {
		if !in.Indexed {
			data = append(data, values[i])
			continue
		}
		switch v := values[i].(type) {
		case *big.Int:
			topics = append(topics, common.BigToHash(v))
		case common.Address:
			topics = append(topics, common.BytesToHash(v.Bytes()))
		default:
			return types.Log{}, fmt.Errorf("%s: unsupported indexed value %T", name, v)
		}
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return types.Log{}, err
	}
	return types.Log{Address: addr, Topics: topics, Data: packed}, nil
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}
