// Package contracts is the typed façade over the evidence ledger and role
// registry contracts. Reads go through a read-only ChainReader; writes go
// through the wallet's signer and return a pending handle for the
// transaction executor.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"guardian/internal/wallet"
	"guardian/pkg/domain"
	"guardian/pkg/failure"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// ChainReader is the read-only node surface. *ethclient.Client satisfies it.
type ChainReader interface {
	ethereum.ContractCaller
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Sender submits transactions from the connected signer. *wallet.Manager
// satisfies it.
type Sender interface {
	SendTransaction(ctx context.Context, req wallet.TxRequest) (common.Hash, error)
}

// TxOptions tunes a single write. A zero GasLimit selects the per-call
// ceiling.
type TxOptions struct {
	GasLimit uint64
}

// PendingTx is a submitted, not yet confirmed transaction.
type PendingTx struct {
	Hash        common.Hash
	Method      string
	From        common.Address
	Epoch       uint64
	StartBlock  uint64
	SubmittedAt time.Time
}

// Evidence is the ledger's view of one evidence item.
type Evidence struct {
	ID          *big.Int
	CID         string
	Hash        string
	Description string
	CaseID      *big.Int
	Uploader    common.Address
	Timestamp   time.Time
}

// CaseDetails is the ledger's view of one case.
type CaseDetails struct {
	ID           *big.Int
	CaseNumber   string
	Description  string
	Investigator common.Address
	CreatedAt    time.Time
	Status       uint8
}

// CustodyEntry is one hop in an evidence item's chain of custody.
type CustodyEntry struct {
	Custodian common.Address
	Timestamp time.Time
	Notes     string
}

// Gateway implements the contract call surface.
type Gateway struct {
	reader   ChainReader
	sender   Sender
	conn     *wallet.Connection
	ledger   common.Address
	registry common.Address
	gas      map[string]uint64
	decoders *Decoders
	now      func() time.Time
}

type Option func(*Gateway)

// WithGasLimits overrides per-method ceilings.
func WithGasLimits(limits map[string]uint64) Option {
	return func(g *Gateway) {
		for k, v := range limits {
			if v > 0 {
				g.gas[k] = v
			}
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New builds a Gateway. conn is the shared wallet connection whose signer
// every write requires.
func New(reader ChainReader, sender Sender, conn *wallet.Connection, ledger, registry common.Address, opts ...Option) *Gateway {
	g := &Gateway{
		reader:   reader,
		sender:   sender,
		conn:     conn,
		ledger:   ledger,
		registry: registry,
		gas:      map[string]uint64{},
		decoders: DefaultDecoders(ledger, registry),
		now:      time.Now,
	}
	for k, v := range DefaultGasLimits {
		g.gas[k] = v
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reader returns the read-only chain connection.
func (g *Gateway) Reader() ChainReader {
	return g.reader
}

// Decoders returns the event decoder registry for the deployed contracts.
func (g *Gateway) Decoders() *Decoders {
	return g.decoders
}

// GasLimit returns the ceiling applied to method when opts leaves it zero.
func (g *Gateway) GasLimit(method string, opts TxOptions) uint64 {
	if opts.GasLimit > 0 {
		return opts.GasLimit
	}
	return g.gas[method]
}

// ---- writes ----------------------------------------------------------------

func (g *Gateway) UploadEvidence(ctx context.Context, cid, hash, description string, caseID *big.Int, opts TxOptions) (*PendingTx, error) {
	return g.transact(ctx, g.ledger, LedgerABI, MethodUploadEvidence, opts, cid, hash, description, orZero(caseID))
}

func (g *Gateway) FileFIR(ctx context.Context, firNumber, description, location string, opts TxOptions) (*PendingTx, error) {
	return g.transact(ctx, g.ledger, LedgerABI, MethodFileFIR, opts, firNumber, description, location)
}

func (g *Gateway) CreateCase(ctx context.Context, caseNumber, description string, investigator common.Address, opts TxOptions) (*PendingTx, error) {
	return g.transact(ctx, g.ledger, LedgerABI, MethodCreateCase, opts, caseNumber, description, investigator)
}

func (g *Gateway) TransferCustody(ctx context.Context, evidenceID *big.Int, recipient common.Address, notes string, opts TxOptions) (*PendingTx, error) {
	return g.transact(ctx, g.ledger, LedgerABI, MethodTransferCustody, opts, orZero(evidenceID), recipient, notes)
}

func (g *Gateway) GrantCaseAccess(ctx context.Context, caseID *big.Int, user common.Address, opts TxOptions) (*PendingTx, error) {
	return g.transact(ctx, g.ledger, LedgerABI, MethodGrantCaseAccess, opts, orZero(caseID), user)
}

func (g *Gateway) RevokeCaseAccess(ctx context.Context, caseID *big.Int, user common.Address, opts TxOptions) (*PendingTx, error) {
	return g.transact(ctx, g.ledger, LedgerABI, MethodRevokeCaseAccess, opts, orZero(caseID), user)
}

func (g *Gateway) AssignRole(ctx context.Context, user common.Address, role domain.Role, opts TxOptions) (*PendingTx, error) {
	if !role.IsValid() || role.IsNone() {
		return nil, failure.New(failure.KindTransactionFailed, "contracts.assignRole", "Choose a role to assign.")
	}
	return g.transact(ctx, g.registry, RegistryABI, MethodAssignRole, opts, user, role.ChainValue())
}

func (g *Gateway) RevokeRole(ctx context.Context, user common.Address, opts TxOptions) (*PendingTx, error) {
	return g.transact(ctx, g.registry, RegistryABI, MethodRevokeRole, opts, user)
}

// transact checks the signer before any network traffic, then packs and
// submits the call.
func (g *Gateway) transact(ctx context.Context, to common.Address, def abi.ABI, method string, opts TxOptions, args ...any) (*PendingTx, error) {
	op := "contracts." + method
	signer, epoch, err := g.conn.Signer()
	if err != nil {
		return nil, err
	}
	data, err := def.Pack(method, args...)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindTransactionFailed, op, "The request could not be encoded.")
	}
	start, err := g.reader.BlockNumber(ctx)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindNetworkError, op, "")
	}

	hash, err := g.sender.SendTransaction(ctx, wallet.TxRequest{
		From: signer.Address,
		To:   to,
		Data: data,
		Gas:  hexutil.Uint64(g.GasLimit(method, opts)),
	})
	if err != nil {
		return nil, submissionFailed(op, err)
	}
	return &PendingTx{
		Hash:        hash,
		Method:      method,
		From:        signer.Address,
		Epoch:       epoch,
		StartBlock:  start,
		SubmittedAt: g.now(),
	}, nil
}

// submissionFailed keeps user and precondition kinds and folds everything
// else into TransactionFailed.
func submissionFailed(op string, err error) error {
	classified := wallet.Classify(err, op)
	switch failure.KindOf(classified) {
	case failure.KindUserRejected, failure.KindSignerRequired, failure.KindProviderUnavailable, failure.KindWrongNetwork:
		return classified
	}
	return failure.Wrap(err, failure.KindTransactionFailed, op, "The transaction could not be submitted.")
}

// ---- reads -----------------------------------------------------------------

// GetEvidence returns nil when the id does not exist.
func (g *Gateway) GetEvidence(ctx context.Context, evidenceID *big.Int) (*Evidence, error) {
	out, err := g.call(ctx, g.ledger, LedgerABI, MethodGetEvidence, orZero(evidenceID))
	if errors.Is(err, errReverted) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, unexpectedShape(MethodGetEvidence, out)
	}
	ev := &Evidence{
		ID:          orZero(evidenceID),
		CID:         asString(out[0]),
		Hash:        asString(out[1]),
		Description: asString(out[2]),
		CaseID:      asBig(out[3]),
		Uploader:    asAddress(out[4]),
		Timestamp:   unixTime(asBig(out[5])),
	}
	if ev.Uploader == (common.Address{}) && ev.CID == "" {
		return nil, nil
	}
	return ev, nil
}

// GetCaseDetails returns nil when the case does not exist.
func (g *Gateway) GetCaseDetails(ctx context.Context, caseID *big.Int) (*CaseDetails, error) {
	out, err := g.call(ctx, g.ledger, LedgerABI, MethodGetCaseDetails, orZero(caseID))
	if errors.Is(err, errReverted) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(out) != 5 {
		return nil, unexpectedShape(MethodGetCaseDetails, out)
	}
	status, _ := out[4].(uint8)
	c := &CaseDetails{
		ID:           orZero(caseID),
		CaseNumber:   asString(out[0]),
		Description:  asString(out[1]),
		Investigator: asAddress(out[2]),
		CreatedAt:    unixTime(asBig(out[3])),
		Status:       status,
	}
	if c.CaseNumber == "" && c.Investigator == (common.Address{}) {
		return nil, nil
	}
	return c, nil
}

// GetCustodyHistory returns the ordered chain of custody. Unknown ids yield
// an empty history.
func (g *Gateway) GetCustodyHistory(ctx context.Context, evidenceID *big.Int) ([]CustodyEntry, error) {
	out, err := g.call(ctx, g.ledger, LedgerABI, MethodGetCustodyHistory, orZero(evidenceID))
	if errors.Is(err, errReverted) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, unexpectedShape(MethodGetCustodyHistory, out)
	}
	custodians, _ := out[0].([]common.Address)
	stamps, _ := out[1].([]*big.Int)
	notes, _ := out[2].([]string)
	if len(custodians) != len(stamps) || len(custodians) != len(notes) {
		return nil, failure.New(failure.KindNetworkError, "contracts."+MethodGetCustodyHistory,
			"The custody history returned by the ledger is inconsistent.")
	}
	entries := make([]CustodyEntry, len(custodians))
	for i := range custodians {
		entries[i] = CustodyEntry{Custodian: custodians[i], Timestamp: unixTime(stamps[i]), Notes: notes[i]}
	}
	return entries, nil
}

func (g *Gateway) HasCaseAccess(ctx context.Context, caseID *big.Int, user common.Address) (bool, error) {
	out, err := g.call(ctx, g.ledger, LedgerABI, MethodHasCaseAccess, orZero(caseID), user)
	if errors.Is(err, errReverted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return firstBool(out), nil
}

// GetUserRole reads the registry role. Values outside the canonical table
// fail with RoleSyncFailed.
func (g *Gateway) GetUserRole(ctx context.Context, user common.Address) (domain.Role, error) {
	out, err := g.call(ctx, g.registry, RegistryABI, MethodGetUserRole, user)
	if err != nil {
		return domain.RoleNone, failure.Wrap(err, failure.KindRoleSyncFailed, "contracts."+MethodGetUserRole, "")
	}
	if len(out) != 1 {
		return domain.RoleNone, unexpectedShape(MethodGetUserRole, out)
	}
	v, _ := out[0].(uint8)
	role, err := domain.RoleFromChain(v)
	if err != nil {
		return domain.RoleNone, failure.Wrap(err, failure.KindRoleSyncFailed, "contracts."+MethodGetUserRole, "")
	}
	return role, nil
}

func (g *Gateway) HasRole(ctx context.Context, user common.Address, role domain.Role) (bool, error) {
	out, err := g.call(ctx, g.registry, RegistryABI, MethodHasRole, user, role.ChainValue())
	if errors.Is(err, errReverted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return firstBool(out), nil
}

// Owner returns the registry owner address.
func (g *Gateway) Owner(ctx context.Context) (common.Address, error) {
	out, err := g.call(ctx, g.registry, RegistryABI, MethodOwner)
	if err != nil {
		return common.Address{}, failure.Wrap(err, failure.KindRoleSyncFailed, "contracts."+MethodOwner, "")
	}
	if len(out) != 1 {
		return common.Address{}, unexpectedShape(MethodOwner, out)
	}
	return asAddress(out[0]), nil
}

var errReverted = errors.New("call reverted")

// call packs, executes and unpacks a read. Reverts come back as errReverted;
// transport errors as NetworkError.
func (g *Gateway) call(ctx context.Context, to common.Address, def abi.ABI, method string, args ...any) ([]any, error) {
	op := "contracts." + method
	data, err := def.Pack(method, args...)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindNetworkError, op, "The request could not be encoded.")
	}
	raw, err := g.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%s: %w", op, errReverted)
		}
		return nil, failure.Wrap(err, failure.KindNetworkError, op, "")
	}
	if len(raw) == 0 {
		// No code at the address or an empty return: treated like a revert.
		return nil, fmt.Errorf("%s: empty return: %w", op, errReverted)
	}
	out, err := def.Unpack(method, raw)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindNetworkError, op, "The ledger returned malformed data.")
	}
	return out, nil
}

// revertErrorCode is the JSON-RPC code nodes attach to execution reverts.
const revertErrorCode = 3

// isRevert matches execution reverts only. Other coded node errors (rate
// limits, missing headers, internal errors) are transport failures.
func isRevert(err error) bool {
	var re rpc.Error
	if errors.As(err, &re) && re.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.HasPrefix(err.Error(), "execution reverted")
}

func unexpectedShape(method string, out []any) error {
	return failure.New(failure.KindNetworkError, "contracts."+method,
		fmt.Sprintf("The ledger returned %d values for %s.", len(out), method))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBig(v any) *big.Int {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b
	}
	return new(big.Int)
}

func asAddress(v any) common.Address {
	a, _ := v.(common.Address)
	return a
}

func firstBool(out []any) bool {
	if len(out) == 0 {
		return false
	}
	b, _ := out[0].(bool)
	return b
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

// FilterEvents returns decoded occurrences of the named event between
// fromBlock and toBlock (nil means latest). Logs that fail to decode are
// dropped and counted in the second return value.
func (g *Gateway) FilterEvents(ctx context.Context, name string, fromBlock, toBlock *big.Int) ([]Decoded, int, error) {
	topic := Topic(name)
	if topic == (common.Hash{}) {
		return nil, 0, fmt.Errorf("unknown event %q", name)
	}
	addr := g.ledger
	if _, ok := RegistryABI.Events[name]; ok {
		addr = g.registry
	}
	logs, err := g.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return nil, 0, failure.Wrap(err, failure.KindNetworkError, "contracts.filterEvents", "")
	}
	out := make([]Decoded, 0, len(logs))
	skipped := 0
	for _, lg := range logs {
		switch dec := g.decoders.Decode(lg).(type) {
		case Decoded:
			out = append(out, dec)
		default:
			skipped++
		}
	}
	return out, skipped, nil
}

// EvidenceUploads lists EvidenceUploaded events since fromBlock.
func (g *Gateway) EvidenceUploads(ctx context.Context, fromBlock *big.Int) ([]Decoded, error) {
	out, _, err := g.FilterEvents(ctx, EventEvidenceUploaded, fromBlock, nil)
	return out, err
}

// RoleAssignments lists RoleAssigned events since fromBlock.
func (g *Gateway) RoleAssignments(ctx context.Context, fromBlock *big.Int) ([]Decoded, error) {
	out, _, err := g.FilterEvents(ctx, EventRoleAssigned, fromBlock, nil)
	return out, err
}
