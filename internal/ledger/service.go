// Package ledger exposes the evidence and case operations. Every write is
// permission-checked against the current session and runs through the
// transaction executor; every read goes straight to the contract gateway.
package ledger

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"guardian/internal/auth/models"
	"guardian/internal/contracts"
	"guardian/internal/transaction"
	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"

	"github.com/ethereum/go-ethereum/common"
)

// Authorizer yields the current user if they hold a permission.
type Authorizer interface {
	Authorize(ctx context.Context, p domain.Permission) (*models.AuthenticatedUser, error)
}

type Executor interface {
	Execute(ctx context.Context, call transaction.Call) (*transaction.Outcome, error)
}

// Gateway is the contract surface the service needs.
type Gateway interface {
	UploadEvidence(ctx context.Context, cid, hash, description string, caseID *big.Int, opts contracts.TxOptions) (*contracts.PendingTx, error)
	FileFIR(ctx context.Context, firNumber, description, location string, opts contracts.TxOptions) (*contracts.PendingTx, error)
	CreateCase(ctx context.Context, caseNumber, description string, investigator common.Address, opts contracts.TxOptions) (*contracts.PendingTx, error)
	TransferCustody(ctx context.Context, evidenceID *big.Int, recipient common.Address, notes string, opts contracts.TxOptions) (*contracts.PendingTx, error)
	GrantCaseAccess(ctx context.Context, caseID *big.Int, user common.Address, opts contracts.TxOptions) (*contracts.PendingTx, error)
	RevokeCaseAccess(ctx context.Context, caseID *big.Int, user common.Address, opts contracts.TxOptions) (*contracts.PendingTx, error)
	AssignRole(ctx context.Context, user common.Address, role domain.Role, opts contracts.TxOptions) (*contracts.PendingTx, error)
	RevokeRole(ctx context.Context, user common.Address, opts contracts.TxOptions) (*contracts.PendingTx, error)

	GetEvidence(ctx context.Context, evidenceID *big.Int) (*contracts.Evidence, error)
	GetCaseDetails(ctx context.Context, caseID *big.Int) (*contracts.CaseDetails, error)
	GetCustodyHistory(ctx context.Context, evidenceID *big.Int) ([]contracts.CustodyEntry, error)
	HasCaseAccess(ctx context.Context, caseID *big.Int, user common.Address) (bool, error)
}

type Service struct {
	auth     Authorizer
	executor Executor
	gateway  Gateway
	logger   *slog.Logger
	opts     contracts.TxOptions
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTxOptions applies opts to every write.
func WithTxOptions(opts contracts.TxOptions) Option {
	return func(s *Service) {
		s.opts = opts
	}
}

func New(auth Authorizer, executor Executor, gateway Gateway, opts ...Option) *Service {
	s := &Service{auth: auth, executor: executor, gateway: gateway}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadEvidence hashes the content, validates or derives its CID and
// records it on the ledger.
func (s *Service) UploadEvidence(ctx context.Context, req UploadRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.auth.Authorize(ctx, domain.PermEvidenceUpload); err != nil {
		return nil, err
	}

	var cidStr string
	if strings.TrimSpace(req.CID) == "" {
		c, err := ContentCID(req.Content)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive content identifier")
		}
		cidStr = c.String()
	} else {
		c, err := ParseCID(req.CID)
		if err != nil {
			return nil, err
		}
		if !MatchesCID(c, req.Content) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "content does not match the supplied content identifier")
		}
		cidStr = c.String()
	}
	caseID := req.CaseID
	if caseID == nil {
		caseID = new(big.Int)
	}
	hash := HashContent(req.Content)

	return s.write(ctx, contracts.MethodUploadEvidence, contracts.EventEvidenceUploaded, "evidenceId",
		func(ctx context.Context) (*contracts.PendingTx, error) {
			return s.gateway.UploadEvidence(ctx, cidStr, hash, strings.TrimSpace(req.Description), caseID, s.opts)
		})
}

// FileFIR records a first information report.
func (s *Service) FileFIR(ctx context.Context, number, description, location string) (*Result, error) {
	if strings.TrimSpace(number) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "FIR number required")
	}
	if strings.TrimSpace(description) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "description required")
	}
	if _, err := s.auth.Authorize(ctx, domain.PermFIRFile); err != nil {
		return nil, err
	}
	return s.write(ctx, contracts.MethodFileFIR, contracts.EventFIRFiled, "",
		func(ctx context.Context) (*contracts.PendingTx, error) {
			return s.gateway.FileFIR(ctx, strings.TrimSpace(number), description, location, s.opts)
		})
}

// CreateCase opens a case with investigator assigned.
func (s *Service) CreateCase(ctx context.Context, number, description string, investigator common.Address) (*Result, error) {
	if strings.TrimSpace(number) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "case number required")
	}
	if investigator == (common.Address{}) {
		return nil, dErrors.New(dErrors.CodeValidation, "investigator address required")
	}
	if _, err := s.auth.Authorize(ctx, domain.PermCaseCreate); err != nil {
		return nil, err
	}
	return s.write(ctx, contracts.MethodCreateCase, contracts.EventCaseCreated, "caseId",
		func(ctx context.Context) (*contracts.PendingTx, error) {
			return s.gateway.CreateCase(ctx, strings.TrimSpace(number), description, investigator, s.opts)
		})
}

// TransferCustody hands evidence to recipient.
func (s *Service) TransferCustody(ctx context.Context, evidenceID *big.Int, recipient common.Address, notes string) (*Result, error) {
	if err := requireID(evidenceID, "evidence"); err != nil {
		return nil, err
	}
	if recipient == (common.Address{}) {
		return nil, dErrors.New(dErrors.CodeValidation, "recipient address required")
	}
	u, err := s.auth.Authorize(ctx, domain.PermCustodyTransfer)
	if err != nil {
		return nil, err
	}
	if u.Address != nil && *u.Address == recipient {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "cannot transfer custody to yourself")
	}
	return s.write(ctx, contracts.MethodTransferCustody, contracts.EventCustodyTransferred, "",
		func(ctx context.Context) (*contracts.PendingTx, error) {
			return s.gateway.TransferCustody(ctx, evidenceID, recipient, notes, s.opts)
		})
}

func (s *Service) GrantCaseAccess(ctx context.Context, caseID *big.Int, user common.Address) (*Result, error) {
	if err := s.checkAccessChange(ctx, caseID, user, domain.PermCaseAccessGrant); err != nil {
		return nil, err
	}
	return s.write(ctx, contracts.MethodGrantCaseAccess, contracts.EventCaseAccessGranted, "",
		func(ctx context.Context) (*contracts.PendingTx, error) {
			return s.gateway.GrantCaseAccess(ctx, caseID, user, s.opts)
		})
}

func (s *Service) RevokeCaseAccess(ctx context.Context, caseID *big.Int, user common.Address) (*Result, error) {
	if err := s.checkAccessChange(ctx, caseID, user, domain.PermCaseAccessRevoke); err != nil {
		return nil, err
	}
	return s.write(ctx, contracts.MethodRevokeCaseAccess, contracts.EventCaseAccessRevoked, "",
		func(ctx context.Context) (*contracts.PendingTx, error) {
			return s.gateway.RevokeCaseAccess(ctx, caseID, user, s.opts)
		})
}

func (s *Service) checkAccessChange(ctx context.Context, caseID *big.Int, user common.Address, p domain.Permission) error {
	if err := requireID(caseID, "case"); err != nil {
		return err
	}
	if user == (common.Address{}) {
		return dErrors.New(dErrors.CodeValidation, "user address required")
	}
	_, err := s.auth.Authorize(ctx, p)
	return err
}

// AssignRole writes role for user to the registry.
func (s *Service) AssignRole(ctx context.Context, user common.Address, role domain.Role) (*Result, error) {
	if user == (common.Address{}) {
		return nil, dErrors.New(dErrors.CodeValidation, "user address required")
	}
	if role.IsNone() || !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "assign a concrete role; use revoke to remove one")
	}
	if _, err := s.auth.Authorize(ctx, domain.PermRoleAssign); err != nil {
		return nil, err
	}
	return s.write(ctx, contracts.MethodAssignRole, contracts.EventRoleAssigned, "",
		func(ctx context.Context) (*contracts.PendingTx, error) {
			return s.gateway.AssignRole(ctx, user, role, s.opts)
		})
}

func (s *Service) RevokeRole(ctx context.Context, user common.Address) (*Result, error) {
	if user == (common.Address{}) {
		return nil, dErrors.New(dErrors.CodeValidation, "user address required")
	}
	if _, err := s.auth.Authorize(ctx, domain.PermRoleRevoke); err != nil {
		return nil, err
	}
	return s.write(ctx, contracts.MethodRevokeRole, contracts.EventRoleRevoked, "",
		func(ctx context.Context) (*contracts.PendingTx, error) {
			return s.gateway.RevokeRole(ctx, user, s.opts)
		})
}

// GetEvidence reads one evidence record.
func (s *Service) GetEvidence(ctx context.Context, evidenceID *big.Int) (*contracts.Evidence, error) {
	if err := requireID(evidenceID, "evidence"); err != nil {
		return nil, err
	}
	if _, err := s.auth.Authorize(ctx, domain.PermEvidenceRead); err != nil {
		return nil, err
	}
	ev, err := s.gateway.GetEvidence(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "evidence not found")
	}
	return ev, nil
}

// GetCase reads one case.
func (s *Service) GetCase(ctx context.Context, caseID *big.Int) (*contracts.CaseDetails, error) {
	if err := requireID(caseID, "case"); err != nil {
		return nil, err
	}
	if _, err := s.auth.Authorize(ctx, domain.PermCaseRead); err != nil {
		return nil, err
	}
	c, err := s.gateway.GetCaseDetails(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	return c, nil
}

// CustodyHistory returns the custody chain of an evidence item, oldest first.
func (s *Service) CustodyHistory(ctx context.Context, evidenceID *big.Int) ([]contracts.CustodyEntry, error) {
	if err := requireID(evidenceID, "evidence"); err != nil {
		return nil, err
	}
	if _, err := s.auth.Authorize(ctx, domain.PermEvidenceRead); err != nil {
		return nil, err
	}
	return s.gateway.GetCustodyHistory(ctx, evidenceID)
}

// HasCaseAccess reports whether user may see caseID.
func (s *Service) HasCaseAccess(ctx context.Context, caseID *big.Int, user common.Address) (bool, error) {
	if err := requireID(caseID, "case"); err != nil {
		return false, err
	}
	if _, err := s.auth.Authorize(ctx, domain.PermCaseRead); err != nil {
		return false, err
	}
	return s.gateway.HasCaseAccess(ctx, caseID, user)
}

// VerifyEvidence re-hashes content and compares it with the ledger record.
func (s *Service) VerifyEvidence(ctx context.Context, evidenceID *big.Int, content []byte) (*Verification, error) {
	ev, err := s.GetEvidence(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	actual := HashContent(content)
	v := &Verification{
		EvidenceID:   ev.ID,
		ExpectedHash: ev.Hash,
		ActualHash:   actual,
		HashMatches:  strings.EqualFold(ev.Hash, actual),
		CID:          ev.CID,
	}
	if c, err := ParseCID(ev.CID); err == nil {
		v.CIDMatches = MatchesCID(c, content)
	} else if s.logger != nil {
		s.logger.WarnContext(ctx, "ledger holds an unparseable content identifier", "evidence_id", ev.ID.String(), "cid", ev.CID)
	}
	return v, nil
}

// write runs one state-changing call. idArg names the event argument to
// report as Result.ID. On a revert or timeout the partial Result is
// returned alongside the error so the transaction hash is never lost.
func (s *Service) write(ctx context.Context, method, event, idArg string, submit func(context.Context) (*contracts.PendingTx, error)) (*Result, error) {
	outcome, err := s.executor.Execute(ctx, transaction.Call{Method: method, Event: event, Submit: submit})
	if outcome == nil {
		return nil, err
	}
	res := &Result{TxHash: outcome.TxHash}
	if outcome.Receipt != nil && outcome.Receipt.BlockNumber != nil {
		res.BlockNumber = outcome.Receipt.BlockNumber.Uint64()
	}
	if err != nil {
		res.Pending = outcome.Receipt == nil
		return res, err
	}
	if idArg != "" && outcome.Event != nil {
		if id, ok := outcome.Event.Uint(idArg); ok {
			res.ID = id
		}
	}
	return res, nil
}

func requireID(id *big.Int, what string) error {
	if id == nil || id.Sign() <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, what+" ID must be positive")
	}
	return nil
}
