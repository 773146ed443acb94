package ledger_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"guardian/internal/auth/models"
	"guardian/internal/contracts"
	"guardian/internal/contracts/contractstest"
	"guardian/internal/ledger"
	"guardian/internal/platform/config"
	"guardian/internal/platform/logger"
	"guardian/internal/transaction"
	"guardian/internal/wallet"
	"guardian/internal/wallet/wallettest"
	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"
	"guardian/pkg/failure"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
)

var (
	owner     = common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	officer   = common.HexToAddress("0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2")
	forensics = common.HexToAddress("0x4B20993Bc481177ec7E8f571ceCaE8A9e22C02db")
)

var local = config.Network{ChainID: 31337, Name: "Localhost", RPCURL: "http://127.0.0.1:8545", CurrencySymbol: "ETH", Decimals: 18}

// sessionAuth authorizes against a fixed user.
type sessionAuth struct {
	user *models.AuthenticatedUser
}

func (a *sessionAuth) Authorize(_ context.Context, p domain.Permission) (*models.AuthenticatedUser, error) {
	if a.user == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "sign in first")
	}
	if !a.user.Can(p) {
		return nil, dErrors.New(dErrors.CodeForbidden, "forbidden")
	}
	return a.user, nil
}

type LedgerSuite struct {
	suite.Suite
	ctx      context.Context
	chain    *contractstest.Chain
	provider *wallettest.Provider
	manager  *wallet.Manager
	auth     *sessionAuth
	service  *ledger.Service
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.chain = contractstest.New(owner)
	s.chain.SetRole(officer, contractstest.RoleOfficer)
	s.chain.SetRole(forensics, contractstest.RoleForensic)
	s.provider = wallettest.New(local.ChainID, officer)
	s.chain.Attach(s.provider)
	s.manager = wallet.NewManager(s.provider, wallet.WithLogger(logger.Discard()))
	s.Require().NoError(s.manager.Subscribe(nil, nil))
	_, err := s.manager.Connect(s.ctx)
	s.Require().NoError(err)

	gateway := contracts.New(s.chain, s.manager, s.manager.Connection(),
		contractstest.LedgerAddress, contractstest.RegistryAddress)
	executor := transaction.New(wallet.NewNetworkGuard(s.manager, local), s.manager.Connection(), s.chain,
		gateway.Decoders(), config.Transaction{
			ConfirmationTimeout:   time.Second,
			MaxConfirmationBlocks: 50,
			PollInterval:          5 * time.Millisecond,
		}, transaction.WithLogger(logger.Discard()))

	s.auth = &sessionAuth{user: s.user(officer, domain.RoleOfficer)}
	s.service = ledger.New(s.auth, executor, gateway, ledger.WithLogger(logger.Discard()))
}

func (s *LedgerSuite) user(addr common.Address, role domain.Role) *models.AuthenticatedUser {
	a := addr
	return &models.AuthenticatedUser{
		ID:          domain.NewUserID(),
		DisplayName: models.ShortAddress(addr),
		Role:        role,
		Address:     &a,
		AuthType:    models.AuthTypeWallet,
	}
}

func (s *LedgerSuite) createCase() *big.Int {
	res, err := s.service.CreateCase(s.ctx, "CASE-1", "burglary", officer)
	s.Require().NoError(err)
	s.Require().NotNil(res.ID)
	return res.ID
}

func (s *LedgerSuite) TestUploadEvidence() {
	caseID := s.createCase()
	content := []byte("photo bytes")

	s.Run("derives the CID and records the hash", func() {
		res, err := s.service.UploadEvidence(s.ctx, ledger.UploadRequest{
			Content:     content,
			Description: "front door",
			CaseID:      caseID,
		})
		s.Require().NoError(err)
		s.Equal(int64(1), res.ID.Int64())
		s.NotEqual(common.Hash{}, res.TxHash)

		ev, err := s.service.GetEvidence(s.ctx, res.ID)
		s.Require().NoError(err)
		s.Equal(ledger.HashContent(content), ev.Hash)
		want, err := ledger.ContentCID(content)
		s.Require().NoError(err)
		s.Equal(want.String(), ev.CID)
		s.Equal(officer, ev.Uploader)
	})

	s.Run("supplied CID must match the content", func() {
		other, err := ledger.ContentCID([]byte("something else"))
		s.Require().NoError(err)

		_, err = s.service.UploadEvidence(s.ctx, ledger.UploadRequest{
			Content:     content,
			CID:         other.String(),
			Description: "mismatch",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		s.Equal(1, s.chain.EvidenceCount())
	})

	s.Run("undecodable receipt log still reports success", func() {
		s.chain.CorruptNextReceipt()
		res, err := s.service.UploadEvidence(s.ctx, ledger.UploadRequest{
			Content:     []byte("garbled receipt"),
			Description: "window",
			CaseID:      caseID,
		})
		s.Require().NoError(err)
		s.NotEqual(common.Hash{}, res.TxHash)
		s.Nil(res.ID)
		s.False(res.Pending)
	})

	s.Run("malformed CID", func() {
		_, err := s.service.UploadEvidence(s.ctx, ledger.UploadRequest{
			Content:     content,
			CID:         "not-a-cid",
			Description: "bad",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("missing content", func() {
		_, err := s.service.UploadEvidence(s.ctx, ledger.UploadRequest{Description: "empty"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("role without upload permission sends nothing", func() {
		s.auth.user = s.user(officer, domain.RoleLawyer)
		defer func() { s.auth.user = s.user(officer, domain.RoleOfficer) }()
		sent := len(s.provider.Sent())

		_, err := s.service.UploadEvidence(s.ctx, ledger.UploadRequest{Content: content, Description: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Len(s.provider.Sent(), sent)
	})

	s.Run("revert keeps the transaction hash", func() {
		_, err := s.service.UploadEvidence(s.ctx, ledger.UploadRequest{
			Content:     content,
			Description: "unknown case",
			CaseID:      big.NewInt(99),
		})
		s.True(failure.Is(err, failure.KindTransactionFailed))
		_, ok := failure.TxHashOf(err)
		s.True(ok)
	})
}

func (s *LedgerSuite) TestVerifyEvidence() {
	content := []byte("lab report v1")
	res, err := s.service.UploadEvidence(s.ctx, ledger.UploadRequest{Content: content, Description: "report"})
	s.Require().NoError(err)

	s.Run("unchanged content is intact", func() {
		v, err := s.service.VerifyEvidence(s.ctx, res.ID, content)
		s.Require().NoError(err)
		s.True(v.Intact())
	})

	s.Run("tampered content", func() {
		v, err := s.service.VerifyEvidence(s.ctx, res.ID, []byte("lab report v2"))
		s.Require().NoError(err)
		s.False(v.HashMatches)
		s.False(v.CIDMatches)
		s.False(v.Intact())
	})

	s.Run("unknown evidence", func() {
		_, err := s.service.VerifyEvidence(s.ctx, big.NewInt(42), content)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *LedgerSuite) TestCustody() {
	res, err := s.service.UploadEvidence(s.ctx, ledger.UploadRequest{Content: []byte("knife"), Description: "weapon"})
	s.Require().NoError(err)

	s.Run("transfer appends to the history", func() {
		_, err := s.service.TransferCustody(s.ctx, res.ID, forensics, "to lab")
		s.Require().NoError(err)

		history, err := s.service.CustodyHistory(s.ctx, res.ID)
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Equal(officer, history[0].Custodian)
		s.Equal(forensics, history[1].Custodian)
		s.Equal("to lab", history[1].Notes)
	})

	s.Run("no longer the custodian", func() {
		_, err := s.service.TransferCustody(s.ctx, res.ID, owner, "again")
		s.True(failure.Is(err, failure.KindTransactionFailed))
	})

	s.Run("self transfer is rejected locally", func() {
		_, err := s.service.TransferCustody(s.ctx, res.ID, officer, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerSuite) TestCasesAndAccess() {
	caseID := s.createCase()

	s.Run("case details", func() {
		c, err := s.service.GetCase(s.ctx, caseID)
		s.Require().NoError(err)
		s.Equal("CASE-1", c.CaseNumber)
		s.Equal(officer, c.Investigator)
	})

	s.Run("missing case", func() {
		_, err := s.service.GetCase(s.ctx, big.NewInt(7))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("officer cannot grant access", func() {
		_, err := s.service.GrantCaseAccess(s.ctx, caseID, forensics)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("FIR filing", func() {
		res, err := s.service.FileFIR(s.ctx, "FIR-9", "theft", "market")
		s.Require().NoError(err)
		s.NotEqual(common.Hash{}, res.TxHash)
	})

	s.Run("invalid IDs never reach the chain", func() {
		_, err := s.service.GetCase(s.ctx, big.NewInt(0))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerSuite) TestRoles() {
	s.provider.SwitchAccount(owner)
	_, err := s.manager.Connect(s.ctx)
	s.Require().NoError(err)
	s.auth.user = s.user(owner, domain.RoleCourt)
	lawyer := common.HexToAddress("0x617F2E2fD72FD9D5503197092aC168c91465E7f2")

	s.Run("assign and revoke", func() {
		_, err := s.service.AssignRole(s.ctx, lawyer, domain.RoleLawyer)
		s.Require().NoError(err)
		s.Equal(contractstest.RoleLawyer, s.chain.Role(lawyer))

		_, err = s.service.RevokeRole(s.ctx, lawyer)
		s.Require().NoError(err)
		s.Equal(contractstest.RoleNone, s.chain.Role(lawyer))
	})

	s.Run("assigning None is refused locally", func() {
		_, err := s.service.AssignRole(s.ctx, lawyer, domain.RoleNone)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("court grants case access", func() {
		caseID := s.createCase()
		_, err := s.service.GrantCaseAccess(s.ctx, caseID, lawyer)
		s.Require().NoError(err)

		ok, err := s.service.HasCaseAccess(s.ctx, caseID, lawyer)
		s.Require().NoError(err)
		s.True(ok)

		_, err = s.service.RevokeCaseAccess(s.ctx, caseID, lawyer)
		s.Require().NoError(err)
		ok, err = s.service.HasCaseAccess(s.ctx, caseID, lawyer)
		s.Require().NoError(err)
		s.False(ok)
	})
}

func TestContentCIDRoundTrip(t *testing.T) {
	content := []byte("evidence")
	c, err := ledger.ContentCID(content)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ledger.ParseCID(c.String())
	if err != nil {
		t.Fatal(err)
	}
	if !ledger.MatchesCID(parsed, content) {
		t.Fatal("derived CID does not match its own content")
	}
	if ledger.MatchesCID(parsed, []byte("other")) {
		t.Fatal("CID matched different content")
	}
}
