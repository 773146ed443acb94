package ledger

import (
	"context"
	"fmt"
	"math/big"

	"guardian/internal/contracts"
	"guardian/internal/contracts/contractstest"
	"guardian/internal/ledger"
	"guardian/internal/wallet/wallettest"
	dErrors "guardian/pkg/domain-errors"
	"guardian/pkg/failure"

	"github.com/cucumber/godog"
	"github.com/ethereum/go-ethereum/common"
)

// TestContext is what ledger steps need from the world.
type TestContext interface {
	Chain() *contractstest.Chain
	Provider() *wallettest.Provider
	Gateway() *contracts.Gateway
	Ledger() *ledger.Service
	Account() common.Address
}

// RegisterSteps registers evidence and case step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ledgerSteps{tc: tc}

	ctx.Step(`^I open case "([^"]*)"$`, steps.openCase)
	ctx.Step(`^the next receipt carries a malformed log$`, steps.corruptNextReceipt)
	ctx.Step(`^I upload evidence "([^"]*)" with content "([^"]*)"$`, steps.uploadEvidence)
	ctx.Step(`^I file FIR "([^"]*)"$`, steps.fileFIR)
	ctx.Step(`^I look up evidence "([^"]*)" on the ledger contract$`, steps.lookupEvidence)

	ctx.Step(`^the write succeeded with a transaction hash$`, steps.writeSucceeded)
	ctx.Step(`^no evidence id was decoded$`, steps.noDecodedID)
	ctx.Step(`^the evidence verifies against content "([^"]*)"$`, steps.verifies)
	ctx.Step(`^the evidence does not verify against content "([^"]*)"$`, steps.doesNotVerify)
	ctx.Step(`^no evidence is returned$`, steps.noEvidence)
	ctx.Step(`^no error is returned$`, steps.noError)
	ctx.Step(`^the request fails with "([^"]*)"$`, steps.failsWith)
	ctx.Step(`^no transaction was sent$`, steps.nothingSent)
}

type ledgerSteps struct {
	tc       TestContext
	caseID   *big.Int
	result   *ledger.Result
	evidence *contracts.Evidence
	err      error
}

func (s *ledgerSteps) openCase(ctx context.Context, number string) error {
	res, err := s.tc.Ledger().CreateCase(ctx, number, "opened by feature suite", s.tc.Account())
	if err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	if res.ID == nil {
		return fmt.Errorf("create case returned no id")
	}
	s.caseID = res.ID
	return nil
}

func (s *ledgerSteps) corruptNextReceipt(ctx context.Context) error {
	s.tc.Chain().CorruptNextReceipt()
	return nil
}

func (s *ledgerSteps) uploadEvidence(ctx context.Context, description, content string) error {
	s.result, s.err = s.tc.Ledger().UploadEvidence(ctx, ledger.UploadRequest{
		Content:     []byte(content),
		Description: description,
		CaseID:      s.caseID,
	})
	return nil
}

func (s *ledgerSteps) fileFIR(ctx context.Context, number string) error {
	s.result, s.err = s.tc.Ledger().FileFIR(ctx, number, "reported at the desk", "Station 4")
	return nil
}

func (s *ledgerSteps) lookupEvidence(ctx context.Context, id string) error {
	n, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return fmt.Errorf("bad evidence id %q", id)
	}
	s.evidence, s.err = s.tc.Gateway().GetEvidence(ctx, n)
	return nil
}

func (s *ledgerSteps) writeSucceeded(ctx context.Context) error {
	if s.err != nil {
		return fmt.Errorf("write failed: %w", s.err)
	}
	if s.result == nil || s.result.TxHash == (common.Hash{}) {
		return fmt.Errorf("write returned no transaction hash")
	}
	if s.result.Pending {
		return fmt.Errorf("write is still pending")
	}
	return nil
}

func (s *ledgerSteps) noDecodedID(ctx context.Context) error {
	if s.result != nil && s.result.ID != nil {
		return fmt.Errorf("expected no decoded id, got %s", s.result.ID)
	}
	return nil
}

func (s *ledgerSteps) verify(ctx context.Context, content string) (*ledger.Verification, error) {
	if s.result == nil || s.result.ID == nil {
		return nil, fmt.Errorf("no evidence was uploaded")
	}
	return s.tc.Ledger().VerifyEvidence(ctx, s.result.ID, []byte(content))
}

func (s *ledgerSteps) verifies(ctx context.Context, content string) error {
	v, err := s.verify(ctx, content)
	if err != nil {
		return err
	}
	if !v.Intact() {
		return fmt.Errorf("evidence %s did not verify: recorded %s, got %s", v.EvidenceID, v.ExpectedHash, v.ActualHash)
	}
	return nil
}

func (s *ledgerSteps) doesNotVerify(ctx context.Context, content string) error {
	v, err := s.verify(ctx, content)
	if err != nil {
		return err
	}
	if v.Intact() {
		return fmt.Errorf("evidence %s verified against different content", v.EvidenceID)
	}
	return nil
}

func (s *ledgerSteps) noEvidence(ctx context.Context) error {
	if s.evidence != nil {
		return fmt.Errorf("expected no evidence, got id %s", s.evidence.ID)
	}
	return nil
}

func (s *ledgerSteps) noError(ctx context.Context) error {
	if s.err != nil {
		return fmt.Errorf("unexpected error: %w", s.err)
	}
	return nil
}

// failsWith matches a failure kind or a domain error code.
func (s *ledgerSteps) failsWith(ctx context.Context, kind string) error {
	if s.err == nil {
		return fmt.Errorf("expected %s, the request succeeded", kind)
	}
	if _, ok := failure.As(s.err); ok {
		if got := failure.KindOf(s.err); string(got) != kind {
			return fmt.Errorf("expected %s, got %s (%v)", kind, got, s.err)
		}
		return nil
	}
	if got := dErrors.CodeOf(s.err); string(got) != kind {
		return fmt.Errorf("expected %s, got %s (%v)", kind, got, s.err)
	}
	return nil
}

func (s *ledgerSteps) nothingSent(ctx context.Context) error {
	if sent := s.tc.Provider().Sent(); len(sent) != 0 {
		return fmt.Errorf("expected no transactions, %d were sent", len(sent))
	}
	return nil
}
