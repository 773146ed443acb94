package identity

import (
	"context"
	"fmt"

	"guardian/internal/auth/models"
	authservice "guardian/internal/auth/service"
	"guardian/internal/contracts/contractstest"
	"guardian/internal/wallet"
	"guardian/internal/wallet/wallettest"
	"guardian/pkg/domain"
	"guardian/pkg/platform/audit"

	"github.com/cucumber/godog"
	"github.com/ethereum/go-ethereum/common"
)

// TestContext is what identity steps need from the world.
type TestContext interface {
	Deploy(owner common.Address)
	Unlock(account common.Address) error
	Chain() *contractstest.Chain
	Provider() *wallettest.Provider
	Manager() *wallet.Manager
	Auth() *authservice.Service
	CountAudit(e audit.AuditEvent) int
	SaveProfile(ctx context.Context, addr common.Address, role domain.Role) error
	ProfileRole(ctx context.Context, addr common.Address) (domain.Role, error)
}

// RegisterSteps registers sign-in and session step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &identitySteps{tc: tc}

	ctx.Step(`^the registry owner is "([^"]*)"$`, steps.registryOwner)
	ctx.Step(`^"([^"]*)" holds the "([^"]*)" role on chain$`, steps.holdsRole)
	ctx.Step(`^the registry revokes the role of "([^"]*)"$`, steps.revokeRole)
	ctx.Step(`^the backend profile for "([^"]*)" has role "([^"]*)"$`, steps.backendProfile)
	ctx.Step(`^the wallet is unlocked with "([^"]*)"$`, steps.unlock)

	ctx.Step(`^I sign in with the wallet$`, steps.signInWithWallet)
	ctx.Step(`^I sign out$`, steps.signOut)
	ctx.Step(`^the wallet reports no accounts$`, steps.emptyAccounts)
	ctx.Step(`^the wallet switches to chain (\d+)$`, steps.switchChain)

	ctx.Step(`^I am signed in as "([^"]*)"$`, steps.signedInAs)
	ctx.Step(`^I am signed out$`, steps.signedOut)
	ctx.Step(`^no signer is attached$`, steps.noSigner)
	ctx.Step(`^the session is stale$`, steps.sessionStale)
	ctx.Step(`^the role was resolved the same both times$`, steps.sameRole)
	ctx.Step(`^the sign-in carried a "([^"]*)" warning$`, steps.carriedWarning)
	ctx.Step(`^the sign-in was an owner bootstrap$`, steps.ownerBootstrap)
	ctx.Step(`^the backend now records "([^"]*)" as "([^"]*)"$`, steps.profileRecorded)
	ctx.Step(`^(\d+) "([^"]*)" audit events? (?:was|were) recorded$`, steps.auditCount)
}

type identitySteps struct {
	tc          TestContext
	resolutions []*models.Resolution
}

func (s *identitySteps) registryOwner(ctx context.Context, addr string) error {
	owner, err := domain.ParseAddress(addr)
	if err != nil {
		return err
	}
	s.tc.Deploy(owner)
	return nil
}

func (s *identitySteps) holdsRole(ctx context.Context, addr, roleName string) error {
	a, err := domain.ParseAddress(addr)
	if err != nil {
		return err
	}
	role, err := domain.ParseRole(roleName)
	if err != nil {
		return err
	}
	s.tc.Chain().SetRole(a, role.ChainValue())
	return nil
}

func (s *identitySteps) revokeRole(ctx context.Context, addr string) error {
	a, err := domain.ParseAddress(addr)
	if err != nil {
		return err
	}
	s.tc.Chain().SetRole(a, domain.RoleNone.ChainValue())
	return nil
}

func (s *identitySteps) backendProfile(ctx context.Context, addr, roleName string) error {
	a, err := domain.ParseAddress(addr)
	if err != nil {
		return err
	}
	role, err := domain.ParseRole(roleName)
	if err != nil {
		return err
	}
	return s.tc.SaveProfile(ctx, a, role)
}

func (s *identitySteps) unlock(ctx context.Context, addr string) error {
	a, err := domain.ParseAddress(addr)
	if err != nil {
		return err
	}
	return s.tc.Unlock(a)
}

func (s *identitySteps) signInWithWallet(ctx context.Context) error {
	res, err := s.tc.Auth().LoginWithWallet(ctx)
	if err != nil {
		return fmt.Errorf("wallet sign-in: %w", err)
	}
	s.resolutions = append(s.resolutions, res)
	return nil
}

func (s *identitySteps) signOut(ctx context.Context) error {
	return s.tc.Auth().Logout(ctx)
}

func (s *identitySteps) emptyAccounts(ctx context.Context) error {
	s.tc.Provider().SwitchAccount()
	return nil
}

func (s *identitySteps) switchChain(ctx context.Context, chainID int) error {
	s.tc.Provider().SwitchChain(uint64(chainID))
	return nil
}

func (s *identitySteps) signedInAs(ctx context.Context, roleName string) error {
	want, err := domain.ParseRole(roleName)
	if err != nil {
		return err
	}
	u := s.tc.Auth().Current()
	if u == nil {
		return fmt.Errorf("expected to be signed in as %s, but nobody is signed in", want)
	}
	if u.Role != want {
		return fmt.Errorf("expected role %s, got %s", want, u.Role)
	}
	return nil
}

func (s *identitySteps) signedOut(ctx context.Context) error {
	if u := s.tc.Auth().Current(); u != nil {
		return fmt.Errorf("expected no session, still signed in as %s", u.Subject())
	}
	return nil
}

func (s *identitySteps) noSigner(ctx context.Context) error {
	if _, _, err := s.tc.Manager().Connection().Signer(); err == nil {
		return fmt.Errorf("a signer is still attached")
	}
	return nil
}

func (s *identitySteps) sessionStale(ctx context.Context) error {
	if !s.tc.Auth().Stale() {
		return fmt.Errorf("expected the session to be stale")
	}
	return nil
}

func (s *identitySteps) sameRole(ctx context.Context) error {
	if len(s.resolutions) < 2 {
		return fmt.Errorf("expected two sign-ins, got %d", len(s.resolutions))
	}
	first, second := s.resolutions[0].User.Role, s.resolutions[1].User.Role
	if first != second {
		return fmt.Errorf("role changed between resolutions: %s then %s", first, second)
	}
	return nil
}

func (s *identitySteps) last() (*models.Resolution, error) {
	if len(s.resolutions) == 0 {
		return nil, fmt.Errorf("no sign-in happened")
	}
	return s.resolutions[len(s.resolutions)-1], nil
}

func (s *identitySteps) carriedWarning(ctx context.Context, code string) error {
	res, err := s.last()
	if err != nil {
		return err
	}
	n := 0
	for _, w := range res.Warnings {
		if string(w.Code) == code {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("expected exactly one %s warning, got %d", code, n)
	}
	return nil
}

func (s *identitySteps) ownerBootstrap(ctx context.Context) error {
	res, err := s.last()
	if err != nil {
		return err
	}
	if !res.Bootstrapped {
		return fmt.Errorf("sign-in was not an owner bootstrap")
	}
	return nil
}

func (s *identitySteps) auditCount(ctx context.Context, want int, event string) error {
	if got := s.tc.CountAudit(audit.AuditEvent(event)); got != want {
		return fmt.Errorf("expected %d %s audit events, got %d", want, event, got)
	}
	return nil
}

func (s *identitySteps) profileRecorded(ctx context.Context, addr, roleName string) error {
	a, err := domain.ParseAddress(addr)
	if err != nil {
		return err
	}
	want, err := domain.ParseRole(roleName)
	if err != nil {
		return err
	}
	got, err := s.tc.ProfileRole(ctx, a)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("backend records %s as %s, want %s", a.Hex(), got, want)
	}
	return nil
}
