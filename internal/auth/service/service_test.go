package service_test

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Resolver,SessionStore,AuditPublisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"guardian/internal/auth/models"
	"guardian/internal/auth/service"
	"guardian/internal/auth/service/mocks"
	"guardian/internal/platform/logger"
	"guardian/internal/session"
	"guardian/internal/session/storage"
	"guardian/internal/wallet"
	"guardian/internal/wallet/wallettest"
	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"
	"guardian/pkg/failure"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

var (
	alice = common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	bob   = common.HexToAddress("0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2")
)

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	resolver *mocks.MockResolver
	audit    *mocks.MockAuditPublisher
	provider *wallettest.Provider
	manager  *wallet.Manager
	sessions *session.Store
	now      time.Time
	service  *service.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.resolver = mocks.NewMockResolver(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.provider = wallettest.New(31337, alice)
	s.manager = wallet.NewManager(s.provider, wallet.WithLogger(logger.Discard()))
	s.now = time.Now()

	c, err := session.RandomCipher()
	s.Require().NoError(err)
	s.sessions = session.New(storage.NewMemory(), c)
	s.service = s.newService(s.sessions)
	s.Require().NoError(s.service.Listen())
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newService(store service.SessionStore) *service.Service {
	return service.New(s.resolver, s.manager, store,
		service.WithLogger(logger.Discard()),
		service.WithAuditPublisher(s.audit),
		service.WithClock(func() time.Time { return s.now }))
}

func (s *ServiceSuite) walletResolution(addr common.Address, role domain.Role) *models.Resolution {
	a := addr
	return &models.Resolution{User: &models.AuthenticatedUser{
		ID:          domain.NewUserID(),
		DisplayName: models.ShortAddress(addr),
		Role:        role,
		RoleTitle:   role.Title(),
		Address:     &a,
		AuthType:    models.AuthTypeWallet,
		IssuedAt:    s.now,
		ExpiresAt:   s.now.Add(time.Hour),
	}}
}

func (s *ServiceSuite) emailResolution(role domain.Role) *models.Resolution {
	return &models.Resolution{User: &models.AuthenticatedUser{
		ID:          domain.NewUserID(),
		Email:       "clerk@example.org",
		DisplayName: "clerk",
		Role:        role,
		RoleTitle:   role.Title(),
		AuthType:    models.AuthTypeEmail,
		Token:       "token",
		IssuedAt:    s.now,
		ExpiresAt:   s.now.Add(time.Hour),
	}}
}

func (s *ServiceSuite) loginWallet(addr common.Address, role domain.Role) *models.Resolution {
	s.resolver.EXPECT().ResolveWallet(gomock.Any(), addr).Return(s.walletResolution(addr, role), nil)
	res, err := s.service.LoginWithWallet(s.ctx)
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) TestLoginWithCredentials() {
	s.Run("success is current and persisted", func() {
		res := s.emailResolution(domain.RoleLawyer)
		s.resolver.EXPECT().ResolveCredentials(gomock.Any(), "clerk@example.org", "pw").Return(res, nil)

		got, err := s.service.LoginWithCredentials(s.ctx, "clerk@example.org", "pw")
		s.Require().NoError(err)
		s.Equal(res.User.ID, got.User.ID)
		s.Equal(res.User.ID, s.service.Current().ID)

		persisted, err := s.sessions.Load(s.ctx)
		s.Require().NoError(err)
		s.Equal(res.User.ID, persisted.ID)
	})

	s.Run("failure leaves previous state alone", func() {
		before := s.service.Current()
		s.resolver.EXPECT().ResolveCredentials(gomock.Any(), "x@example.org", "bad").
			Return(nil, dErrors.New(dErrors.CodeUnauthorized, "invalid email or password"))

		_, err := s.service.LoginWithCredentials(s.ctx, "x@example.org", "bad")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Equal(before.ID, s.service.Current().ID)
	})
}

func (s *ServiceSuite) TestLoginWithWallet() {
	s.Run("resolved signer becomes current", func() {
		res := s.loginWallet(alice, domain.RoleOfficer)
		s.Equal(alice, *res.User.Address)
		s.Equal(domain.RoleOfficer, s.service.Current().Role)
		s.False(s.service.Stale())
	})

	s.Run("rejected connection", func() {
		s.Require().NoError(s.service.Logout(s.ctx))
		s.provider.Reject(wallet.MethodRequestAccounts)

		_, err := s.service.LoginWithWallet(s.ctx)
		s.True(failure.Is(err, failure.KindUserRejected))
		s.Nil(s.service.Current())
	})

	s.Run("wallet moving during resolution fails the attempt", func() {
		s.resolver.EXPECT().ResolveWallet(gomock.Any(), alice).
			DoAndReturn(func(context.Context, common.Address) (*models.Resolution, error) {
				s.provider.SwitchChain(1)
				return s.walletResolution(alice, domain.RoleOfficer), nil
			})

		_, err := s.service.LoginWithWallet(s.ctx)
		s.True(failure.Is(err, failure.KindRoleSyncFailed))
		s.Nil(s.service.Current())
	})
}

func (s *ServiceSuite) TestWalletNotifications() {
	s.Run("empty accounts sign out immediately", func() {
		s.loginWallet(alice, domain.RoleOfficer)
		var seen []*models.AuthenticatedUser
		s.service.OnChange(func(u *models.AuthenticatedUser) { seen = append(seen, u) })

		s.provider.SwitchAccount()

		s.Nil(s.service.Current())
		s.Require().NotEmpty(seen)
		s.Nil(seen[len(seen)-1])
		persisted, err := s.sessions.Load(s.ctx)
		s.NoError(err)
		s.Nil(persisted)
	})

	s.Run("account switch re-resolves the new account", func() {
		s.provider.SwitchAccount(alice)
		s.loginWallet(alice, domain.RoleOfficer)
		s.resolver.EXPECT().ResolveWallet(gomock.Any(), bob).Return(s.walletResolution(bob, domain.RoleForensic), nil)

		s.provider.SwitchAccount(bob)

		cur := s.service.Current()
		s.Require().NotNil(cur)
		s.Equal(bob, *cur.Address)
		s.Equal(domain.RoleForensic, cur.Role)
	})

	s.Run("account switch to an unauthorized wallet stays signed out", func() {
		s.Require().NoError(s.service.Logout(s.ctx))
		s.provider.SwitchAccount(alice)
		s.loginWallet(alice, domain.RoleOfficer)
		s.resolver.EXPECT().ResolveWallet(gomock.Any(), bob).
			Return(nil, failure.New(failure.KindWalletNotAuthorized, "resolver.wallet", ""))

		s.provider.SwitchAccount(bob)
		s.Nil(s.service.Current())
	})

	s.Run("chain change makes the session stale until resynced", func() {
		s.Require().NoError(s.service.Logout(s.ctx))
		s.provider.SwitchAccount(alice)
		s.loginWallet(alice, domain.RoleOfficer)

		s.provider.SwitchChain(5)
		s.True(s.service.Stale())

		s.resolver.EXPECT().ResolveWallet(gomock.Any(), alice).Return(s.walletResolution(alice, domain.RoleOfficer), nil)
		u, err := s.service.Authorize(s.ctx, domain.PermEvidenceUpload)
		s.Require().NoError(err)
		s.Equal(alice, *u.Address)
		s.False(s.service.Stale())
	})

	s.Run("repeated chain id still drops the signer and marks the session stale", func() {
		s.Require().NoError(s.service.Logout(s.ctx))
		s.provider.SwitchAccount(alice)
		s.loginWallet(alice, domain.RoleOfficer)
		s.Require().False(s.service.Stale())

		s.provider.SwitchChain(s.provider.ChainID())
		s.True(s.service.Stale())
		_, _, err := s.manager.Connection().Signer()
		s.True(failure.Is(err, failure.KindSignerRequired))

		s.resolver.EXPECT().ResolveWallet(gomock.Any(), alice).Return(s.walletResolution(alice, domain.RoleOfficer), nil)
		_, err = s.service.Authorize(s.ctx, domain.PermEvidenceUpload)
		s.Require().NoError(err)
		s.False(s.service.Stale())
		_, _, err = s.manager.Connection().Signer()
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestResync() {
	s.Run("not signed in", func() {
		_, err := s.service.Resync(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("upgrade is applied in place", func() {
		first := s.loginWallet(alice, domain.RoleOfficer)
		s.resolver.EXPECT().ResolveWallet(gomock.Any(), alice).Return(s.walletResolution(alice, domain.RoleCourt), nil)

		res, err := s.service.Resync(s.ctx)
		s.Require().NoError(err)
		s.Equal(domain.RoleCourt, res.User.Role)
		s.Equal(domain.RoleCourt, s.service.Current().Role)
		s.True(s.service.Current().IssuedAt.Equal(first.User.IssuedAt))
	})

	s.Run("downgrade forces logout", func() {
		s.resolver.EXPECT().ResolveWallet(gomock.Any(), alice).Return(s.walletResolution(alice, domain.RoleLawyer), nil)

		_, err := s.service.Resync(s.ctx)
		s.True(failure.Is(err, failure.KindRoleSyncFailed))
		s.Nil(s.service.Current())
	})

	s.Run("lateral move that drops permissions forces logout", func() {
		s.loginWallet(alice, domain.RoleOfficer)
		s.resolver.EXPECT().ResolveWallet(gomock.Any(), alice).Return(s.walletResolution(alice, domain.RoleLawyer), nil)

		_, err := s.service.Resync(s.ctx)
		s.True(failure.Is(err, failure.KindRoleSyncFailed))
		s.Nil(s.service.Current())
	})

	s.Run("revocation forces logout", func() {
		s.loginWallet(alice, domain.RoleOfficer)
		s.resolver.EXPECT().ResolveWallet(gomock.Any(), alice).
			Return(nil, failure.New(failure.KindWalletNotAuthorized, "resolver.wallet", ""))

		_, err := s.service.Resync(s.ctx)
		s.True(failure.Is(err, failure.KindWalletNotAuthorized))
		s.Nil(s.service.Current())
	})

	s.Run("transient failure keeps the session", func() {
		s.loginWallet(alice, domain.RoleOfficer)
		s.resolver.EXPECT().ResolveWallet(gomock.Any(), alice).
			Return(nil, failure.Wrap(errors.New("timeout"), failure.KindNetworkError, "resolver.wallet", ""))

		_, err := s.service.Resync(s.ctx)
		s.True(failure.Is(err, failure.KindNetworkError))
		s.NotNil(s.service.Current())
	})

	s.Run("email session re-reads the profile", func() {
		res := s.emailResolution(domain.RoleOfficer)
		s.resolver.EXPECT().ResolveCredentials(gomock.Any(), gomock.Any(), gomock.Any()).Return(res, nil)
		_, err := s.service.LoginWithCredentials(s.ctx, "clerk@example.org", "pw")
		s.Require().NoError(err)

		again := *res.User
		s.resolver.EXPECT().ResolveProfile(gomock.Any(), gomock.Any()).Return(&models.Resolution{User: &again}, nil)
		_, err = s.service.Resync(s.ctx)
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestAuthorize() {
	s.Run("signed out", func() {
		_, err := s.service.Authorize(s.ctx, domain.PermCaseRead)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("role without the permission", func() {
		s.resolver.EXPECT().ResolveCredentials(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.emailResolution(domain.RoleLawyer), nil)
		_, err := s.service.LoginWithCredentials(s.ctx, "clerk@example.org", "pw")
		s.Require().NoError(err)

		_, err = s.service.Authorize(s.ctx, domain.PermEvidenceUpload)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		u, err := s.service.Authorize(s.ctx, domain.PermEvidenceRead)
		s.Require().NoError(err)
		s.Equal(domain.RoleLawyer, u.Role)
	})

	s.Run("email login without a role can do nothing", func() {
		s.resolver.EXPECT().ResolveCredentials(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.emailResolution(domain.RoleNone), nil)
		_, err := s.service.LoginWithCredentials(s.ctx, "clerk@example.org", "pw")
		s.Require().NoError(err)

		_, err = s.service.Authorize(s.ctx, domain.PermCaseRead)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("court holds everything", func() {
		s.loginWallet(alice, domain.RoleCourt)
		for _, p := range domain.AllPermissions() {
			_, err := s.service.Authorize(s.ctx, p)
			s.NoError(err, p)
		}
	})

	s.Run("expired session is signed out", func() {
		s.loginWallet(alice, domain.RoleCourt)
		s.now = s.now.Add(2 * time.Hour)
		defer func() { s.now = time.Now() }()

		_, err := s.service.Authorize(s.ctx, domain.PermCaseRead)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Nil(s.service.Current())
	})
}

func (s *ServiceSuite) TestRestore() {
	s.Run("nothing persisted", func() {
		u, err := s.service.Restore(s.ctx)
		s.NoError(err)
		s.Nil(u)
	})

	s.Run("email session resumes", func() {
		res := s.emailResolution(domain.RoleOfficer)
		s.Require().NoError(s.sessions.Save(s.ctx, res.User))

		u, err := s.newService(s.sessions).Restore(s.ctx)
		s.Require().NoError(err)
		s.Equal(res.User.ID, u.ID)
	})

	s.Run("wallet session resumes stale", func() {
		res := s.walletResolution(alice, domain.RoleOfficer)
		s.Require().NoError(s.sessions.Save(s.ctx, res.User))

		restored := s.newService(s.sessions)
		u, err := restored.Restore(s.ctx)
		s.Require().NoError(err)
		s.Equal(alice, *u.Address)
		s.True(restored.Stale())
	})
}

func (s *ServiceSuite) TestSessionPersistenceFailureIsAWarning() {
	store := mocks.NewMockSessionStore(s.ctrl)
	svc := s.newService(store)
	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	s.resolver.EXPECT().ResolveCredentials(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.emailResolution(domain.RoleOfficer), nil)

	res, err := svc.LoginWithCredentials(s.ctx, "clerk@example.org", "pw")
	s.Require().NoError(err)
	s.Require().Len(res.Warnings, 1)
	s.Equal(models.WarningSessionNotSaved, res.Warnings[0].Code)
	s.NotNil(svc.Current())

	store.EXPECT().Clear(gomock.Any()).Return(nil)
	s.Require().NoError(svc.Logout(s.ctx))
	s.Nil(svc.Current())
}
