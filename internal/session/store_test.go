package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"guardian/internal/auth/models"
	"guardian/internal/session"
	"guardian/internal/session/storage"
	"guardian/pkg/domain"
	"guardian/pkg/failure"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
)

type fakeVerifier struct {
	roles map[common.Address]domain.Role
	err   error
	calls int
}

func (f *fakeVerifier) GetUserRole(_ context.Context, user common.Address) (domain.Role, error) {
	f.calls++
	if f.err != nil {
		return domain.RoleNone, f.err
	}
	return f.roles[user], nil
}

type StoreSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	storage  *storage.Memory
	verifier *fakeVerifier
	store    *session.Store
	cipher   *session.Cipher
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

var walletAddr = common.HexToAddress("0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2")

func (s *StoreSuite) SetupTest() {
	var err error
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.storage = storage.NewMemory()
	s.verifier = &fakeVerifier{roles: map[common.Address]domain.Role{walletAddr: domain.RoleOfficer}}
	s.cipher, err = session.NewCipher([]byte("operator secret"))
	s.Require().NoError(err)
	s.store = session.New(s.storage, s.cipher,
		session.WithRoleVerifier(s.verifier),
		session.WithClock(func() time.Time { return s.now }))
}

func (s *StoreSuite) walletUser() *models.AuthenticatedUser {
	addr := walletAddr
	return &models.AuthenticatedUser{
		ID:          domain.NewUserID(),
		DisplayName: models.ShortAddress(addr),
		Role:        domain.RoleOfficer,
		RoleTitle:   domain.RoleOfficer.Title(),
		Address:     &addr,
		AuthType:    models.AuthTypeWallet,
		IssuedAt:    s.now,
		ExpiresAt:   s.now.Add(time.Hour),
	}
}

func (s *StoreSuite) TestRoundTrip() {
	s.Run("wallet session survives a restart", func() {
		u := s.walletUser()
		s.Require().NoError(s.store.Save(s.ctx, u))

		reopened := session.New(s.storage, s.cipher,
			session.WithRoleVerifier(s.verifier),
			session.WithClock(func() time.Time { return s.now }))
		got, err := reopened.Load(s.ctx)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(u.ID, got.ID)
		s.Equal(walletAddr, *got.Address)
		s.Equal(domain.RoleOfficer, got.Role)
		s.True(got.ExpiresAt.Equal(u.ExpiresAt))
	})

	s.Run("email session is not checked against the registry", func() {
		calls := s.verifier.calls
		u := &models.AuthenticatedUser{
			ID:          domain.NewUserID(),
			Email:       "clerk@example.org",
			DisplayName: "clerk",
			Role:        domain.RoleLawyer,
			RoleTitle:   domain.RoleLawyer.Title(),
			AuthType:    models.AuthTypeEmail,
			Token:       "opaque",
			ExpiresAt:   s.now.Add(time.Hour),
		}
		s.Require().NoError(s.store.Save(s.ctx, u))

		got, err := s.store.Load(s.ctx)
		s.Require().NoError(err)
		s.Equal("opaque", got.Token)
		s.Nil(got.Address)
		s.Equal(calls, s.verifier.calls)
	})

	s.Run("clear removes the session", func() {
		s.Require().NoError(s.store.Save(s.ctx, s.walletUser()))
		s.Require().NoError(s.store.Clear(s.ctx))

		got, err := s.store.Load(s.ctx)
		s.NoError(err)
		s.Nil(got)
	})
}

func (s *StoreSuite) TestRejectsInvalidRecords() {
	s.Run("nothing stored", func() {
		got, err := s.store.Load(s.ctx)
		s.NoError(err)
		s.Nil(got)
	})

	s.Run("tampered ciphertext is discarded", func() {
		s.Require().NoError(s.store.Save(s.ctx, s.walletUser()))
		sealed, err := s.storage.Get(s.ctx, session.CurrentKey)
		s.Require().NoError(err)
		sealed[len(sealed)-1] ^= 0xff
		s.storage.Raw(session.CurrentKey, sealed)

		got, err := s.store.Load(s.ctx)
		s.NoError(err)
		s.Nil(got)

		_, err = s.storage.Get(s.ctx, session.CurrentKey)
		s.Error(err)
	})

	s.Run("record sealed with another key is discarded", func() {
		other, err := session.RandomCipher()
		s.Require().NoError(err)
		s.Require().NoError(session.New(s.storage, other).Save(s.ctx, s.walletUser()))

		got, err := s.store.Load(s.ctx)
		s.NoError(err)
		s.Nil(got)
	})

	s.Run("expired session is discarded", func() {
		s.Require().NoError(s.store.Save(s.ctx, s.walletUser()))
		later := session.New(s.storage, s.cipher,
			session.WithTTL(24*time.Hour),
			session.WithClock(func() time.Time { return s.now.Add(2 * time.Hour) }))

		got, err := later.Load(s.ctx)
		s.NoError(err)
		s.Nil(got)
	})

	s.Run("wallet without a role cannot be saved", func() {
		u := s.walletUser()
		u.Role = domain.RoleNone
		s.Error(s.store.Save(s.ctx, u))
	})
}

func (s *StoreSuite) TestRegistryRevalidation() {
	s.Run("revoked wallet is discarded", func() {
		s.Require().NoError(s.store.Save(s.ctx, s.walletUser()))
		s.verifier.roles[walletAddr] = domain.RoleNone
		defer func() { s.verifier.roles[walletAddr] = domain.RoleOfficer }()

		got, err := s.store.Load(s.ctx)
		s.NoError(err)
		s.Nil(got)
		_, err = s.storage.Get(s.ctx, session.CurrentKey)
		s.Error(err)
	})

	s.Run("registry outage keeps the record", func() {
		s.Require().NoError(s.store.Save(s.ctx, s.walletUser()))
		s.verifier.err = errors.New("dial tcp: refused")
		defer func() { s.verifier.err = nil }()

		got, err := s.store.Load(s.ctx)
		s.Nil(got)
		s.True(failure.Is(err, failure.KindRoleSyncFailed))

		_, err = s.storage.Get(s.ctx, session.CurrentKey)
		s.NoError(err)
	})
}

func TestFileStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session")
	c, err := session.RandomCipher()
	if err != nil {
		t.Fatal(err)
	}
	addr := walletAddr
	u := &models.AuthenticatedUser{
		ID:          domain.NewUserID(),
		DisplayName: "officer",
		Role:        domain.RoleOfficer,
		Address:     &addr,
		AuthType:    models.AuthTypeWallet,
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	st := session.New(storage.NewFile(path), c)
	if err := st.Save(ctx, u); err != nil {
		t.Fatal(err)
	}

	got, err := session.New(storage.NewFile(path), c).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("expected restored session for %s, got %+v", u.ID, got)
	}
}
