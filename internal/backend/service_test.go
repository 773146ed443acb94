package backend_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"guardian/internal/backend"
	"guardian/internal/backend/store/memory"
	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.InMemoryStore
	service *backend.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.service = backend.NewService(s.store,
		backend.NewTokenService("test-signing-key", "guardian", "guardian-cli"),
		backend.WithTokenTTL(time.Hour))
}

func (s *ServiceSuite) TestAuthenticate() {
	id, err := s.service.Register(s.ctx, " Admin@Example.org ", "correct horse")
	s.Require().NoError(err)

	s.Run("valid credentials issue a token", func() {
		sess, err := s.service.Authenticate(s.ctx, "admin@example.org", "correct horse")
		s.Require().NoError(err)
		s.Equal(id, sess.UserID)
		s.WithinDuration(time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)

		got, err := s.service.ValidateSession(s.ctx, sess.Token)
		s.Require().NoError(err)
		s.Equal(id, got)
	})

	s.Run("wrong password", func() {
		_, err := s.service.Authenticate(s.ctx, "admin@example.org", "wrong horse")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unknown email looks the same", func() {
		_, err := s.service.Authenticate(s.ctx, "nobody@example.org", "correct horse")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("duplicate registration", func() {
		_, err := s.service.Register(s.ctx, "admin@example.org", "another password")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("short password", func() {
		_, err := s.service.Register(s.ctx, "new@example.org", "short")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestProfiles() {
	addr := common.HexToAddress("0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2")

	s.Run("missing profile is not found", func() {
		_, err := s.service.FindProfile(s.ctx, domain.NewUserID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("save and look up by address", func() {
		p := &backend.Profile{UserID: domain.WalletUserID(addr), DisplayName: "Officer", Role: domain.RoleOfficer, Address: &addr}
		s.Require().NoError(s.service.SaveProfile(s.ctx, p))
		s.Equal("Police Officer", p.RoleTitle)

		got, err := s.service.FindProfileByAddress(s.ctx, addr)
		s.Require().NoError(err)
		s.Equal(domain.RoleOfficer, got.Role)
		s.False(got.CreatedAt.IsZero())
	})

	s.Run("address belongs to one profile", func() {
		p := &backend.Profile{UserID: domain.NewUserID(), DisplayName: "Other", Role: domain.RoleLawyer, Address: &addr}
		err := s.service.SaveProfile(s.ctx, p)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("invalid profile is refused", func() {
		err := s.service.SaveProfile(s.ctx, &backend.Profile{UserID: domain.NewUserID(), Role: domain.RoleLawyer})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestCreateProfileIfFirstIsExclusive() {
	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.service.CreateProfileIfFirst(s.ctx, &backend.Profile{
				UserID: domain.NewUserID(), DisplayName: "Admin", Role: domain.RoleCourt,
			})
			s.NoError(err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
	n, err := s.service.CountProfiles(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}
