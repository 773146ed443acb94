//go:build integration

package kafka_test

import (
	"context"
	"testing"
	"time"

	audit "guardian/pkg/platform/audit"
	"guardian/pkg/platform/audit/consumer"
	"guardian/pkg/platform/audit/store/kafka"
	auditpg "guardian/pkg/platform/audit/store/postgres"
	"guardian/pkg/testutil/containers"

	"github.com/stretchr/testify/suite"
)

type SinkSuite struct {
	suite.Suite
	broker *containers.RedpandaContainer
	pg     *containers.PostgresContainer
}

func TestSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(SinkSuite))
}

func (s *SinkSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.broker = mgr.GetRedpanda(s.T())
	s.pg = mgr.GetPostgres(s.T())
	s.pg.Exec(s.T(), auditpg.Schema)
}

func (s *SinkSuite) TestProduceThenMaterialize() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	topic := "guardian.audit.test"
	sink, err := kafka.New(s.broker.Brokers, topic)
	s.Require().NoError(err)
	defer sink.Close()
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1), "second ensure is a no-op")

	subject := "0x4B20993Bc481177ec7E8f571ceCaE8A9e22C02db"
	for _, action := range []audit.AuditEvent{audit.EventLoginSucceeded, audit.EventTxConfirmed} {
		ev := audit.NewEvent(action, subject)
		ev.Timestamp = time.Now().UTC()
		s.Require().NoError(sink.Append(ctx, ev))
	}

	store := auditpg.New(s.pg.DB)
	mat, err := consumer.New(s.broker.Brokers, "guardian-audit-test", topic, store, nil)
	s.Require().NoError(err)
	defer mat.Close()

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- mat.Run(runCtx) }()

	s.Eventually(func() bool {
		events, err := store.ListBySubject(ctx, subject)
		return err == nil && len(events) == 2
	}, 30*time.Second, 250*time.Millisecond)
	stop()
	<-done

	events, err := store.ListBySubject(ctx, subject)
	s.Require().NoError(err)
	s.Equal(string(audit.EventLoginSucceeded), events[0].Action)
	s.Equal(audit.CategoryCompliance, events[1].Category)
}
