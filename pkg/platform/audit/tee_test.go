package audit_test

import (
	"context"
	"errors"
	"testing"

	audit "guardian/pkg/platform/audit"
	"guardian/pkg/platform/audit/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{ calls int }

func (f *failingSink) Append(context.Context, audit.Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestTee(t *testing.T) {
	ctx := context.Background()
	primary := memory.NewInMemoryStore()
	mirror := memory.NewInMemoryStore()
	bad := &failingSink{}

	store := audit.Tee(primary, bad, mirror)
	err := store.Append(ctx, audit.NewEvent(audit.EventLoggedOut, "user-1"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, primary.CountAction(audit.EventLoggedOut))
	assert.Equal(t, 1, mirror.CountAction(audit.EventLoggedOut), "later sinks still receive the event")

	events, err := store.ListBySubject(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAuditEventClassification(t *testing.T) {
	tests := []struct {
		event    audit.AuditEvent
		category audit.EventCategory
		severity audit.Severity
	}{
		{audit.EventOwnerBootstrapped, audit.CategoryCompliance, audit.SeverityInfo},
		{audit.EventRoleMismatch, audit.CategorySecurity, audit.SeverityWarning},
		{audit.EventRoleDowngraded, audit.CategorySecurity, audit.SeverityCritical},
		{audit.EventTxSubmitted, audit.CategoryOperations, audit.SeverityInfo},
		{audit.AuditEvent("something_new"), audit.CategoryOperations, audit.SeverityInfo},
	}
	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			e := audit.NewEvent(tt.event, "s")
			assert.Equal(t, tt.category, e.Category)
			assert.Equal(t, tt.severity, e.Severity)
			assert.Equal(t, string(tt.event), e.Action)
		})
	}
}
