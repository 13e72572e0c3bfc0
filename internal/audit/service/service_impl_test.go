package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/medistore/payments/internal/audit/domain"
	"github.com/medistore/payments/internal/audit/repository"
	"github.com/medistore/payments/internal/clock"
	obscontext "github.com/medistore/payments/internal/observability/context"
	"github.com/medistore/payments/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAuditService(t *testing.T) auditdomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return NewService(Params{
		DB:    dbtest.Open(t),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestRecordCapturesContextAndMasks(t *testing.T) {
	svc := newAuditService(t)
	ctx := obscontext.WithRequestID(context.Background(), "req-7")
	ctx = obscontext.WithActor(ctx, "webhook", "razorpay")

	err := svc.Record(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionWebhookReconciled,
		TargetType: auditdomain.TargetTypePaymentOrder,
		TargetID:   "order_abc",
		Metadata: map[string]any{
			"status": "paid",
			"email":  "asha@example.com",
		},
	})
	require.NoError(t, err)

	logs, err := svc.ListByTarget(context.Background(), auditdomain.TargetTypePaymentOrder, "order_abc")
	require.NoError(t, err)
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, auditdomain.ActionWebhookReconciled, entry.Action)
	assert.Equal(t, "webhook", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "razorpay", *entry.ActorID)
	require.NotNil(t, entry.RequestID)
	assert.Equal(t, "req-7", *entry.RequestID)
	assert.Equal(t, "paid", entry.Metadata["status"])
	assert.Equal(t, "****.com", entry.Metadata["email"])
}

func TestRecordDefaultsActorToSystem(t *testing.T) {
	svc := newAuditService(t)

	require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{
		Action:     auditdomain.ActionTransactionSwept,
		TargetType: auditdomain.TargetTypePaymentOrder,
		TargetID:   "order_1",
	}))

	logs, err := svc.ListByTarget(context.Background(), auditdomain.TargetTypePaymentOrder, "order_1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActorTypeSystem, logs[0].ActorType)
	assert.Nil(t, logs[0].RequestID)
}

func TestRecordValidates(t *testing.T) {
	svc := newAuditService(t)

	err := svc.Record(context.Background(), auditdomain.Entry{TargetID: "x"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	err = svc.Record(context.Background(), auditdomain.Entry{Action: "order.created"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTarget)
}
