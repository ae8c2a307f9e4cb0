package service

import (
	"context"
	"io"
	"testing"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports/mocks"
	"prepaid-card-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestAuditService_Log_PersistsToRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	done := make(chan struct{})
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) error {
			if log.Action != domain.AuditActionPayment {
				t.Errorf("expected PAYMENT, got %s", log.Action)
			}
			close(done)
			return nil
		},
	)

	svc.Log(context.Background(), &domain.AuditLog{
		ID:           uuid.New(),
		Actor:        "operator-1",
		Action:       domain.AuditActionPayment,
		ResourceType: "transaction",
		ResourceID:   uuid.New().String(),
		IPAddress:    "127.0.0.1",
		CreatedAt:    time.Now(),
	})

	select {
	case <-done:
		// OK
	case <-time.After(2 * time.Second):
		t.Fatal("audit log not persisted in time")
	}
}

func TestAuditService_Log_OutlivesRequestContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ *domain.AuditLog) error {
			return ctx.Err()
		},
	)

	svc.Log(ctx, &domain.AuditLog{ID: uuid.New(), Action: domain.AuditActionSettle})
	svc.Wait()
}

func TestAuditService_Log_NilRepo(t *testing.T) {
	svc := NewAuditService(nil, newTestLogger())

	// Should not panic
	svc.Log(context.Background(), &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionLogin,
		ResourceType: "session",
		IPAddress:    "127.0.0.1",
		CreatedAt:    time.Now(),
	})
	svc.Wait()
}

func TestAuditService_List(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())
	ctx := context.Background()

	_, err := svc.List(ctx, &domain.Principal{Role: domain.RoleCustomer}, 10)
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))

	want := []domain.AuditLog{{ID: uuid.New(), Action: domain.AuditActionIssueCard}}
	mockRepo.EXPECT().List(ctx, defaultAuditLimit).Return(want, nil)
	got, err := svc.List(ctx, domain.SystemPrincipal(), 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	mockRepo.EXPECT().List(ctx, maxAuditLimit).Return(nil, nil)
	_, err = svc.List(ctx, domain.SystemPrincipal(), 10_000)
	require.NoError(t, err)
}
