//go:build integration

package main_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightside-club/service-discount/internal/application"
	"github.com/rightside-club/service-discount/internal/domain/access"
	"github.com/rightside-club/service-discount/internal/domain/job"
	"github.com/rightside-club/service-discount/internal/events"
	"github.com/rightside-club/service-discount/internal/pkg/domain"
)

// TestDiscountJob_AppliesAndReverts verifies the full lifecycle: a due job
// is activated by the scheduler loop, the discount is written to billing,
// and after ends_at passes the baseline discount is restored.
func TestDiscountJob_AppliesAndReverts(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupDiscountStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()

	clientUUID := seedBillingClient(t, stack.Billing, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stack.Scheduler.Run(ctx)

	// A job that is due immediately and expires in a few seconds.
	now := time.Now().UTC()
	j, err := job.New(clientUUID, "79001234567", "", 15, now, now.Add(3*time.Second), "100500")
	require.NoError(t, err)
	require.NoError(t, stack.Scheduler.CreateJob(context.Background(), j))

	// Applied: DB active, billing overwritten, baseline captured.
	model := waitForJobStatus(t, infra.DB, j.ID(), "active", 10*time.Second)
	require.NotNil(t, model.PreviousValue)
	assert.Equal(t, 5, *model.PreviousValue)

	client, err := stack.Billing.FindClientByUUID(context.Background(), clientUUID)
	require.NoError(t, err)
	assert.Equal(t, 15, client.UserDiscount)

	// Reverted: DB finished, billing back at the baseline.
	waitForJobStatus(t, infra.DB, j.ID(), "finished", 20*time.Second)
	client, err = stack.Billing.FindClientByUUID(context.Background(), clientUUID)
	require.NoError(t, err)
	assert.Equal(t, 5, client.UserDiscount)

	// Both lifecycle events were published to the feed topic.
	applied := consumeOneEvent(t, infra.KafkaBrokers, events.TopicDiscountEvents,
		events.DiscountJobApplied, 15*time.Second)
	var appliedPayload events.JobEvent
	require.NoError(t, applied.ParseData(&appliedPayload))
	assert.Equal(t, j.ID(), appliedPayload.JobID)
	assert.Equal(t, 15, appliedPayload.DiscountValue)

	consumeOneEvent(t, infra.KafkaBrokers, events.TopicDiscountEvents,
		events.DiscountJobFinished, 15*time.Second)
}

// TestCreateDiscount_ImmediateActivation verifies the service-level create
// path: target resolution by nickname, duration shorthand, and the
// synchronous activation tick.
func TestCreateDiscount_ImmediateActivation(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupDiscountStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()

	clientUUID := seedBillingClient(t, stack.Billing, 5)
	client, err := stack.Billing.FindClientByUUID(context.Background(), clientUUID)
	require.NoError(t, err)

	dto, err := stack.Discounts.Create(context.Background(), "100500", application.CreateDiscountRequest{
		Query:    client.Nickname,
		Value:    15,
		Duration: "2h",
	})
	require.NoError(t, err)

	assert.Equal(t, "active", dto.Status, "due job is applied before the response")
	require.NotNil(t, dto.PreviousValue)
	assert.Equal(t, 5, *dto.PreviousValue)
	assert.Equal(t, clientUUID, dto.ClientUUID)
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Hour), dto.EndsAt, time.Minute)

	client, err = stack.Billing.FindClientByUUID(context.Background(), clientUUID)
	require.NoError(t, err)
	assert.Equal(t, 15, client.UserDiscount)
}

// TestCancelDiscount_RestoresBaseline verifies that canceling an active job
// reverts the remote discount and publishes the cancellation event.
func TestCancelDiscount_RestoresBaseline(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupDiscountStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()

	clientUUID := seedBillingClient(t, stack.Billing, 7)

	dto, err := stack.Discounts.Create(context.Background(), "100500", application.CreateDiscountRequest{
		ClientUUID: clientUUID,
		Value:      30,
		Duration:   "1d",
	})
	require.NoError(t, err)
	require.Equal(t, "active", dto.Status)

	canceled, err := stack.Discounts.Cancel(context.Background(), "1", access.RoleModerator, dto.ID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", canceled.Status)

	client, err := stack.Billing.FindClientByUUID(context.Background(), clientUUID)
	require.NoError(t, err)
	assert.Equal(t, 7, client.UserDiscount)

	waitForJobStatus(t, infra.DB, dto.ID, "canceled", 5*time.Second)
	consumeOneEvent(t, infra.KafkaBrokers, events.TopicDiscountEvents,
		events.DiscountJobCanceled, 15*time.Second)
}

// TestAdminCannotCancelForeignJob verifies the per-role visibility rule.
func TestAdminCannotCancelForeignJob(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupDiscountStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()

	clientUUID := seedBillingClient(t, stack.Billing, 0)

	dto, err := stack.Discounts.Create(context.Background(), "100500", application.CreateDiscountRequest{
		ClientUUID: clientUUID,
		Value:      10,
		Duration:   "1h",
	})
	require.NoError(t, err)

	_, err = stack.Discounts.Cancel(context.Background(), "200600", access.RoleAdmin, dto.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = stack.Discounts.Cancel(context.Background(), "100500", access.RoleAdmin, dto.ID)
	require.NoError(t, err)
}

// TestInviteRedemption_SingleUse verifies that a single invite can only ever
// mint one principal, even under concurrent redemption.
func TestInviteRedemption_SingleUse(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupDiscountStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()

	inv, err := stack.Access.CreateInvite(context.Background(), "1", access.RoleOwner, access.RoleModerator)
	require.NoError(t, err)

	userIDs := []string{"111", "222"}
	errs := make([]error, len(userIDs))
	var wg sync.WaitGroup
	for i, userID := range userIDs {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			_, errs[i] = stack.Access.RedeemInvite(context.Background(), application.RedeemInviteRequest{
				Token:          inv.Token,
				TelegramUserID: userID,
				Username:       "user-" + userID,
			})
		}(i, userID)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, domain.ErrConflict, "loser must see the conflict")
		}
	}
	assert.Equal(t, 1, successes, "exactly one redemption wins")

	principals, err := stack.Access.ListPrincipals(context.Background())
	require.NoError(t, err)
	assert.Len(t, principals, 1)
}
