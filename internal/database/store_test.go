package database_test

import (
	"context"
	"testing"
	"time"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAutomation_NotFoundIsResourceError(t *testing.T) {
	store := testutil.NewStore(t)

	_, err := store.GetAutomation(context.Background(), "missing")

	var resErr *apperr.ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.True(t, resErr.NotFound())
}

func TestGetAutomationForUser_ChecksOwner(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	a := &models.Automation{UserID: "u1", TemplateDefinitionID: "t", Name: "n", Trigger: models.TriggerWebhook, IsActive: true}
	require.NoError(t, store.CreateAutomation(ctx, a))

	_, err := store.GetAutomationForUser(ctx, "u2", a.ID)
	assert.Error(t, err)

	got, err := store.GetAutomationForUser(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestListActiveAutomationsByTrigger(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	active := &models.Automation{UserID: "u1", TemplateDefinitionID: "t", Name: "a", Trigger: models.TriggerSchedule, IsActive: true}
	inactive := &models.Automation{UserID: "u1", TemplateDefinitionID: "t", Name: "b", Trigger: models.TriggerSchedule, IsActive: false}
	webhook := &models.Automation{UserID: "u1", TemplateDefinitionID: "t", Name: "c", Trigger: models.TriggerWebhook, IsActive: true}
	for _, a := range []*models.Automation{active, inactive, webhook} {
		require.NoError(t, store.CreateAutomation(ctx, a))
	}

	got, err := store.ListActiveAutomationsByTrigger(ctx, models.TriggerSchedule)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)
}

func TestTransitionRun_OnlyFromExpectedStatus(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	run := &models.Run{AutomationID: "a", UserID: "u", Status: models.RunWaitingReply, StartedAt: time.Now().UTC()}
	require.NoError(t, store.CreateRun(ctx, run))

	won, err := store.TransitionRun(ctx, run.ID, []models.RunStatus{models.RunWaitingReply},
		map[string]interface{}{"status": models.RunProcessingReply})
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.TransitionRun(ctx, run.ID, []models.RunStatus{models.RunWaitingReply},
		map[string]interface{}{"status": models.RunProcessingReply})
	require.NoError(t, err)
	assert.False(t, won)
}

func TestFindWaitingRuns_FiltersByDevicePhoneAndWindow(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	fx := testutil.SeedFixtures(t, store, models.PlatformLightfunnels)
	now := time.Now().UTC()

	a := &models.Automation{UserID: fx.UserID, TemplateDefinitionID: "t", Name: "n", Trigger: models.TriggerWebhook,
		IsActive: true, DeviceID: &fx.Device.ID}
	other := &models.Automation{UserID: fx.UserID, TemplateDefinitionID: "t", Name: "o", Trigger: models.TriggerWebhook,
		IsActive: true, DeviceID: models.StringPtr("another-device")}
	require.NoError(t, store.CreateAutomation(ctx, a))
	require.NoError(t, store.CreateAutomation(ctx, other))

	older := &models.Run{AutomationID: a.ID, UserID: fx.UserID, Status: models.RunWaitingReply, PhoneNumber: "212650123456", StartedAt: now.Add(-2 * time.Hour)}
	newer := &models.Run{AutomationID: a.ID, UserID: fx.UserID, Status: models.RunWaitingReply, PhoneNumber: "212650123456", StartedAt: now.Add(-time.Hour)}
	stale := &models.Run{AutomationID: a.ID, UserID: fx.UserID, Status: models.RunWaitingReply, PhoneNumber: "212650123456", StartedAt: now.Add(-72 * time.Hour)}
	done := &models.Run{AutomationID: a.ID, UserID: fx.UserID, Status: models.RunSucceeded, PhoneNumber: "212650123456", StartedAt: now}
	otherDevice := &models.Run{AutomationID: other.ID, UserID: fx.UserID, Status: models.RunWaitingReply, PhoneNumber: "212650123456", StartedAt: now}
	for _, r := range []*models.Run{older, newer, stale, done, otherDevice} {
		require.NoError(t, store.CreateRun(ctx, r))
	}

	runs, err := store.FindWaitingRuns(ctx, "212650123456", fx.Device.ID, now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, older.ID, runs[1].ID)
}

func TestConsumeOTP_OnlyOnce(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	otp := &models.OTP{UserID: "u", Code: "123456", PhoneNumber: "12015550123", ExpiresAt: now.Add(10 * time.Minute), Type: models.OTPTypeVerification}
	require.NoError(t, store.CreateOTP(ctx, otp))

	found, err := store.FindValidOTP(ctx, "u", "12015550123", "123456", now)
	require.NoError(t, err)
	require.NotNil(t, found)

	ok, err := store.ConsumeOTP(ctx, found.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ConsumeOTP(ctx, found.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err = store.FindValidOTP(ctx, "u", "12015550123", "123456", now)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFindValidOTP_IgnoresExpired(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.CreateOTP(ctx, &models.OTP{UserID: "u", Code: "111111", PhoneNumber: "1", ExpiresAt: now.Add(-time.Minute), Type: models.OTPTypeVerification}))

	found, err := store.FindValidOTP(ctx, "u", "1", "111111", now)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCountRunsByStatus_ScopedToOwner(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	mine := &models.Automation{UserID: "u1", TemplateDefinitionID: "t", Name: "mine", Trigger: models.TriggerWebhook, IsActive: true}
	theirs := &models.Automation{UserID: "u2", TemplateDefinitionID: "t", Name: "theirs", Trigger: models.TriggerWebhook, IsActive: true}
	require.NoError(t, store.CreateAutomation(ctx, mine))
	require.NoError(t, store.CreateAutomation(ctx, theirs))

	for _, st := range []models.RunStatus{models.RunSucceeded, models.RunSucceeded, models.RunFailed} {
		require.NoError(t, store.CreateRun(ctx, &models.Run{AutomationID: mine.ID, UserID: "u1", Status: st, StartedAt: time.Now().UTC()}))
	}
	require.NoError(t, store.CreateRun(ctx, &models.Run{AutomationID: theirs.ID, UserID: "u2", Status: models.RunFailed, StartedAt: time.Now().UTC()}))

	counts, err := store.CountRunsByStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.RunSucceeded])
	assert.Equal(t, int64(1), counts[models.RunFailed])
	assert.Zero(t, counts[models.RunWaitingReply])
}

func TestListDevices_OnlyOwned(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateDevice(ctx, &models.Device{UserID: "u1", InstanceName: "one", Status: models.DeviceConnected}))
	require.NoError(t, store.CreateDevice(ctx, &models.Device{UserID: "u2", InstanceName: "two", Status: models.DeviceConnected}))

	devices, err := store.ListDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "one", devices[0].InstanceName)
}
