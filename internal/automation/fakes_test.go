package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whatsapp-automations/internal/classifier"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/lightfunnels"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/otp"
	"whatsapp-automations/internal/sheets"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/internal/testutil"
	"whatsapp-automations/internal/triggers"
	"whatsapp-automations/internal/whatsapp"
	"whatsapp-automations/pkg/logger"

	"github.com/stretchr/testify/require"
)

type sentText struct {
	instance string
	number   string
	text     string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentText
	err  error
}

func (f *fakeMessenger) SendText(_ context.Context, instance, number, text string) (*whatsapp.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentText{instance: instance, number: number, text: text})
	resp := &whatsapp.SendResponse{Status: "PENDING"}
	resp.Key.ID = fmt.Sprintf("msg-%d", len(f.sent))
	return resp, nil
}

func (f *fakeMessenger) messages() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

type fakeClassifier struct {
	label classifier.Classification
	err   error
	calls int32
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) (classifier.Classification, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.label, f.err
}

type fakeCheckouts struct {
	checkout *lightfunnels.Checkout
	err      error
	calls    int
}

func (f *fakeCheckouts) Checkout(_ context.Context, _, id string) (*lightfunnels.Checkout, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c := *f.checkout
	c.ID = id
	return &c, nil
}

type scheduledJob struct {
	kind  string
	runID string
	delay time.Duration
}

type fakeJobs struct {
	jobs []scheduledJob
}

func (f *fakeJobs) Schedule(_ context.Context, kind, runID string, delay time.Duration, _ interface{}) (string, error) {
	f.jobs = append(f.jobs, scheduledJob{kind: kind, runID: runID, delay: delay})
	return fmt.Sprintf("job-%d", len(f.jobs)), nil
}

type fakeCodes struct {
	inputs []otp.IssueInput
	err    error
}

func (f *fakeCodes) Issue(_ context.Context, a *models.Automation, _ *templates.OTPVerificationConfig, in otp.IssueInput) (*models.OTP, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &models.OTP{ID: "otp-1", AutomationID: a.ID, PhoneNumber: "12015550123"}, nil
}

// fakeSheet holds a header row and data rows starting at sheet row 2.
type fakeSheet struct {
	headers  []string
	rows     [][]string
	appended [][]interface{}
	fromRows []int
}

func (f *fakeSheet) Open(_ context.Context, _ *models.Connection) (SheetSession, error) {
	return f, nil
}

func (f *fakeSheet) ListSpreadsheets(_ context.Context) ([]sheets.Spreadsheet, error) {
	return []sheets.Spreadsheet{{ID: "sheet-1", Name: "Orders"}}, nil
}

func (f *fakeSheet) CreateSpreadsheet(_ context.Context, title string) (*sheets.Spreadsheet, error) {
	return &sheets.Spreadsheet{ID: "sheet-new", Name: title}, nil
}

func (f *fakeSheet) ReadHeaders(_ context.Context, _, _ string) ([]string, error) {
	return f.headers, nil
}

func (f *fakeSheet) ReadRows(_ context.Context, _, _ string, fromRow int) ([][]string, error) {
	f.fromRows = append(f.fromRows, fromRow)
	idx := fromRow - 2
	if idx < 0 {
		idx = 0
	}
	if idx >= len(f.rows) {
		return nil, nil
	}
	return f.rows[idx:], nil
}

func (f *fakeSheet) AppendRows(_ context.Context, _, _ string, headers []string, rows [][]interface{}, writeHeaders bool) (int, error) {
	if writeHeaders && len(f.headers) == 0 {
		f.headers = headers
	}
	f.appended = append(f.appended, rows...)
	return len(rows), nil
}

type harness struct {
	store      *database.Store
	exec       *Executor
	messenger  *fakeMessenger
	classifier *fakeClassifier
	checkouts  *fakeCheckouts
	jobs       *fakeJobs
	codes      *fakeCodes
	sheet      *fakeSheet
	notified   *recordingNotifier
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []models.RunStatus
}

func (r *recordingNotifier) NotifyRun(run *models.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, run.Status)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      testutil.NewStore(t),
		messenger:  &fakeMessenger{},
		classifier: &fakeClassifier{label: classifier.Confirm},
		checkouts:  &fakeCheckouts{checkout: &lightfunnels.Checkout{}},
		jobs:       &fakeJobs{},
		codes:      &fakeCodes{},
		sheet:      &fakeSheet{},
		notified:   &recordingNotifier{},
	}
	exec, err := NewExecutor(h.store, templates.NewRegistry(), h.classifier, h.notified, logger.NewNopLogger(),
		NewOrderConfirmation(h.messenger),
		NewAbandonedCheckout(h.messenger, h.checkouts, h.jobs),
		NewOTPVerification(h.codes),
		NewOrderToSheet(h.sheet),
		NewSheetRowMessage(h.sheet, h.messenger),
	)
	require.NoError(t, err)
	h.exec = exec
	return h
}

// automation stores an automation directly, bypassing trigger setup.
func (h *harness) automation(t *testing.T, fx testutil.Fixtures, templateID string, config map[string]interface{}) *models.Automation {
	t.Helper()
	def, ok := h.exec.templates.Get(templateID)
	require.True(t, ok, templateID)
	raw, err := json.Marshal(config)
	require.NoError(t, err)
	cfg, err := def.DecodeConfig(raw)
	require.NoError(t, err)
	encoded, err := templates.EncodeConfig(cfg)
	require.NoError(t, err)

	a := &models.Automation{
		UserID:               fx.UserID,
		TemplateDefinitionID: templateID,
		Name:                 "test " + templateID,
		Config:               encoded,
		ConnectionID:         models.StringPtr(fx.Connection.ID),
		DeviceID:             models.StringPtr(fx.Device.ID),
		TemplateID:           models.StringPtr(fx.Template.ID),
		Trigger:              def.Trigger.Kind,
		TriggerConfig:        "{}",
		IsActive:             true,
		Metadata:             "{}",
	}
	require.NoError(t, h.store.CreateAutomation(context.Background(), a))
	return a
}

// onlyRun returns the single run of an automation.
func (h *harness) onlyRun(t *testing.T, automationID string) *models.Run {
	t.Helper()
	runs, err := h.store.ListRuns(context.Background(), automationID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return &runs[0]
}

type fakeTriggerService struct {
	platform     models.Platform
	setupErr     error
	cleanupErr   error
	cleanupFails bool
	calls        []string
}

func (f *fakeTriggerService) CanHandle(platform models.Platform, _ string) bool {
	return platform == f.platform
}

func (f *fakeTriggerService) Setup(_ context.Context, in triggers.SetupInput) (*triggers.SetupResult, error) {
	f.calls = append(f.calls, "setup:"+in.TriggerType)
	if f.setupErr != nil {
		return nil, f.setupErr
	}
	return &triggers.SetupResult{
		ExternalID: fmt.Sprintf("ext-%d", len(f.calls)),
		WebhookURL: triggers.CallbackURL(in.WebhookURLBase, in.AutomationID),
	}, nil
}

func (f *fakeTriggerService) Cleanup(_ context.Context, in triggers.CleanupInput) (*triggers.CleanupResult, error) {
	f.calls = append(f.calls, "cleanup:"+in.TriggerConfig.ExternalID)
	if f.cleanupErr != nil {
		return nil, f.cleanupErr
	}
	if f.cleanupFails {
		return &triggers.CleanupResult{Success: false, Message: "provider refused"}, nil
	}
	return &triggers.CleanupResult{Success: true}, nil
}
