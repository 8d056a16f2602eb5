package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"whatsapp-automations/internal/automation"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/otp"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/internal/testutil"
	"whatsapp-automations/internal/triggers"
	"whatsapp-automations/internal/whatsapp"
	"whatsapp-automations/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const otpTemplate = "lightfunnels-otp-verification"

type sentText struct {
	instance, number, text string
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
	f.sent = append(f.sent, sentText{instance, number, text})
	return &whatsapp.SendResponse{Status: "PENDING"}, nil
}

type testServer struct {
	engine    *gin.Engine
	store     *database.Store
	fx        testutil.Fixtures
	messenger *fakeMessenger
	gateway   *fakeGateway
	funnels   *fakeFunnels
	shop      *fakeShop
	sheets    *fakeSheetsOpener
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := testutil.NewStore(t)
	fx := testutil.SeedFixtures(t, store, models.PlatformLightfunnels)
	registry := templates.NewRegistry()
	log := logger.NewNopLogger()
	messenger := &fakeMessenger{}
	gateway := &fakeGateway{state: "open"}
	funnels := &fakeFunnels{}
	shop := &fakeShop{}
	sheetsOpener := &fakeSheetsOpener{}

	manager := automation.NewManager(store, registry, triggers.NewRegistry(), "http://example.test/webhooks", log)
	otpService := otp.NewService(store, messenger, registry, 6, 10*time.Minute, log)

	r := gin.New()
	NewOTPHandler(otpService, store, "http://example.test", log).Register(r)
	apiGroup := r.Group("/api", RequireUser())
	NewAutomationHandler(manager, registry, store).Register(apiGroup)
	NewResourceHandler(store, gateway, "http://example.test/webhooks", log).Register(apiGroup)
	NewPlatformHandler(store, funnels, shop, sheetsOpener).Register(apiGroup)

	return &testServer{
		engine:    r,
		store:     store,
		fx:        fx,
		messenger: messenger,
		gateway:   gateway,
		funnels:   funnels,
		shop:      shop,
		sheets:    sheetsOpener,
	}
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) createOTPAutomation(t *testing.T) models.Automation {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/automations", s.fx.UserID, map[string]interface{}{
		"templateId": otpTemplate,
		"name":       "Checkout OTP",
		"deviceId":   s.fx.Device.ID,
		"config":     map[string]interface{}{"codeLength": 4},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var a models.Automation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	return a
}

func TestAPI_RequiresUser(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/automations", "", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetTemplates(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/templates", s.fx.UserID, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var defs []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &defs))
	assert.Len(t, defs, 6)
}

func TestAutomationLifecycle(t *testing.T) {
	s := newTestServer(t)
	a := s.createOTPAutomation(t)
	assert.True(t, a.IsActive)
	assert.Equal(t, otpTemplate, a.TemplateDefinitionID)

	w := s.do(t, http.MethodGet, "/api/automations", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Automation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)

	w = s.do(t, http.MethodGet, "/api/automations/"+a.ID, "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, "/api/automations/"+a.ID, s.fx.UserID, map[string]interface{}{"name": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"Renamed"`)

	w = s.do(t, http.MethodPost, "/api/automations/"+a.ID+"/toggle", s.fx.UserID, map[string]interface{}{"isActive": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_active":false`)

	w = s.do(t, http.MethodGet, "/api/automations/"+a.ID+"/runs", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/automations/analytics", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_automations":1`)

	w = s.do(t, http.MethodDelete, "/api/automations/"+a.ID, s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/automations/"+a.ID, s.fx.UserID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAutomation_ValidationErrorListsFields(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/automations", s.fx.UserID, map[string]interface{}{
		"templateId": "no-such-template",
		"name":       "x",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Fields []struct {
			Path string `json:"path"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "templateId", body.Fields[0].Path)
}

func TestBulkDelete_ReportsPartialFailure(t *testing.T) {
	s := newTestServer(t)
	a := s.createOTPAutomation(t)

	w := s.do(t, http.MethodPost, "/api/automations/bulk-delete", s.fx.UserID, map[string]interface{}{
		"ids": []string{a.ID, "missing"},
	})

	require.Equal(t, http.StatusMultiStatus, w.Code)
	var body struct {
		Deleted []string `json:"deleted"`
		Failed  []string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{a.ID}, body.Deleted)
	assert.Equal(t, []string{"missing"}, body.Failed)
}

func TestOTPRequest(t *testing.T) {
	s := newTestServer(t)
	a := s.createOTPAutomation(t)
	phone := map[string]interface{}{"phone": "+12015550123"}

	t.Run("missing automation", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/otp/lightfunnels/request", "", phone)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid phone", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/otp/lightfunnels/request?automationId="+a.ID, "", map[string]interface{}{"phone": "12"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("send failure", func(t *testing.T) {
		s.messenger.err = assert.AnError
		defer func() { s.messenger.err = nil }()
		w := s.do(t, http.MethodPost, "/otp/lightfunnels/request?automationId="+a.ID, "", phone)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("sends a code then verifies it once", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/otp/lightfunnels/request?automationId="+a.ID, "", phone)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Len(t, s.messenger.sent, 1)
		assert.Equal(t, "12015550123", s.messenger.sent[0].number)

		var record models.OTP
		require.NoError(t, s.store.DB().Where("automation_id = ? AND verified_at IS NULL", a.ID).
			Order("created_at DESC").First(&record).Error)
		assert.Len(t, record.Code, 4)

		verify := map[string]interface{}{"userId": s.fx.UserID, "automationId": a.ID, "phone": "+12015550123", "otp": record.Code}
		w = s.do(t, http.MethodPost, "/otp/lightfunnels/verify", "", verify)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"success":true}`, w.Body.String())

		w = s.do(t, http.MethodPost, "/otp/lightfunnels/verify", "", verify)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"Invalid or expired verification code"}`, w.Body.String())
	})

	t.Run("inactive automation", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/automations/"+a.ID+"/toggle", s.fx.UserID, map[string]interface{}{"isActive": false})
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, http.MethodPost, "/otp/lightfunnels/request?automationId="+a.ID, "", phone)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestOTPScript(t *testing.T) {
	s := newTestServer(t)
	a := s.createOTPAutomation(t)

	w := s.do(t, http.MethodGet, "/otp/lightfunnels/script.js?automationId="+a.ID+"&debug=true", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/javascript")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), "http://example.test/otp/lightfunnels/verify")
	assert.Contains(t, w.Body.String(), "debug: true")
}

func TestResources(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/devices", s.fx.UserID, map[string]interface{}{"instanceName": "second-line"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Device models.Device `json:"device"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	device := created.Device
	assert.Equal(t, models.DeviceConnecting, device.Status)
	assert.Equal(t, []string{"second-line"}, s.gateway.created)
	assert.Equal(t, "http://example.test/webhooks/whatsapp/second-line", s.gateway.webhookURL)

	w = s.do(t, http.MethodPut, "/api/devices/"+device.ID+"/status", "someone-else", map[string]interface{}{"status": "CONNECTED"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, "/api/devices/"+device.ID+"/status", s.fx.UserID, map[string]interface{}{"status": "CONNECTED"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/devices", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var devices []models.Device
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &devices))
	assert.Len(t, devices, 2)

	w = s.do(t, http.MethodPost, "/api/connections", s.fx.UserID, map[string]interface{}{
		"platform": "SHOPIFY", "name": "shop", "accessToken": "secret",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "shopify needs a shop domain")

	w = s.do(t, http.MethodPost, "/api/connections", s.fx.UserID, map[string]interface{}{
		"platform": "SHOPIFY", "name": "shop", "accessToken": "secret", "shopDomain": "demo.myshopify.com",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret")

	w = s.do(t, http.MethodPost, "/api/message-templates", s.fx.UserID, map[string]interface{}{"name": "n", "content": "Hi {{customer_name}}"})
	require.Equal(t, http.StatusCreated, w.Code)
}
