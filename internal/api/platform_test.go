package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/automation"
	"whatsapp-automations/internal/lightfunnels"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/sheets"
	"whatsapp-automations/internal/shopify"
	"whatsapp-automations/internal/whatsapp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	state      string
	created    []string
	webhookURL string
	deleted    []string
	logoutErr  error
}

func (f *fakeGateway) CreateInstance(_ context.Context, instance string) (*whatsapp.CreateInstanceResponse, error) {
	f.created = append(f.created, instance)
	resp := &whatsapp.CreateInstanceResponse{}
	resp.QRCode.Base64 = "data:image/png;base64,AAAA"
	return resp, nil
}

func (f *fakeGateway) SetWebhook(_ context.Context, _, webhookURL string, _ []string) error {
	f.webhookURL = webhookURL
	return nil
}

func (f *fakeGateway) ConnectionState(_ context.Context, instance string) (*whatsapp.ConnectionState, error) {
	state := &whatsapp.ConnectionState{}
	state.Instance.InstanceName = instance
	state.Instance.State = f.state
	return state, nil
}

func (f *fakeGateway) LogoutInstance(context.Context, string) error { return f.logoutErr }

func (f *fakeGateway) DeleteInstance(_ context.Context, instance string) error {
	f.deleted = append(f.deleted, instance)
	return nil
}

type fakeFunnels struct {
	token string
	first int
	err   error
}

func (f *fakeFunnels) Funnels(_ context.Context, token string) ([]lightfunnels.Funnel, error) {
	f.token = token
	return []lightfunnels.Funnel{{ID: "f1", Name: "Main funnel"}}, f.err
}

func (f *fakeFunnels) Products(_ context.Context, token string) ([]lightfunnels.Product, error) {
	f.token = token
	return []lightfunnels.Product{{ID: "p1", Title: "Serum"}}, f.err
}

func (f *fakeFunnels) Orders(_ context.Context, token string, first int) ([]lightfunnels.Order, error) {
	f.token, f.first = token, first
	return []lightfunnels.Order{}, f.err
}

func (f *fakeFunnels) Order(_ context.Context, token, id string) (*lightfunnels.Order, error) {
	f.token = token
	return &lightfunnels.Order{ID: id}, f.err
}

func (f *fakeFunnels) Webhooks(_ context.Context, token string) ([]lightfunnels.Webhook, error) {
	f.token = token
	return []lightfunnels.Webhook{{ID: "w1", Type: "order/confirmed"}}, f.err
}

type fakeShop struct {
	shopDomain string
}

func (f *fakeShop) Order(_ context.Context, shopDomain, _, id string) (*shopify.Order, error) {
	f.shopDomain = shopDomain
	return &shopify.Order{ID: id, Name: "#1001"}, nil
}

func (f *fakeShop) WebhookSubscriptions(_ context.Context, shopDomain, _ string) ([]shopify.WebhookSubscription, error) {
	f.shopDomain = shopDomain
	return []shopify.WebhookSubscription{{ID: "s1", Topic: "ORDERS_CREATE"}}, nil
}

type fakeSheetsOpener struct {
	titles []string
}

func (f *fakeSheetsOpener) Open(context.Context, *models.Connection) (automation.SheetSession, error) {
	return &fakeSheetSession{opener: f}, nil
}

type fakeSheetSession struct {
	automation.SheetSession
	opener *fakeSheetsOpener
}

func (s *fakeSheetSession) ListSpreadsheets(context.Context) ([]sheets.Spreadsheet, error) {
	return []sheets.Spreadsheet{{ID: "sheet-1", Name: "Orders"}}, nil
}

func (s *fakeSheetSession) CreateSpreadsheet(_ context.Context, title string) (*sheets.Spreadsheet, error) {
	s.opener.titles = append(s.opener.titles, title)
	return &sheets.Spreadsheet{ID: "sheet-2", Name: title}, nil
}

func (s *testServer) createConnection(t *testing.T, body map[string]interface{}) models.Connection {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/connections", s.fx.UserID, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var conn models.Connection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conn))
	return conn
}

func TestRefreshDevice_StoresGatewayState(t *testing.T) {
	s := newTestServer(t)
	s.gateway.state = "close"

	w := s.do(t, http.MethodPost, "/api/devices/"+s.fx.Device.ID+"/refresh", s.fx.UserID, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stored, err := s.store.GetDevice(context.Background(), s.fx.Device.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceDisconnected, stored.Status)
}

func TestDeleteDevice_IgnoresLogoutFailure(t *testing.T) {
	s := newTestServer(t)
	s.gateway.logoutErr = assert.AnError

	w := s.do(t, http.MethodDelete, "/api/devices/"+s.fx.Device.ID, "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, s.gateway.deleted)

	w = s.do(t, http.MethodDelete, "/api/devices/"+s.fx.Device.ID, s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{s.fx.Device.InstanceName}, s.gateway.deleted)

	_, err := s.store.GetDevice(context.Background(), s.fx.Device.ID)
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(err))
}

func TestPlatform_Lightfunnels(t *testing.T) {
	s := newTestServer(t)
	base := "/api/connections/" + s.fx.Connection.ID

	w := s.do(t, http.MethodGet, base+"/funnels", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Main funnel")
	assert.Equal(t, "token-123", s.funnels.token)

	w = s.do(t, http.MethodGet, base+"/products", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Serum")

	w = s.do(t, http.MethodGet, base+"/orders?first=5", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, s.funnels.first)

	w = s.do(t, http.MethodGet, base+"/orders?first=500", s.fx.UserID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, base+"/orders/ord-9", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ord-9")

	w = s.do(t, http.MethodGet, base+"/webhooks", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "order/confirmed")

	w = s.do(t, http.MethodGet, base+"/spreadsheets", s.fx.UserID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "not a sheets connection")

	w = s.do(t, http.MethodGet, base+"/funnels", "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlatform_LightfunnelsFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t)
	s.funnels.err = &apperr.ExternalAPIError{Provider: "lightfunnels", StatusCode: http.StatusUnauthorized, Message: "bad token"}

	w := s.do(t, http.MethodGet, "/api/connections/"+s.fx.Connection.ID+"/funnels", s.fx.UserID, nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPlatform_Shopify(t *testing.T) {
	s := newTestServer(t)
	conn := s.createConnection(t, map[string]interface{}{
		"platform": "SHOPIFY", "name": "shop", "accessToken": "shpat", "shopDomain": "other.myshopify.com",
	})
	base := "/api/connections/" + conn.ID

	w := s.do(t, http.MethodGet, base+"/orders/1001", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "#1001")
	assert.Equal(t, "other.myshopify.com", s.shop.shopDomain)

	w = s.do(t, http.MethodGet, base+"/webhooks", s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ORDERS_CREATE")

	w = s.do(t, http.MethodGet, base+"/funnels", s.fx.UserID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlatform_Spreadsheets(t *testing.T) {
	s := newTestServer(t)
	conn := s.createConnection(t, map[string]interface{}{
		"platform": "GOOGLE_SHEETS", "name": "drive", "accessToken": "ya29", "refreshToken": "1//r",
	})
	base := "/api/connections/" + conn.ID + "/spreadsheets"

	w := s.do(t, http.MethodGet, base, s.fx.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "sheet-1")

	w = s.do(t, http.MethodPost, base, s.fx.UserID, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, base, s.fx.UserID, map[string]interface{}{"title": "Confirmed orders"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"Confirmed orders"}, s.sheets.titles)
}
