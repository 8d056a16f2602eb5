package shopify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestClient(t *testing.T, respond func(vars map[string]interface{}) string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shpat_1", r.Header.Get("X-Shopify-Access-Token"))
		var body struct {
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(respond(body.Variables)))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(&config.Config{ShopifyAPIVersion: "2024-10", HTTPTimeout: 5 * time.Second})
	client.endpointFor = func(string) string { return srv.URL }
	return client
}

func TestNewClient_Endpoint(t *testing.T) {
	client := NewClient(&config.Config{ShopifyAPIVersion: "2024-10"})
	assert.Equal(t, "https://demo.myshopify.com/admin/api/2024-10/graphql.json", client.endpointFor("demo.myshopify.com"))
}

func TestCreateWebhookSubscription(t *testing.T) {
	client := newTestClient(t, func(vars map[string]interface{}) string {
		assert.Equal(t, TopicOrdersCreate, vars["topic"])
		return `{"data":{"webhookSubscriptionCreate":{"webhookSubscription":{"id":"gid://shopify/WebhookSubscription/7","topic":"ORDERS_CREATE","endpoint":{"callbackUrl":"https://app/webhooks/a1"}},"userErrors":[]}}}`
	})

	sub, err := client.CreateWebhookSubscription(context.Background(), "demo.myshopify.com", "shpat_1", TopicOrdersCreate, "https://app/webhooks/a1")
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/WebhookSubscription/7", sub.ID)
	assert.Equal(t, "https://app/webhooks/a1", sub.CallbackURL)
}

func TestDeleteWebhookSubscription_MissingIs404(t *testing.T) {
	client := newTestClient(t, func(vars map[string]interface{}) string {
		return `{"data":{"webhookSubscriptionDelete":{"deletedWebhookSubscriptionId":null,"userErrors":[{"field":["id"],"message":"Webhook subscription does not exist"}]}}}`
	})

	err := client.DeleteWebhookSubscription(context.Background(), "demo.myshopify.com", "shpat_1", "gid://x")

	var apiErr *apperr.ExternalAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestOrder_NumericID(t *testing.T) {
	client := newTestClient(t, func(vars map[string]interface{}) string {
		assert.Equal(t, "gid://shopify/Order/42", vars["id"])
		return `{"data":{"order":{"id":"gid://shopify/Order/42","name":"#1042","displayFinancialStatus":"PAID",
			"totalPriceSet":{"shopMoney":{"amount":"19.90","currencyCode":"USD"}},
			"customer":{"displayName":"Jane Roe","phone":"+12015550123"},
			"shippingAddress":{"phone":null,"countryCodeV2":"US"}}}}`
	})

	order, err := client.Order(context.Background(), "demo.myshopify.com", "shpat_1", "42")
	require.NoError(t, err)
	assert.Equal(t, "paid", order.FinancialStatus)
	assert.Equal(t, "+12015550123", order.Phone)
	assert.InDelta(t, 19.90, order.Total, 0.001)
	assert.Equal(t, "US", order.ShippingCountry)
}

func TestParseOrderPayload(t *testing.T) {
	order := ParseOrderPayload(gjson.Parse(`{"id":820982911946154500,"name":"#9999","financial_status":"paid",
		"customer":{"first_name":"Jane","last_name":"Roe"},
		"shipping_address":{"phone":"201-555-0123","country_code":"US"}}`))

	assert.Equal(t, "820982911946154500", order.ID)
	assert.Equal(t, "Jane Roe", order.CustomerName)
	assert.Equal(t, "201-555-0123", order.ShippingPhone)
	assert.Equal(t, "", order.Phone)
}
