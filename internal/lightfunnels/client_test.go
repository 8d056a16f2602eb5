package lightfunnels

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

func newTestClient(t *testing.T, handler func(t *testing.T, req graphQLRequest) string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = w.Write([]byte(handler(t, req)))
	}))
	t.Cleanup(srv.Close)
	return NewClient(&config.Config{LightfunnelsAPIURL: srv.URL, HTTPTimeout: 5 * time.Second})
}

func TestCreateWebhook(t *testing.T) {
	client := newTestClient(t, func(t *testing.T, req graphQLRequest) string {
		node := req.Variables["node"].(map[string]interface{})
		assert.Equal(t, EventOrderCreated, node["type"])
		assert.Equal(t, "https://app.example.com/webhooks/a1", node["url"])
		return `{"data":{"createWebhook":{"id":"wh_1","type":"order/created","url":"https://app.example.com/webhooks/a1"}}}`
	})

	hook, err := client.CreateWebhook(context.Background(), "tok", EventOrderCreated, "https://app.example.com/webhooks/a1")
	require.NoError(t, err)
	assert.Equal(t, "wh_1", hook.ID)
}

func TestQuery_GraphQLErrors(t *testing.T) {
	client := newTestClient(t, func(t *testing.T, req graphQLRequest) string {
		return `{"errors":[{"message":"Webhook not found"}]}`
	})

	err := client.DeleteWebhook(context.Background(), "tok", "wh_404")

	var apiErr *apperr.ExternalAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Webhook not found", apiErr.Message)
}

func TestCheckout_Completed(t *testing.T) {
	client := newTestClient(t, func(t *testing.T, req graphQLRequest) string {
		assert.Equal(t, "chk_1", req.Variables["id"])
		return `{"data":{"node":{"id":"chk_1","recovery_url":"https://shop/r/1","phone":"0650123456",
			"shipping_address":{"first_name":"Sara","last_name":"B","country":"MA"},
			"order":{"id":"ord_9","financial_status":"paid"}}}}`
	})

	checkout, err := client.Checkout(context.Background(), "tok", "chk_1")
	require.NoError(t, err)
	assert.True(t, checkout.Completed())
	assert.Equal(t, "Sara B", checkout.CustomerName)
	assert.Equal(t, "MA", checkout.Shipping.Country)
}

func TestOrder_Missing(t *testing.T) {
	client := newTestClient(t, func(t *testing.T, req graphQLRequest) string {
		return `{"data":{"node":null}}`
	})

	_, err := client.Order(context.Background(), "tok", "ord_x")

	var apiErr *apperr.ExternalAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestWebhooksAndFunnels(t *testing.T) {
	client := newTestClient(t, func(t *testing.T, req graphQLRequest) string {
		if req.Variables == nil {
			return `{"data":{"webhooks":{"edges":[{"node":{"id":"w1","type":"order/created","url":"u1"}},{"node":{"id":"w2","type":"checkout/created","url":"u2"}}]}}}`
		}
		return `{"data":{"funnels":{"edges":[{"node":{"id":"f1","name":"Main","slug":"main","alive":true}}]}}}`
	})

	hooks, err := client.Webhooks(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, hooks, 2)
	assert.Equal(t, "checkout/created", hooks[1].Type)

	funnels, err := client.Funnels(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, funnels, 1)
	assert.True(t, funnels[0].Alive)
}

func TestParseOrder(t *testing.T) {
	node := gjson.Parse(`{"id":"ord_1","name":"#1001","total":49.5,"financial_status":"pending",
		"customer":{"full_name":""},
		"shipping_address":{"first_name":"Amine","last_name":"K","phone":"0650123456","country":"MA"},
		"items":[{"title":"Shoes","quantity":2,"price":20}]}`)

	order := ParseOrder(node)

	assert.Equal(t, "ord_1", order.ID)
	assert.Equal(t, "Amine K", order.CustomerName)
	assert.Equal(t, "0650123456", order.BestPhone())
	assert.False(t, order.Paid())
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(2), order.Items[0].Quantity)
}
