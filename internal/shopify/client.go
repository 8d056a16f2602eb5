// Package shopify wraps the pieces of the Shopify Admin GraphQL API the
// automations need: webhook subscriptions and order lookups.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/config"

	"github.com/tidwall/gjson"
)

const provider = "shopify"

// Webhook subscription topics.
const (
	TopicOrdersCreate    = "ORDERS_CREATE"
	TopicOrdersPaid      = "ORDERS_PAID"
	TopicCheckoutsCreate = "CHECKOUTS_CREATE"
)

type Client struct {
	httpClient  *http.Client
	endpointFor func(shopDomain string) string
}

func NewClient(cfg *config.Config) *Client {
	version := cfg.ShopifyAPIVersion
	return &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		endpointFor: func(shopDomain string) string {
			return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", strings.TrimSuffix(shopDomain, "/"), version)
		},
	}
}

type WebhookSubscription struct {
	ID          string `json:"id"`
	Topic       string `json:"topic"`
	CallbackURL string `json:"callbackUrl"`
}

type Order struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	FinancialStatus string  `json:"financialStatus"`
	Total           float64 `json:"total"`
	Currency        string  `json:"currency"`
	Email           string  `json:"email"`
	Phone           string  `json:"phone"`
	CustomerName    string  `json:"customerName"`
	ShippingPhone   string  `json:"shippingPhone"`
	ShippingCountry string  `json:"shippingCountry"`
	BillingPhone    string  `json:"billingPhone"`
	BillingCountry  string  `json:"billingCountry"`
}

func (c *Client) query(ctx context.Context, shopDomain, accessToken, query string, variables map[string]interface{}) (gjson.Result, error) {
	payload, err := json.Marshal(map[string]interface{}{"query": query, "variables": variables})
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointFor(shopDomain), bytes.NewBuffer(payload))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("X-Shopify-Access-Token", accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, &apperr.ExternalAPIError{Provider: provider, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, &apperr.ExternalAPIError{Provider: provider, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, &apperr.ExternalAPIError{Provider: provider, StatusCode: resp.StatusCode, Message: resp.Status, Body: string(body)}
	}
	parsed := gjson.ParseBytes(body)
	if errs := parsed.Get("errors"); errs.Exists() {
		return gjson.Result{}, &apperr.ExternalAPIError{Provider: provider, StatusCode: resp.StatusCode, Message: errs.Get("0.message").String(), Body: string(body)}
	}
	return parsed.Get("data"), nil
}

// userErrors turns a mutation's userErrors array into an ExternalAPIError.
func userErrors(r gjson.Result, raw string) error {
	errs := r.Array()
	if len(errs) == 0 {
		return nil
	}
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Get("message").String())
	}
	msg := strings.Join(messages, "; ")
	status := http.StatusUnprocessableEntity
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "not exist") || strings.Contains(lower, "not found") {
		status = http.StatusNotFound
	}
	return &apperr.ExternalAPIError{Provider: provider, StatusCode: status, Message: msg, Body: raw}
}

const createSubscriptionMutation = `mutation webhookSubscriptionCreate($topic: WebhookSubscriptionTopic!, $webhookSubscription: WebhookSubscriptionInput!) {
  webhookSubscriptionCreate(topic: $topic, webhookSubscription: $webhookSubscription) {
    webhookSubscription { id topic endpoint { ... on WebhookHttpEndpoint { callbackUrl } } }
    userErrors { field message }
  }
}`

func (c *Client) CreateWebhookSubscription(ctx context.Context, shopDomain, accessToken, topic, callbackURL string) (*WebhookSubscription, error) {
	data, err := c.query(ctx, shopDomain, accessToken, createSubscriptionMutation, map[string]interface{}{
		"topic":               topic,
		"webhookSubscription": map[string]interface{}{"callbackUrl": callbackURL, "format": "JSON"},
	})
	if err != nil {
		return nil, fmt.Errorf("create %s subscription: %w", topic, err)
	}
	result := data.Get("webhookSubscriptionCreate")
	if err := userErrors(result.Get("userErrors"), data.Raw); err != nil {
		return nil, fmt.Errorf("create %s subscription: %w", topic, err)
	}
	sub := result.Get("webhookSubscription")
	return &WebhookSubscription{
		ID:          sub.Get("id").String(),
		Topic:       sub.Get("topic").String(),
		CallbackURL: sub.Get("endpoint.callbackUrl").String(),
	}, nil
}

const deleteSubscriptionMutation = `mutation webhookSubscriptionDelete($id: ID!) {
  webhookSubscriptionDelete(id: $id) { deletedWebhookSubscriptionId userErrors { field message } }
}`

func (c *Client) DeleteWebhookSubscription(ctx context.Context, shopDomain, accessToken, id string) error {
	data, err := c.query(ctx, shopDomain, accessToken, deleteSubscriptionMutation, map[string]interface{}{"id": id})
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	if err := userErrors(data.Get("webhookSubscriptionDelete.userErrors"), data.Raw); err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	return nil
}

const listSubscriptionsQuery = `query {
  webhookSubscriptions(first: 100) { edges { node { id topic endpoint { ... on WebhookHttpEndpoint { callbackUrl } } } } }
}`

func (c *Client) WebhookSubscriptions(ctx context.Context, shopDomain, accessToken string) ([]WebhookSubscription, error) {
	data, err := c.query(ctx, shopDomain, accessToken, listSubscriptionsQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	var out []WebhookSubscription
	data.Get("webhookSubscriptions.edges.#.node").ForEach(func(_, node gjson.Result) bool {
		out = append(out, WebhookSubscription{
			ID:          node.Get("id").String(),
			Topic:       node.Get("topic").String(),
			CallbackURL: node.Get("endpoint.callbackUrl").String(),
		})
		return true
	})
	return out, nil
}

const orderQuery = `query Order($id: ID!) {
  order(id: $id) {
    id name displayFinancialStatus email phone
    totalPriceSet { shopMoney { amount currencyCode } }
    customer { displayName phone }
    shippingAddress { phone countryCodeV2 }
    billingAddress { phone countryCodeV2 }
  }
}`

// Order accepts a numeric id or a gid://shopify/Order/ id.
func (c *Client) Order(ctx context.Context, shopDomain, accessToken, id string) (*Order, error) {
	gid := id
	if !strings.HasPrefix(gid, "gid://") {
		gid = "gid://shopify/Order/" + id
	}
	data, err := c.query(ctx, shopDomain, accessToken, orderQuery, map[string]interface{}{"id": gid})
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	node := data.Get("order")
	if node.Type == gjson.Null || !node.Exists() {
		return nil, &apperr.ExternalAPIError{Provider: provider, StatusCode: http.StatusNotFound, Message: "order " + id + " not found"}
	}
	return &Order{
		ID:              node.Get("id").String(),
		Name:            node.Get("name").String(),
		FinancialStatus: strings.ToLower(node.Get("displayFinancialStatus").String()),
		Total:           node.Get("totalPriceSet.shopMoney.amount").Float(),
		Currency:        node.Get("totalPriceSet.shopMoney.currencyCode").String(),
		Email:           node.Get("email").String(),
		Phone:           firstNonEmpty(node.Get("phone").String(), node.Get("customer.phone").String()),
		CustomerName:    node.Get("customer.displayName").String(),
		ShippingPhone:   node.Get("shippingAddress.phone").String(),
		ShippingCountry: node.Get("shippingAddress.countryCodeV2").String(),
		BillingPhone:    node.Get("billingAddress.phone").String(),
		BillingCountry:  node.Get("billingAddress.countryCodeV2").String(),
	}, nil
}

// ParseOrderPayload reads the REST-shaped JSON Shopify posts to webhook subscribers.
func ParseOrderPayload(payload gjson.Result) Order {
	name := strings.TrimSpace(payload.Get("customer.first_name").String() + " " + payload.Get("customer.last_name").String())
	if name == "" {
		name = strings.TrimSpace(payload.Get("shipping_address.name").String())
	}
	return Order{
		ID:              payload.Get("id").String(),
		Name:            payload.Get("name").String(),
		FinancialStatus: payload.Get("financial_status").String(),
		Total:           payload.Get("total_price").Float(),
		Currency:        payload.Get("currency").String(),
		Email:           payload.Get("email").String(),
		Phone:           firstNonEmpty(payload.Get("phone").String(), payload.Get("customer.phone").String()),
		CustomerName:    name,
		ShippingPhone:   payload.Get("shipping_address.phone").String(),
		ShippingCountry: payload.Get("shipping_address.country_code").String(),
		BillingPhone:    payload.Get("billing_address.phone").String(),
		BillingCountry:  payload.Get("billing_address.country_code").String(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
