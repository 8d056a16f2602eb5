// Package lightfunnels is a small GraphQL client for the Lightfunnels admin API.
package lightfunnels

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

const provider = "lightfunnels"

// Webhook event types understood by Lightfunnels.
const (
	EventOrderCreated    = "order/created"
	EventOrderConfirmed  = "order/confirmed"
	EventOrderPaid       = "order/paid"
	EventCheckoutCreated = "checkout/created"
)

type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		endpoint:   cfg.LightfunnelsAPIURL,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

type Funnel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Alive bool   `json:"alive"`
}

type Product struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
}

type Webhook struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Query runs a GraphQL document with the connection's access token and
// returns the "data" object.
func (c *Client) Query(ctx context.Context, accessToken, query string, variables map[string]interface{}) (gjson.Result, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
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
	if errs := parsed.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		messages := make([]string, 0, len(errs.Array()))
		for _, e := range errs.Array() {
			messages = append(messages, e.Get("message").String())
		}
		status := resp.StatusCode
		if strings.Contains(strings.ToLower(strings.Join(messages, " ")), "not found") {
			status = http.StatusNotFound
		}
		return gjson.Result{}, &apperr.ExternalAPIError{
			Provider:   provider,
			StatusCode: status,
			Message:    strings.Join(messages, "; "),
			Body:       string(body),
		}
	}
	return parsed.Get("data"), nil
}

const funnelsQuery = `query Funnels($first: Int) {
  funnels(first: $first) { edges { node { id name slug alive } } }
}`

func (c *Client) Funnels(ctx context.Context, accessToken string) ([]Funnel, error) {
	data, err := c.Query(ctx, accessToken, funnelsQuery, map[string]interface{}{"first": 100})
	if err != nil {
		return nil, fmt.Errorf("list funnels: %w", err)
	}
	var out []Funnel
	data.Get("funnels.edges.#.node").ForEach(func(_, node gjson.Result) bool {
		out = append(out, Funnel{
			ID:    node.Get("id").String(),
			Name:  node.Get("name").String(),
			Slug:  node.Get("slug").String(),
			Alive: node.Get("alive").Bool(),
		})
		return true
	})
	return out, nil
}

const productsQuery = `query Products($first: Int) {
  products(first: $first) { edges { node { id title price } } }
}`

func (c *Client) Products(ctx context.Context, accessToken string) ([]Product, error) {
	data, err := c.Query(ctx, accessToken, productsQuery, map[string]interface{}{"first": 100})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	var out []Product
	data.Get("products.edges.#.node").ForEach(func(_, node gjson.Result) bool {
		out = append(out, Product{
			ID:    node.Get("id").String(),
			Title: node.Get("title").String(),
			Price: node.Get("price").Float(),
		})
		return true
	})
	return out, nil
}

const orderFields = `id _id name total currency financial_status email phone created_at
  customer { full_name }
  shipping_address { first_name last_name phone country city line1 }
  billing_address { first_name last_name phone country city line1 }
  items { title quantity price }`

var ordersQuery = `query Orders($first: Int) {
  orders(first: $first) { edges { node { ` + orderFields + ` } } }
}`

func (c *Client) Orders(ctx context.Context, accessToken string, first int) ([]Order, error) {
	data, err := c.Query(ctx, accessToken, ordersQuery, map[string]interface{}{"first": first})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var out []Order
	data.Get("orders.edges.#.node").ForEach(func(_, node gjson.Result) bool {
		out = append(out, ParseOrder(node))
		return true
	})
	return out, nil
}

var orderQuery = `query Order($id: ID!) { node(id: $id) { ... on Order { ` + orderFields + ` } } }`

func (c *Client) Order(ctx context.Context, accessToken, id string) (*Order, error) {
	data, err := c.Query(ctx, accessToken, orderQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	node := data.Get("node")
	if !node.Exists() || node.Type == gjson.Null {
		return nil, &apperr.ExternalAPIError{Provider: provider, StatusCode: http.StatusNotFound, Message: "order " + id + " not found"}
	}
	order := ParseOrder(node)
	return &order, nil
}

const checkoutQuery = `query Checkout($id: ID!) {
  node(id: $id) { ... on Checkout {
    id recovery_url email phone total
    customer { full_name }
    shipping_address { first_name last_name phone country city line1 }
    billing_address { first_name last_name phone country city line1 }
    order { id financial_status }
  } }
}`

func (c *Client) Checkout(ctx context.Context, accessToken, id string) (*Checkout, error) {
	data, err := c.Query(ctx, accessToken, checkoutQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get checkout %s: %w", id, err)
	}
	node := data.Get("node")
	if !node.Exists() || node.Type == gjson.Null {
		return nil, &apperr.ExternalAPIError{Provider: provider, StatusCode: http.StatusNotFound, Message: "checkout " + id + " not found"}
	}
	checkout := ParseCheckout(node)
	return &checkout, nil
}

const createWebhookMutation = `mutation CreateWebhook($node: WebhookInput!) {
  createWebhook(node: $node) { id type url }
}`

// CreateWebhook subscribes url to an event type such as order/created.
func (c *Client) CreateWebhook(ctx context.Context, accessToken, eventType, url string) (*Webhook, error) {
	data, err := c.Query(ctx, accessToken, createWebhookMutation, map[string]interface{}{
		"node": map[string]interface{}{"type": eventType, "url": url, "settings": map[string]interface{}{}},
	})
	if err != nil {
		return nil, fmt.Errorf("create %s webhook: %w", eventType, err)
	}
	hook := data.Get("createWebhook")
	if hook.Get("id").String() == "" {
		return nil, &apperr.ExternalAPIError{Provider: provider, StatusCode: http.StatusOK, Message: "createWebhook returned no id", Body: data.Raw}
	}
	return &Webhook{
		ID:   hook.Get("id").String(),
		Type: hook.Get("type").String(),
		URL:  hook.Get("url").String(),
	}, nil
}

const deleteWebhookMutation = `mutation DeleteWebhook($id: ID!) { deleteWebhook(id: $id) }`

func (c *Client) DeleteWebhook(ctx context.Context, accessToken, id string) error {
	if _, err := c.Query(ctx, accessToken, deleteWebhookMutation, map[string]interface{}{"id": id}); err != nil {
		return fmt.Errorf("delete webhook %s: %w", id, err)
	}
	return nil
}

const webhooksQuery = `query Webhooks { webhooks(first: 100) { edges { node { id type url } } } }`

func (c *Client) Webhooks(ctx context.Context, accessToken string) ([]Webhook, error) {
	data, err := c.Query(ctx, accessToken, webhooksQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	var out []Webhook
	data.Get("webhooks.edges.#.node").ForEach(func(_, node gjson.Result) bool {
		out = append(out, Webhook{
			ID:   node.Get("id").String(),
			Type: node.Get("type").String(),
			URL:  node.Get("url").String(),
		})
		return true
	})
	return out, nil
}
