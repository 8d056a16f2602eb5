package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/config"
	"whatsapp-automations/internal/models"
)

const provider = "whatsapp"

// Client talks to the Evolution-style messaging gateway that hosts the
// WhatsApp instances (devices).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.WhatsAppAPIURL, "/"),
		apiKey:     cfg.WhatsAppAPIKey,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// --- Message Structures ---

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type SendResponse struct {
	Key struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

// MessageID returns the gateway's id for the sent message.
func (r *SendResponse) MessageID() string {
	return r.Key.ID
}

type webhookConfig struct {
	Enabled         bool     `json:"enabled"`
	URL             string   `json:"url"`
	WebhookByEvents bool     `json:"webhookByEvents"`
	Events          []string `json:"events"`
}

type setWebhookRequest struct {
	Webhook webhookConfig `json:"webhook"`
}

type ConnectionState struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// Gateway events a device webhook subscribes to.
var DeviceEvents = []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE"}

// DeviceStatus maps a gateway connection state ("open", "connecting",
// "close") to the stored device status.
func DeviceStatus(state string) (models.DeviceStatus, bool) {
	switch state {
	case "open":
		return models.DeviceConnected, true
	case "connecting":
		return models.DeviceConnecting, true
	case "close":
		return models.DeviceDisconnected, true
	}
	return "", false
}

// Connected reports whether the gateway considers the instance logged in.
func (s *ConnectionState) Connected() bool {
	return s.Instance.State == "open"
}

type createInstanceRequest struct {
	InstanceName string `json:"instanceName"`
	QRCode       bool   `json:"qrcode"`
	Integration  string `json:"integration"`
}

type CreateInstanceResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		InstanceID   string `json:"instanceId"`
		Status       string `json:"status"`
	} `json:"instance"`
	QRCode struct {
		Base64 string `json:"base64"`
	} `json:"qrcode"`
}

// --- Messaging ---

// SendText sends a plain text message from instance to number (digits only).
func (c *Client) SendText(ctx context.Context, instance, number, text string) (*SendResponse, error) {
	endpoint := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, url.PathEscape(instance))
	respBody, err := c.sendRequest(ctx, http.MethodPost, endpoint, sendTextRequest{Number: number, Text: text})
	if err != nil {
		return nil, err
	}
	var resp SendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &apperr.ExternalAPIError{Provider: provider, StatusCode: http.StatusOK, Message: "decode send response: " + err.Error(), Body: string(respBody)}
	}
	return &resp, nil
}

// SendTemplate renders content with vars and sends it as text.
func (c *Client) SendTemplate(ctx context.Context, instance, number, content string, vars map[string]string) (*SendResponse, error) {
	return c.SendText(ctx, instance, number, RenderTemplate(content, vars))
}

// RenderTemplate replaces every {{key}} occurrence with its value. Unknown
// placeholders are left as they are.
func RenderTemplate(content string, vars map[string]string) string {
	if len(vars) == 0 {
		return content
	}
	pairs := make([]string, 0, len(vars)*4)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v, "{{ "+k+" }}", v)
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

// --- Instance management ---

// SetWebhook points the instance's events at url.
func (c *Client) SetWebhook(ctx context.Context, instance, webhookURL string, events []string) error {
	endpoint := fmt.Sprintf("%s/webhook/set/%s", c.baseURL, url.PathEscape(instance))
	body := setWebhookRequest{Webhook: webhookConfig{Enabled: true, URL: webhookURL, Events: events}}
	_, err := c.sendRequest(ctx, http.MethodPost, endpoint, body)
	return err
}

func (c *Client) ConnectionState(ctx context.Context, instance string) (*ConnectionState, error) {
	endpoint := fmt.Sprintf("%s/instance/connectionState/%s", c.baseURL, url.PathEscape(instance))
	respBody, err := c.sendRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var state ConnectionState
	if err := json.Unmarshal(respBody, &state); err != nil {
		return nil, &apperr.ExternalAPIError{Provider: provider, StatusCode: http.StatusOK, Message: "decode connection state: " + err.Error(), Body: string(respBody)}
	}
	return &state, nil
}

func (c *Client) CreateInstance(ctx context.Context, instance string) (*CreateInstanceResponse, error) {
	endpoint := c.baseURL + "/instance/create"
	body := createInstanceRequest{InstanceName: instance, QRCode: true, Integration: "WHATSAPP-BAILEYS"}
	respBody, err := c.sendRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	var resp CreateInstanceResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &apperr.ExternalAPIError{Provider: provider, StatusCode: http.StatusOK, Message: "decode create instance: " + err.Error(), Body: string(respBody)}
	}
	return &resp, nil
}

func (c *Client) DeleteInstance(ctx context.Context, instance string) error {
	endpoint := fmt.Sprintf("%s/instance/delete/%s", c.baseURL, url.PathEscape(instance))
	_, err := c.sendRequest(ctx, http.MethodDelete, endpoint, nil)
	return err
}

func (c *Client) LogoutInstance(ctx context.Context, instance string) error {
	endpoint := fmt.Sprintf("%s/instance/logout/%s", c.baseURL, url.PathEscape(instance))
	_, err := c.sendRequest(ctx, http.MethodDelete, endpoint, nil)
	return err
}

// --- Helper ---

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperr.ExternalAPIError{Provider: provider, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.ExternalAPIError{Provider: provider, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, &apperr.ExternalAPIError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			Body:       string(respBody),
		}
	}
	return respBody, nil
}
