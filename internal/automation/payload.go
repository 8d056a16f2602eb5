package automation

import (
	"fmt"
	"strconv"
	"strings"

	"whatsapp-automations/internal/lightfunnels"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/shopify"

	"github.com/tidwall/gjson"
)

// orderFacts is the platform-neutral view of an order event.
type orderFacts struct {
	ID              string
	Name            string
	CustomerName    string
	Phone           string
	ShippingCountry string
	BillingCountry  string
	Email           string
	Total           float64
	Currency        string
	FinancialStatus string
	CreatedAt       string
	Items           string
}

// webhookNode returns the entity of a webhook body. Lightfunnels wraps it in
// "node"; other senders post it bare.
func webhookNode(payload gjson.Result) gjson.Result {
	if node := payload.Get("node"); node.IsObject() {
		return node
	}
	return payload
}

func orderFromPayload(platform models.Platform, payload gjson.Result) orderFacts {
	if platform == models.PlatformShopify {
		o := shopify.ParseOrderPayload(payload)
		var items []string
		payload.Get("line_items").ForEach(func(_, item gjson.Result) bool {
			items = append(items, fmt.Sprintf("%s x%d", item.Get("title").String(), item.Get("quantity").Int()))
			return true
		})
		return orderFacts{
			ID:              o.ID,
			Name:            o.Name,
			CustomerName:    o.CustomerName,
			Phone:           firstNonBlank(o.Phone, o.ShippingPhone, o.BillingPhone),
			ShippingCountry: o.ShippingCountry,
			BillingCountry:  o.BillingCountry,
			Email:           o.Email,
			Total:           o.Total,
			Currency:        o.Currency,
			FinancialStatus: o.FinancialStatus,
			CreatedAt:       payload.Get("created_at").String(),
			Items:           strings.Join(items, ", "),
		}
	}

	o := lightfunnels.ParseOrder(webhookNode(payload))
	items := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, fmt.Sprintf("%s x%d", it.Title, it.Quantity))
	}
	return orderFacts{
		ID:              o.ID,
		Name:            o.Name,
		CustomerName:    o.CustomerName,
		Phone:           o.BestPhone(),
		ShippingCountry: o.Shipping.Country,
		BillingCountry:  o.Billing.Country,
		Email:           o.Email,
		Total:           o.Total,
		Currency:        o.Currency,
		FinancialStatus: o.FinancialStatus,
		CreatedAt:       o.CreatedAt,
		Items:           strings.Join(items, ", "),
	}
}

// vars are the {{placeholders}} available to order message templates.
func (o orderFacts) vars() map[string]string {
	return map[string]string{
		"order_id":         o.ID,
		"order_name":       firstNonBlank(o.Name, o.ID),
		"customer_name":    o.CustomerName,
		"phone":            o.Phone,
		"email":            o.Email,
		"total":            strconv.FormatFloat(o.Total, 'f', 2, 64),
		"currency":         o.Currency,
		"financial_status": o.FinancialStatus,
		"created_at":       o.CreatedAt,
		"items":            o.Items,
	}
}

// column returns the value of a sheet column for the order.
func (o orderFacts) column(name string) interface{} {
	if name == "total" {
		return o.Total
	}
	return o.vars()[name]
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
