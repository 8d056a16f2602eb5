package lightfunnels

import (
	"strings"

	"github.com/tidwall/gjson"
)

type Address struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Country   string `json:"country"`
	City      string `json:"city"`
	Line1     string `json:"line1"`
}

type LineItem struct {
	Title    string  `json:"title"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
}

type Order struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Total           float64    `json:"total"`
	Currency        string     `json:"currency"`
	FinancialStatus string     `json:"financialStatus"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone"`
	CustomerName    string     `json:"customerName"`
	CreatedAt       string     `json:"createdAt"`
	Shipping        Address    `json:"shipping"`
	Billing         Address    `json:"billing"`
	Items           []LineItem `json:"items"`
}

// Paid reports whether money was captured for the order.
func (o *Order) Paid() bool {
	return strings.EqualFold(o.FinancialStatus, "paid")
}

// BestPhone prefers the order phone, then the shipping and billing phones.
func (o *Order) BestPhone() string {
	for _, p := range []string{o.Phone, o.Shipping.Phone, o.Billing.Phone} {
		if strings.TrimSpace(p) != "" {
			return p
		}
	}
	return ""
}

type Checkout struct {
	ID                   string  `json:"id"`
	RecoveryURL          string  `json:"recoveryUrl"`
	Email                string  `json:"email"`
	Phone                string  `json:"phone"`
	Total                float64 `json:"total"`
	CustomerName         string  `json:"customerName"`
	Shipping             Address `json:"shipping"`
	Billing              Address `json:"billing"`
	OrderID              string  `json:"orderId"`
	OrderFinancialStatus string  `json:"orderFinancialStatus"`
}

// Completed reports whether the checkout turned into a paid order.
func (c *Checkout) Completed() bool {
	return c.OrderID != "" && strings.EqualFold(c.OrderFinancialStatus, "paid")
}

// ParseOrder reads an order node as returned by the API or carried in the
// "node" field of an order webhook.
func ParseOrder(node gjson.Result) Order {
	order := Order{
		ID:              firstString(node, "id", "_id"),
		Name:            node.Get("name").String(),
		Total:           node.Get("total").Float(),
		Currency:        node.Get("currency").String(),
		FinancialStatus: node.Get("financial_status").String(),
		Email:           node.Get("email").String(),
		Phone:           node.Get("phone").String(),
		CustomerName:    node.Get("customer.full_name").String(),
		CreatedAt:       node.Get("created_at").String(),
		Shipping:        parseAddress(node.Get("shipping_address")),
		Billing:         parseAddress(node.Get("billing_address")),
	}
	if order.CustomerName == "" {
		order.CustomerName = strings.TrimSpace(order.Shipping.FirstName + " " + order.Shipping.LastName)
	}
	node.Get("items").ForEach(func(_, item gjson.Result) bool {
		order.Items = append(order.Items, LineItem{
			Title:    item.Get("title").String(),
			Quantity: item.Get("quantity").Int(),
			Price:    item.Get("price").Float(),
		})
		return true
	})
	return order
}

func ParseCheckout(node gjson.Result) Checkout {
	checkout := Checkout{
		ID:                   firstString(node, "id", "_id"),
		RecoveryURL:          node.Get("recovery_url").String(),
		Email:                node.Get("email").String(),
		Phone:                node.Get("phone").String(),
		Total:                node.Get("total").Float(),
		CustomerName:         node.Get("customer.full_name").String(),
		Shipping:             parseAddress(node.Get("shipping_address")),
		Billing:              parseAddress(node.Get("billing_address")),
		OrderID:              node.Get("order.id").String(),
		OrderFinancialStatus: node.Get("order.financial_status").String(),
	}
	if checkout.CustomerName == "" {
		checkout.CustomerName = strings.TrimSpace(checkout.Shipping.FirstName + " " + checkout.Shipping.LastName)
	}
	return checkout
}

func parseAddress(r gjson.Result) Address {
	return Address{
		FirstName: r.Get("first_name").String(),
		LastName:  r.Get("last_name").String(),
		Phone:     r.Get("phone").String(),
		Country:   r.Get("country").String(),
		City:      r.Get("city").String(),
		Line1:     r.Get("line1").String(),
	}
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}
