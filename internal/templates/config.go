package templates

// Config is the per-template configuration. Each built-in template has its
// own variant; strategies type-assert to the one they own.
type Config interface {
	// AppTriggerType is the internal trigger type the automation subscribes
	// to, or "" for templates without an external webhook.
	AppTriggerType() string
}

type OrderConfirmationConfig struct {
	TriggerType    string `json:"triggerType" validate:"required"`
	DefaultCountry string `json:"defaultCountry" validate:"omitempty,max=4"`
	ConfirmReply   string `json:"confirmReply" validate:"max=1000"`
	DeclineReply   string `json:"declineReply" validate:"max=1000"`
}

func (c *OrderConfirmationConfig) AppTriggerType() string { return c.TriggerType }

type AbandonedCheckoutConfig struct {
	TriggerType    string `json:"triggerType" validate:"required"`
	DelayMinutes   int    `json:"delayMinutes" validate:"min=1,max=10080"`
	DefaultCountry string `json:"defaultCountry" validate:"omitempty,max=4"`
}

func (c *AbandonedCheckoutConfig) AppTriggerType() string { return c.TriggerType }

type OTPVerificationConfig struct {
	CodeLength     int    `json:"codeLength" validate:"min=4,max=10"`
	ExpiryMinutes  int    `json:"expiryMinutes" validate:"min=1,max=60"`
	Message        string `json:"message" validate:"required,contains={{code}}"`
	DefaultCountry string `json:"defaultCountry" validate:"omitempty,max=4"`
}

func (c *OTPVerificationConfig) AppTriggerType() string { return "" }

type OrderToSheetConfig struct {
	TriggerType        string   `json:"triggerType" validate:"required"`
	SheetsConnectionID string   `json:"sheetsConnectionId" validate:"required"`
	SpreadsheetID      string   `json:"spreadsheetId" validate:"required"`
	SheetName          string   `json:"sheetName" validate:"required"`
	WriteHeaders       bool     `json:"writeHeaders"`
	Columns            []string `json:"columns" validate:"required,min=1,dive,oneof=order_id order_name customer_name phone email total currency financial_status created_at items"`
	DefaultCountry     string   `json:"defaultCountry" validate:"omitempty,max=4"`
}

func (c *OrderToSheetConfig) AppTriggerType() string { return c.TriggerType }

type SheetRowMessageConfig struct {
	SpreadsheetID  string `json:"spreadsheetId" validate:"required"`
	SheetName      string `json:"sheetName" validate:"required"`
	PhoneColumn    string `json:"phoneColumn" validate:"required"`
	NameColumn     string `json:"nameColumn"`
	CountryColumn  string `json:"countryColumn"`
	DefaultCountry string `json:"defaultCountry" validate:"omitempty,max=4"`
	Schedule       string `json:"schedule" validate:"required,cron"`
	MaxRowsPerTick int    `json:"maxRowsPerTick" validate:"min=1,max=500"`
}

func (c *SheetRowMessageConfig) AppTriggerType() string { return "" }

// CronSpec is the schedule the automation ticks on.
func (c *SheetRowMessageConfig) CronSpec() string { return c.Schedule }
