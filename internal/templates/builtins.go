package templates

import "whatsapp-automations/internal/models"

var orderColumns = []string{"order_id", "order_name", "customer_name", "phone", "email", "total", "currency", "financial_status", "created_at", "items"}

func builtins() []*Definition {
	return []*Definition{
		{
			ID:          "lightfunnels-order-confirmation",
			Name:        "Lightfunnels order confirmation",
			Description: "Sends a WhatsApp confirmation request for new Lightfunnels orders and records the customer's answer.",
			Trigger: TriggerSpec{
				Types:    []string{"order_created", "order_confirmed"},
				Platform: models.PlatformLightfunnels,
				Kind:     models.TriggerWebhook,
			},
			Action:                     ActionSpec{Type: ActionSendWhatsApp},
			ExecutionLogic:             LogicOrderConfirmation,
			AwaitsReply:                true,
			RequiredResources:          RequiredResources{Connection: true, Device: true, MessageTemplate: true},
			AllowedConnectionPlatforms: []models.Platform{models.PlatformLightfunnels},
			Fields: []Field{
				{Path: "triggerType", Label: "Send when", Type: "select", Required: true, Options: []string{"order_created", "order_confirmed"}, Default: "order_created"},
				{Path: "defaultCountry", Label: "Default country", Type: "text"},
				{Path: "confirmReply", Label: "Reply when confirmed", Type: "textarea"},
				{Path: "declineReply", Label: "Reply when declined", Type: "textarea"},
			},
			DefaultConfig: map[string]interface{}{
				"triggerType":  "order_created",
				"confirmReply": "Thank you, your order {{order_id}} is confirmed.",
				"declineReply": "Your order {{order_id}} has been cancelled.",
			},
			NewConfig: func() Config { return &OrderConfirmationConfig{} },
		},
		{
			ID:          "shopify-order-confirmation",
			Name:        "Shopify order confirmation",
			Description: "Asks Shopify customers to confirm their order over WhatsApp.",
			Trigger: TriggerSpec{
				Types:    []string{"order_created", "order_paid"},
				Platform: models.PlatformShopify,
				Kind:     models.TriggerWebhook,
			},
			Action:                     ActionSpec{Type: ActionSendWhatsApp},
			ExecutionLogic:             LogicOrderConfirmation,
			AwaitsReply:                true,
			RequiredResources:          RequiredResources{Connection: true, Device: true, MessageTemplate: true},
			AllowedConnectionPlatforms: []models.Platform{models.PlatformShopify},
			Fields: []Field{
				{Path: "triggerType", Label: "Send when", Type: "select", Required: true, Options: []string{"order_created", "order_paid"}, Default: "order_created"},
				{Path: "defaultCountry", Label: "Default country", Type: "text"},
				{Path: "confirmReply", Label: "Reply when confirmed", Type: "textarea"},
				{Path: "declineReply", Label: "Reply when declined", Type: "textarea"},
			},
			DefaultConfig: map[string]interface{}{
				"triggerType": "order_created",
			},
			NewConfig: func() Config { return &OrderConfirmationConfig{} },
		},
		{
			ID:          "lightfunnels-abandoned-checkout",
			Name:        "Lightfunnels abandoned checkout",
			Description: "Waits after a checkout starts and sends a recovery link if no paid order followed.",
			Trigger: TriggerSpec{
				Types:    []string{"checkout_created"},
				Platform: models.PlatformLightfunnels,
				Kind:     models.TriggerWebhook,
			},
			Action:                     ActionSpec{Type: ActionSendWhatsApp},
			ExecutionLogic:             LogicAbandonedCheckout,
			RequiredResources:          RequiredResources{Connection: true, Device: true, MessageTemplate: true},
			AllowedConnectionPlatforms: []models.Platform{models.PlatformLightfunnels},
			Fields: []Field{
				{Path: "triggerType", Label: "Trigger", Type: "select", Required: true, Options: []string{"checkout_created"}, Default: "checkout_created"},
				{Path: "delayMinutes", Label: "Wait (minutes)", Type: "number", Required: true, Default: 20},
				{Path: "defaultCountry", Label: "Default country", Type: "text"},
			},
			DefaultConfig: map[string]interface{}{
				"triggerType":  "checkout_created",
				"delayMinutes": 20,
			},
			NewConfig: func() Config { return &AbandonedCheckoutConfig{} },
		},
		{
			ID:          "lightfunnels-otp-verification",
			Name:        "Lightfunnels checkout OTP",
			Description: "Verifies the customer's phone with a one-time code before checkout completes.",
			Trigger: TriggerSpec{
				Platform: models.PlatformLightfunnels,
				Kind:     models.TriggerScriptTag,
			},
			Action:            ActionSpec{Type: ActionIssueOTP},
			ExecutionLogic:    LogicOTPVerification,
			RequiredResources: RequiredResources{Device: true},
			Fields: []Field{
				{Path: "codeLength", Label: "Code length", Type: "number", Required: true, Default: 6},
				{Path: "expiryMinutes", Label: "Code validity (minutes)", Type: "number", Required: true, Default: 10},
				{Path: "message", Label: "Message", Type: "textarea", Required: true, Default: "Your verification code is {{code}}"},
				{Path: "defaultCountry", Label: "Default country", Type: "text"},
			},
			DefaultConfig: map[string]interface{}{
				"codeLength":    6,
				"expiryMinutes": 10,
				"message":       "Your verification code is {{code}}",
			},
			NewConfig: func() Config { return &OTPVerificationConfig{} },
		},
		{
			ID:          "lightfunnels-order-to-sheet",
			Name:        "Lightfunnels orders to Google Sheets",
			Description: "Appends every new Lightfunnels order to a spreadsheet.",
			Trigger: TriggerSpec{
				Types:    []string{"order_created"},
				Platform: models.PlatformLightfunnels,
				Kind:     models.TriggerWebhook,
			},
			Action:                     ActionSpec{Type: ActionAppendRow},
			ExecutionLogic:             LogicOrderToSheet,
			RequiredResources:          RequiredResources{Connection: true},
			AllowedConnectionPlatforms: []models.Platform{models.PlatformLightfunnels},
			Fields: []Field{
				{Path: "triggerType", Label: "Trigger", Type: "select", Required: true, Options: []string{"order_created"}, Default: "order_created"},
				{Path: "sheetsConnectionId", Label: "Google account", Type: "connection", Required: true},
				{Path: "spreadsheetId", Label: "Spreadsheet", Type: "spreadsheet", Required: true},
				{Path: "sheetName", Label: "Sheet", Type: "text", Required: true, Default: "Sheet1"},
				{Path: "writeHeaders", Label: "Write header row", Type: "checkbox", Default: true},
				{Path: "columns", Label: "Columns", Type: "multiselect", Required: true, Options: orderColumns},
			},
			DefaultConfig: map[string]interface{}{
				"triggerType":  "order_created",
				"sheetName":    "Sheet1",
				"writeHeaders": true,
				"columns":      []interface{}{"order_id", "customer_name", "phone", "total", "financial_status", "created_at"},
			},
			NewConfig: func() Config { return &OrderToSheetConfig{} },
		},
		{
			ID:          "google-sheets-row-to-whatsapp",
			Name:        "Google Sheets rows to WhatsApp",
			Description: "Checks a sheet on a schedule and messages every new row.",
			Trigger: TriggerSpec{
				Platform: models.PlatformGoogleSheets,
				Kind:     models.TriggerSchedule,
			},
			Action:                     ActionSpec{Type: ActionSendWhatsApp},
			ExecutionLogic:             LogicSheetRowMessage,
			RequiredResources:          RequiredResources{Connection: true, Device: true, MessageTemplate: true},
			AllowedConnectionPlatforms: []models.Platform{models.PlatformGoogleSheets},
			Fields: []Field{
				{Path: "spreadsheetId", Label: "Spreadsheet", Type: "spreadsheet", Required: true},
				{Path: "sheetName", Label: "Sheet", Type: "text", Required: true, Default: "Sheet1"},
				{Path: "phoneColumn", Label: "Phone column", Type: "text", Required: true, Default: "Phone"},
				{Path: "nameColumn", Label: "Name column", Type: "text", Default: "Name"},
				{Path: "countryColumn", Label: "Country column", Type: "text"},
				{Path: "defaultCountry", Label: "Default country", Type: "text"},
				{Path: "schedule", Label: "Schedule (cron)", Type: "text", Required: true, Default: "*/15 * * * *"},
				{Path: "maxRowsPerTick", Label: "Rows per run", Type: "number", Default: 50},
			},
			DefaultConfig: map[string]interface{}{
				"sheetName":      "Sheet1",
				"phoneColumn":    "Phone",
				"nameColumn":     "Name",
				"schedule":       "*/15 * * * *",
				"maxRowsPerTick": 50,
			},
			NewConfig: func() Config { return &SheetRowMessageConfig{} },
		},
	}
}
