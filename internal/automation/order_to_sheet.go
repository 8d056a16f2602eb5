package automation

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/phone"
	"whatsapp-automations/internal/templates"
)

// OrderToSheet appends one row per order to a Google spreadsheet.
type OrderToSheet struct {
	sheets SheetsOpener
}

func NewOrderToSheet(sheets SheetsOpener) *OrderToSheet {
	return &OrderToSheet{sheets: sheets}
}

func (s *OrderToSheet) Logic() templates.ExecutionLogic {
	return templates.LogicOrderToSheet
}

func (s *OrderToSheet) Execute(ctx context.Context, x *Execution) (Outcome, error) {
	cfg, ok := x.Config.(*templates.OrderToSheetConfig)
	if !ok {
		return Outcome{}, fmt.Errorf("unexpected config %T for order to sheet", x.Config)
	}
	order := orderFromPayload(x.Definition.Trigger.Platform, x.Payload)
	if order.ID == "" {
		return Outcome{}, errors.New("trigger payload carries no order id")
	}
	if normalized := phone.NormalizeWithDefault(order.Phone, order.ShippingCountry, order.BillingCountry, cfg.DefaultCountry); normalized.IsValid {
		order.Phone = normalized.Canonical
		if err := x.SetPhone(ctx, normalized.Canonical); err != nil {
			return Outcome{}, err
		}
	}

	conn, err := x.exec.store.GetConnection(ctx, cfg.SheetsConnectionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load sheets connection: %w", err)
	}
	session, err := s.sheets.Open(ctx, conn)
	if err != nil {
		return Outcome{}, err
	}

	row := make([]interface{}, 0, len(cfg.Columns))
	for _, col := range cfg.Columns {
		row = append(row, order.column(col))
	}
	written, err := session.AppendRows(ctx, cfg.SpreadsheetID, cfg.SheetName, cfg.Columns, [][]interface{}{row}, cfg.WriteHeaders)
	if err != nil {
		return Outcome{}, fmt.Errorf("append order %s: %w", order.ID, err)
	}
	return Outcome{}, x.UpdateContext(ctx, func(rc *models.RunContext) {
		rc.OrderID = order.ID
		rc.CustomerName = order.CustomerName
		rc.RowsAppended = written
	})
}
