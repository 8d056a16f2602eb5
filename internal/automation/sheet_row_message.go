package automation

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/phone"
	"whatsapp-automations/internal/sheets"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/internal/whatsapp"
)

// metaLastRow is the automation metadata key holding the last sheet row
// already processed. Row 1 is the header.
const metaLastRow = "lastRow"

// SheetRowMessage messages every sheet row added since the previous tick.
type SheetRowMessage struct {
	sheets    SheetsOpener
	messenger Messenger
}

func NewSheetRowMessage(sheets SheetsOpener, messenger Messenger) *SheetRowMessage {
	return &SheetRowMessage{sheets: sheets, messenger: messenger}
}

func (s *SheetRowMessage) Logic() templates.ExecutionLogic {
	return templates.LogicSheetRowMessage
}

func (s *SheetRowMessage) Execute(ctx context.Context, x *Execution) (Outcome, error) {
	cfg, ok := x.Config.(*templates.SheetRowMessageConfig)
	if !ok {
		return Outcome{}, fmt.Errorf("unexpected config %T for sheet row message", x.Config)
	}
	res, err := loadResources(ctx, x.exec.store, x.Run, x.Definition.RequiredResources)
	if err != nil {
		return Outcome{}, err
	}
	session, err := s.sheets.Open(ctx, res.connection)
	if err != nil {
		return Outcome{}, err
	}

	headers, err := session.ReadHeaders(ctx, cfg.SpreadsheetID, cfg.SheetName)
	if err != nil {
		return Outcome{}, err
	}
	if len(headers) == 0 {
		return Outcome{}, x.UpdateContext(ctx, func(rc *models.RunContext) { rc.Note = "sheet is empty" })
	}

	lastRow := lastProcessedRow(x.Automation)
	rows, err := session.ReadRows(ctx, cfg.SpreadsheetID, cfg.SheetName, lastRow+1)
	if err != nil {
		return Outcome{}, err
	}
	if len(rows) > cfg.MaxRowsPerTick {
		rows = rows[:cfg.MaxRowsPerTick]
	}

	sent, skipped := 0, 0
	var sendErr error
	for i, row := range sheets.RowsAsMaps(headers, rows) {
		rowNumber := lastRow + 1 + i
		normalized := phone.NormalizeWithDefault(row[cfg.PhoneColumn], row[cfg.CountryColumn], "", cfg.DefaultCountry)
		if !normalized.IsValid {
			skipped++
			lastRow = rowNumber
			continue
		}
		vars := rowVars(row)
		if cfg.NameColumn != "" {
			vars["customer_name"] = row[cfg.NameColumn]
		}
		vars["phone"] = normalized.Canonical
		text := whatsapp.RenderTemplate(res.template.Content, vars)
		if _, err := s.messenger.SendText(ctx, res.device.InstanceName, normalized.Canonical, text); err != nil {
			sendErr = fmt.Errorf("send to sheet row %d: %w", rowNumber, err)
			break
		}
		sent++
		lastRow = rowNumber
	}

	meta := x.Automation.ParsedMetadata()
	meta[metaLastRow] = lastRow
	if err := x.exec.store.UpdateAutomationMetadata(ctx, x.Automation.ID, meta); err != nil {
		return Outcome{}, fmt.Errorf("record sheet progress: %w", err)
	}
	x.exec.logger.WithFields(map[string]interface{}{
		"automation_id": x.Automation.ID,
		"sent":          sent,
		"skipped":       skipped,
		"last_row":      lastRow,
	}).Info("Sheet rows processed")

	err = x.UpdateContext(ctx, func(rc *models.RunContext) {
		rc.RowsSent = sent
		if skipped > 0 {
			rc.Note = fmt.Sprintf("%d rows skipped for invalid phone numbers", skipped)
		}
	})
	if sendErr != nil {
		return Outcome{}, sendErr
	}
	return Outcome{}, err
}

func lastProcessedRow(a *models.Automation) int {
	last := 1
	if v, ok := a.ParsedMetadata()[metaLastRow].(float64); ok && int(v) > last {
		last = int(v)
	}
	return last
}

// rowVars exposes every column both under its header and as snake_case.
func rowVars(row map[string]string) map[string]string {
	vars := make(map[string]string, len(row)*2)
	for header, value := range row {
		vars[header] = value
		vars[snakeCase(header)] = value
	}
	return vars
}

func snakeCase(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
