package automation

import (
	"context"
	"fmt"
	"time"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/lightfunnels"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/otp"
	"whatsapp-automations/internal/sheets"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/internal/whatsapp"

	"golang.org/x/oauth2"
)

// Messenger sends WhatsApp text from a device instance.
type Messenger interface {
	SendText(ctx context.Context, instance, number, text string) (*whatsapp.SendResponse, error)
}

// CheckoutSource reads the current state of a Lightfunnels checkout.
type CheckoutSource interface {
	Checkout(ctx context.Context, accessToken, id string) (*lightfunnels.Checkout, error)
}

// JobScheduler enqueues delayed jobs for a run.
type JobScheduler interface {
	Schedule(ctx context.Context, kind, runID string, delay time.Duration, payload interface{}) (string, error)
}

// CodeIssuer issues one-time codes for OTP automations.
type CodeIssuer interface {
	Issue(ctx context.Context, a *models.Automation, cfg *templates.OTPVerificationConfig, in otp.IssueInput) (*models.OTP, error)
}

// SheetSession is the spreadsheet surface of one Google account.
type SheetSession interface {
	ListSpreadsheets(ctx context.Context) ([]sheets.Spreadsheet, error)
	CreateSpreadsheet(ctx context.Context, title string) (*sheets.Spreadsheet, error)
	ReadHeaders(ctx context.Context, spreadsheetID, sheetName string) ([]string, error)
	ReadRows(ctx context.Context, spreadsheetID, sheetName string, fromRow int) ([][]string, error)
	AppendRows(ctx context.Context, spreadsheetID, sheetName string, headers []string, rows [][]interface{}, writeHeaders bool) (int, error)
}

// SheetsOpener opens a spreadsheet session for a Google Sheets connection.
type SheetsOpener interface {
	Open(ctx context.Context, conn *models.Connection) (SheetSession, error)
}

type sheetsOpener struct {
	client *sheets.Client
	store  *database.Store
}

// NewSheetsOpener opens sessions whose refreshed tokens are written back to
// the connection row.
func NewSheetsOpener(client *sheets.Client, store *database.Store) SheetsOpener {
	return &sheetsOpener{client: client, store: store}
}

func (o *sheetsOpener) Open(ctx context.Context, conn *models.Connection) (SheetSession, error) {
	return o.client.Session(ctx, conn, func(ctx context.Context, tok *oauth2.Token) error {
		return o.store.UpdateConnectionToken(ctx, conn.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry)
	})
}

// resources are the records a run acts with, loaded from its snapshot.
type resources struct {
	connection *models.Connection
	device     *models.Device
	template   *models.MessageTemplate
}

func loadResources(ctx context.Context, store *database.Store, run *models.Run, need templates.RequiredResources) (*resources, error) {
	res := &resources{}
	if need.Connection {
		if run.ConnectionID == nil {
			return nil, &apperr.ResourceError{Kind: "connection", Reason: apperr.ReasonUnavailable}
		}
		conn, err := store.GetConnection(ctx, *run.ConnectionID)
		if err != nil {
			return nil, fmt.Errorf("load connection: %w", err)
		}
		res.connection = conn
	}
	if need.Device {
		if run.DeviceID == nil {
			return nil, &apperr.ResourceError{Kind: "device", Reason: apperr.ReasonUnavailable}
		}
		device, err := store.GetDevice(ctx, *run.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("load device: %w", err)
		}
		if device.Status != models.DeviceConnected {
			return nil, &apperr.ResourceError{Kind: "device", ID: device.ID, Reason: apperr.ReasonUnavailable}
		}
		res.device = device
	}
	if need.MessageTemplate {
		if run.TemplateID == nil {
			return nil, &apperr.ResourceError{Kind: "message template", Reason: apperr.ReasonUnavailable}
		}
		tpl, err := store.GetMessageTemplate(ctx, *run.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("load message template: %w", err)
		}
		res.template = tpl
	}
	return res, nil
}
