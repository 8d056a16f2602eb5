// Package sheets reads and appends spreadsheet rows on behalf of a Google
// Sheets connection.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/config"
	"whatsapp-automations/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	provider = "google_sheets"

	// refreshWindow is how long before expiry a token is considered stale.
	refreshWindow = 5 * time.Minute

	spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
)

// TokenPersister stores a refreshed token on the connection it belongs to.
type TokenPersister func(ctx context.Context, token *oauth2.Token) error

type Client struct {
	oauth   *oauth2.Config
	timeout time.Duration
	options []option.ClientOption
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				sheets.SpreadsheetsScope,
				drive.DriveMetadataReadonlyScope,
			},
		},
		timeout: cfg.HTTPTimeout,
	}
}

// Session is a set of API handles bound to one connection's credentials.
type Session struct {
	sheets *sheets.Service
	drive  *drive.Service
}

type Spreadsheet struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	URL          string `json:"url,omitempty"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
}

// Session builds API handles for conn. Tokens are refreshed shortly before
// they expire and every refreshed token is handed to persist.
func (c *Client) Session(ctx context.Context, conn *models.Connection, persist TokenPersister) (*Session, error) {
	if conn.AccessToken == "" && conn.RefreshToken == "" {
		return nil, &apperr.ResourceError{Kind: "connection", ID: conn.ID, Reason: "has no Google credentials"}
	}
	tok := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
	}
	if conn.TokenExpiresAt != nil {
		tok.Expiry = *conn.TokenExpiresAt
	}

	base := oauth2.ReuseTokenSourceWithExpiry(tok, c.oauth.TokenSource(ctx, tok), refreshWindow)
	ts := &persistingTokenSource{ctx: ctx, base: base, last: tok.AccessToken, persist: persist}

	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = c.timeout
	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, c.options...)

	sheetsSvc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Session{sheets: sheetsSvc, drive: driveSvc}, nil
}

// persistingTokenSource reports tokens whose access token changed.
type persistingTokenSource struct {
	ctx     context.Context
	base    oauth2.TokenSource
	persist TokenPersister

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, &apperr.ExternalAPIError{Provider: provider, StatusCode: http.StatusUnauthorized, Message: "token refresh failed: " + err.Error()}
	}
	p.mu.Lock()
	changed := tok.AccessToken != p.last
	p.last = tok.AccessToken
	p.mu.Unlock()

	if changed && p.persist != nil {
		if err := p.persist(p.ctx, tok); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
	}
	return tok, nil
}

func (s *Session) ListSpreadsheets(ctx context.Context) ([]Spreadsheet, error) {
	resp, err := s.drive.Files.List().
		Q(fmt.Sprintf("mimeType='%s' and trashed=false", spreadsheetMimeType)).
		Fields("files(id,name,modifiedTime,webViewLink)").
		OrderBy("modifiedTime desc").
		PageSize(100).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapErr("list spreadsheets", err)
	}
	out := make([]Spreadsheet, 0, len(resp.Files))
	for _, f := range resp.Files {
		out = append(out, Spreadsheet{ID: f.Id, Name: f.Name, URL: f.WebViewLink, ModifiedTime: f.ModifiedTime})
	}
	return out, nil
}

func (s *Session) CreateSpreadsheet(ctx context.Context, title string) (*Spreadsheet, error) {
	created, err := s.sheets.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title},
	}).Context(ctx).Do()
	if err != nil {
		return nil, wrapErr("create spreadsheet", err)
	}
	return &Spreadsheet{ID: created.SpreadsheetId, Name: title, URL: created.SpreadsheetUrl}, nil
}

// ReadHeaders returns the first row of sheetName, or nil when the sheet is empty.
func (s *Session) ReadHeaders(ctx context.Context, spreadsheetID, sheetName string) ([]string, error) {
	rows, err := s.readRange(ctx, spreadsheetID, fmt.Sprintf("%s!1:1", sheetName))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ReadRows returns every row from fromRow (1-based) downwards.
func (s *Session) ReadRows(ctx context.Context, spreadsheetID, sheetName string, fromRow int) ([][]string, error) {
	if fromRow < 1 {
		fromRow = 1
	}
	return s.readRange(ctx, spreadsheetID, fmt.Sprintf("%s!A%d:ZZ", sheetName, fromRow))
}

func (s *Session) readRange(ctx context.Context, spreadsheetID, readRange string) ([][]string, error) {
	resp, err := s.sheets.Spreadsheets.Values.Get(spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, wrapErr("read "+readRange, err)
	}
	rows := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			cells = append(cells, fmt.Sprint(cell))
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// AppendRows appends rows after the last filled row. When writeHeaders is set
// and the sheet has no header row yet, headers are written first.
func (s *Session) AppendRows(ctx context.Context, spreadsheetID, sheetName string, headers []string, rows [][]interface{}, writeHeaders bool) (int, error) {
	values := make([][]interface{}, 0, len(rows)+1)
	if writeHeaders && len(headers) > 0 {
		existing, err := s.ReadHeaders(ctx, spreadsheetID, sheetName)
		if err != nil {
			return 0, err
		}
		if len(existing) == 0 {
			headerRow := make([]interface{}, len(headers))
			for i, h := range headers {
				headerRow[i] = h
			}
			values = append(values, headerRow)
		}
	}
	values = append(values, rows...)
	if len(values) == 0 {
		return 0, nil
	}

	resp, err := s.sheets.Spreadsheets.Values.Append(spreadsheetID, sheetName+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, wrapErr("append rows", err)
	}
	if resp.Updates != nil {
		return int(resp.Updates.UpdatedRows), nil
	}
	return len(values), nil
}

// RowsAsMaps pairs every row with the header names. Missing cells map to "".
func RowsAsMaps(headers []string, rows [][]string) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				m[h] = row[i]
			} else {
				m[h] = ""
			}
		}
		out = append(out, m)
	}
	return out
}

func wrapErr(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return fmt.Errorf("%s: %w", op, &apperr.ExternalAPIError{
			Provider:   provider,
			StatusCode: gErr.Code,
			Message:    gErr.Message,
			Body:       gErr.Body,
		})
	}
	var apiErr *apperr.ExternalAPIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, &apperr.ExternalAPIError{Provider: provider, Message: err.Error()})
}
