package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Platform string

const (
	PlatformLightfunnels Platform = "LIGHTFUNNELS"
	PlatformShopify      Platform = "SHOPIFY"
	PlatformGoogleSheets Platform = "GOOGLE_SHEETS"
)

// TriggerKind is the coarse way an automation gets started.
type TriggerKind string

const (
	TriggerWebhook   TriggerKind = "WEBHOOK"
	TriggerSchedule  TriggerKind = "SCHEDULE"
	TriggerAPI       TriggerKind = "API"
	TriggerEvent     TriggerKind = "EVENT"
	TriggerScriptTag TriggerKind = "SCRIPT_TAG"
)

type RunStatus string

const (
	RunRunning         RunStatus = "RUNNING"
	RunWaitingReply    RunStatus = "WAITING_REPLY"
	RunProcessingReply RunStatus = "PROCESSING_REPLY"
	RunSucceeded       RunStatus = "SUCCEEDED"
	RunFailed          RunStatus = "FAILED"
	RunCancelled       RunStatus = "CANCELLED"
)

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

type DeviceStatus string

const (
	DeviceConnected    DeviceStatus = "CONNECTED"
	DeviceConnecting   DeviceStatus = "CONNECTING"
	DeviceDisconnected DeviceStatus = "DISCONNECTED"
)

// Automation binds a template to a user's concrete resources.
type Automation struct {
	ID                   string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID               string      `gorm:"type:varchar(64);not null;index" json:"user_id"`
	TemplateDefinitionID string      `gorm:"type:varchar(100);not null" json:"template_definition_id"`
	Name                 string      `gorm:"type:varchar(255);not null" json:"name"`
	Description          string      `gorm:"type:text" json:"description"`
	Config               string      `gorm:"type:text" json:"config"` // JSON, shape owned by the template
	ConnectionID         *string     `gorm:"type:varchar(36);index" json:"connection_id"`
	DeviceID             *string     `gorm:"type:varchar(36);index" json:"device_id"`
	TemplateID           *string     `gorm:"type:varchar(36)" json:"template_id"` // message template
	Trigger              TriggerKind `gorm:"column:trigger_kind;type:varchar(20);not null" json:"trigger"`
	TriggerConfig        string      `gorm:"type:text" json:"trigger_config"` // JSON TriggerConfig
	IsActive             bool        `gorm:"not null" json:"is_active"`
	Metadata             string      `gorm:"type:text" json:"metadata"`
	CreatedAt            time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Automation) TableName() string {
	return "automations"
}

func (a *Automation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// TriggerConfig is what a trigger setup service hands back; only the matching
// service's cleanup reads it.
type TriggerConfig struct {
	Platform    Platform          `json:"platform,omitempty"`
	TriggerType string            `json:"triggerType,omitempty"`
	ExternalID  string            `json:"externalId,omitempty"`
	WebhookURL  string            `json:"webhookUrl,omitempty"`
	Extras      map[string]string `json:"extras,omitempty"`
}

// Run is one execution attempt of an automation against one trigger event.
type Run struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AutomationID   string     `gorm:"type:varchar(36);not null;index" json:"automation_id"`
	UserID         string     `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Status         RunStatus  `gorm:"type:varchar(20);not null;index" json:"status"`
	TriggerPayload string     `gorm:"type:text" json:"trigger_payload"`
	Context        string     `gorm:"type:text" json:"context"`
	PhoneNumber    string     `gorm:"type:varchar(32);index" json:"phone_number"`
	ConnectionID   *string    `gorm:"type:varchar(36)" json:"connection_id"`
	DeviceID       *string    `gorm:"type:varchar(36)" json:"device_id"`
	TemplateID     *string    `gorm:"type:varchar(36)" json:"template_id"`
	StartedAt      time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	ErrorMessage   string     `gorm:"type:text" json:"error_message"`
	AIResult       string     `gorm:"type:text" json:"ai_result"`
	Metadata       string     `gorm:"type:text" json:"metadata"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Run) TableName() string {
	return "runs"
}

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// RunContext is the mutable working data of a run.
type RunContext struct {
	OrderID        string `json:"orderId,omitempty"`
	CheckoutID     string `json:"checkoutId,omitempty"`
	RecoveryURL    string `json:"recoveryUrl,omitempty"`
	CustomerName   string `json:"customerName,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	AwaitingResume bool   `json:"awaitingResume,omitempty"`
	ResumeJobID    string `json:"resumeJobId,omitempty"`
	Note           string `json:"note,omitempty"`
	RowsSent       int    `json:"rowsSent,omitempty"`
	RowsAppended   int    `json:"rowsAppended,omitempty"`
}

// ReplyResult is stored in Run.AIResult once an inbound reply was classified.
type ReplyResult struct {
	Classification string    `json:"classification"`
	ReplyText      string    `json:"replyText"`
	ReplyMessageID string    `json:"replyMessageId,omitempty"`
	ProcessedAt    time.Time `json:"processedAt"`
	Error          string    `json:"error,omitempty"`
}

// Connection holds credentials for an e-commerce or spreadsheet account.
type Connection struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string     `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Platform       Platform   `gorm:"type:varchar(30);not null" json:"platform"`
	Name           string     `gorm:"type:varchar(255)" json:"name"`
	AccessToken    string     `gorm:"type:text" json:"-"`
	RefreshToken   string     `gorm:"type:text" json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	ShopDomain     string     `gorm:"type:varchar(255)" json:"shop_domain"`
	AccountID      string     `gorm:"type:varchar(255)" json:"account_id"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Connection) TableName() string {
	return "connections"
}

func (c *Connection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Device is a WhatsApp instance on the messaging gateway.
type Device struct {
	ID           string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID       string       `gorm:"type:varchar(64);not null;index" json:"user_id"`
	InstanceName string       `gorm:"type:varchar(255);not null;uniqueIndex" json:"instance_name"`
	PhoneNumber  string       `gorm:"type:varchar(32)" json:"phone_number"`
	Status       DeviceStatus `gorm:"type:varchar(20);default:'DISCONNECTED'" json:"status"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Device) TableName() string {
	return "devices"
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// MessageTemplate is user-authored text with {{var}} placeholders.
type MessageTemplate struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MessageTemplate) TableName() string {
	return "message_templates"
}

func (m *MessageTemplate) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

type OTPType string

const (
	OTPTypeVerification OTPType = "VERIFICATION"
	OTPTypeTest         OTPType = "TEST"
)

// OTP is a short-lived verification code. VerifiedAt is set exactly once.
type OTP struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID       string     `gorm:"type:varchar(64);not null;index:idx_otp_lookup" json:"user_id"`
	AutomationID string     `gorm:"type:varchar(36)" json:"automation_id"`
	Code         string     `gorm:"type:varchar(12);not null;index:idx_otp_lookup" json:"-"`
	PhoneNumber  string     `gorm:"type:varchar(32);not null;index:idx_otp_lookup" json:"phone_number"`
	Email        string     `gorm:"type:varchar(255)" json:"email"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	VerifiedAt   *time.Time `json:"verified_at"`
	Type         OTPType    `gorm:"type:varchar(20);not null" json:"type"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (OTP) TableName() string {
	return "otps"
}

func (o *OTP) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// OTPVerificationEvent is kept for analytics after a successful verification.
type OTPVerificationEvent struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OTPID        string    `gorm:"type:varchar(36);not null;index" json:"otp_id"`
	UserID       string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	AutomationID string    `gorm:"type:varchar(36)" json:"automation_id"`
	Platform     string    `gorm:"type:varchar(30)" json:"platform"`
	PhoneNumber  string    `gorm:"type:varchar(32)" json:"phone_number"`
	VerifiedAt   time.Time `json:"verified_at"`
}

func (OTPVerificationEvent) TableName() string {
	return "otp_verification_events"
}

func (e *OTPVerificationEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

// QueueJob is a durable delayed job.
type QueueJob struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Kind        string     `gorm:"type:varchar(64);not null" json:"kind"`
	RunID       string     `gorm:"type:varchar(36);index" json:"run_id"`
	RunAt       time.Time  `gorm:"not null;index:idx_jobs_due" json:"run_at"`
	PayloadJSON string     `gorm:"type:text" json:"payload_json"`
	Status      JobStatus  `gorm:"type:varchar(20);not null;index:idx_jobs_due" json:"status"`
	Attempt     int        `gorm:"default:0" json:"attempt"`
	MaxAttempts int        `gorm:"default:5" json:"max_attempts"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	LockedAt    *time.Time `json:"locked_at"`
	DedupeKey   *string    `gorm:"type:varchar(128);index" json:"dedupe_key"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (QueueJob) TableName() string {
	return "queue_jobs"
}

func (j *QueueJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}
