package automation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/phone"
	"whatsapp-automations/pkg/logger"
)

// EventMessagesUpsert is the gateway event carrying new messages.
const EventMessagesUpsert = "messages.upsert"

type InboundMessage struct {
	Event        string
	InstanceName string
	RemoteJID    string
	FromMe       bool
	Text         string
	MessageID    string
}

type RouteStatus string

const (
	RouteIgnored    RouteStatus = "ignored"
	RouteDispatched RouteStatus = "dispatched"
	RouteAmbiguous  RouteStatus = "ambiguous"
)

type RouteResult struct {
	Status RouteStatus `json:"status"`
	RunID  string      `json:"runId,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// ReplyProcessor finalizes a waiting run with the customer's reply.
type ReplyProcessor interface {
	ProcessReply(ctx context.Context, runID, replyText, replyMessageID string)
	FailRun(ctx context.Context, runID, reason string)
}

// Router matches inbound WhatsApp messages to the one run waiting for them.
type Router struct {
	store    *database.Store
	replies  ReplyProcessor
	lookback time.Duration
	logger   logger.Logger
	now      func() time.Time

	// dispatch runs reply processing off the webhook goroutine.
	dispatch func(fn func())
}

func NewRouter(store *database.Store, replies ReplyProcessor, lookback time.Duration, log logger.Logger) *Router {
	if lookback <= 0 {
		lookback = 48 * time.Hour
	}
	return &Router{
		store:    store,
		replies:  replies,
		lookback: lookback,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
		dispatch: func(fn func()) { go fn() },
	}
}

// Route returns as soon as the reply is handed off; processing continues in
// the background.
func (r *Router) Route(ctx context.Context, msg InboundMessage) RouteResult {
	if msg.Event != EventMessagesUpsert {
		return RouteResult{Status: RouteIgnored, Reason: "event " + strconv.Quote(msg.Event)}
	}
	if msg.FromMe {
		return RouteResult{Status: RouteIgnored, Reason: "own message"}
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return RouteResult{Status: RouteIgnored, Reason: "no text"}
	}
	if strings.HasSuffix(msg.RemoteJID, "@g.us") {
		return RouteResult{Status: RouteIgnored, Reason: "group message"}
	}

	sender := msg.RemoteJID
	if at := strings.Index(sender, "@"); at >= 0 {
		sender = sender[:at]
	}
	normalized := phone.Normalize(sender, "", "")
	if !normalized.IsValid {
		return RouteResult{Status: RouteIgnored, Reason: "unrecognized sender"}
	}

	log := r.logger.WithFields(map[string]interface{}{"instance": msg.InstanceName, "phone": normalized.Canonical})
	device, err := r.store.GetDeviceByInstance(ctx, msg.InstanceName)
	if err != nil {
		log.Debug("Reply for unknown instance ignored")
		return RouteResult{Status: RouteIgnored, Reason: "unknown instance"}
	}

	runs, err := r.store.FindWaitingRuns(ctx, normalized.Canonical, device.ID, r.now().Add(-r.lookback))
	if err != nil {
		log.WithField("error", err.Error()).Error("Looking up waiting runs failed")
		return RouteResult{Status: RouteIgnored, Reason: "lookup failed"}
	}
	switch len(runs) {
	case 0:
		return RouteResult{Status: RouteIgnored, Reason: "no waiting run"}
	case 1:
	default:
		ambiguity := &apperr.AmbiguityError{PhoneNumber: normalized.Canonical, DeviceID: device.ID, Candidates: len(runs)}
		newest := runs[0].ID
		log.WithField("candidates", len(runs)).Warn("Ambiguous reply, failing newest waiting run")
		r.replies.FailRun(ctx, newest, ambiguity.Error())
		return RouteResult{Status: RouteAmbiguous, RunID: newest, Reason: ambiguity.Error()}
	}

	runID := runs[0].ID
	r.dispatch(func() {
		r.replies.ProcessReply(context.Background(), runID, text, msg.MessageID)
	})
	log.WithField("run_id", runID).Info("Reply dispatched")
	return RouteResult{Status: RouteDispatched, RunID: runID}
}
