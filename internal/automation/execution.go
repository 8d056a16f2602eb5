package automation

import (
	"context"
	"time"

	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/templates"

	"github.com/tidwall/gjson"
)

// Outcome is what a strategy reports back. Deferred keeps the run RUNNING
// until a scheduled resume job finishes it.
type Outcome struct {
	Deferred bool
}

// ResumeResult is the structured answer of a resume attempt.
type ResumeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Strategy runs one kind of template.
type Strategy interface {
	Logic() templates.ExecutionLogic
	Execute(ctx context.Context, x *Execution) (Outcome, error)
}

// Resumer continues a deferred run from a queue job.
type Resumer interface {
	Resume(ctx context.Context, x *Execution) error
}

// ReplyHandler reacts to a classified customer reply after the run finished.
type ReplyHandler interface {
	HandleReply(ctx context.Context, x *Execution, result models.ReplyResult) error
}

// Execution carries one run through a strategy and is the only way
// strategies change run state.
type Execution struct {
	Automation *models.Automation
	Run        *models.Run
	Definition *templates.Definition
	Config     templates.Config
	Payload    gjson.Result

	exec *Executor
}

func (x *Execution) RunContext() models.RunContext {
	return x.Run.ParsedContext()
}

// UpdateContext applies mutate to the stored run context.
func (x *Execution) UpdateContext(ctx context.Context, mutate func(rc *models.RunContext)) error {
	rc := x.Run.ParsedContext()
	mutate(&rc)
	encoded := models.EncodeJSON(rc)
	if err := x.exec.store.UpdateRun(ctx, x.Run.ID, map[string]interface{}{"context": encoded}); err != nil {
		return err
	}
	x.Run.Context = encoded
	return nil
}

func (x *Execution) SetPhone(ctx context.Context, phoneNumber string) error {
	if err := x.exec.store.UpdateRun(ctx, x.Run.ID, map[string]interface{}{"phone_number": phoneNumber}); err != nil {
		return err
	}
	x.Run.PhoneNumber = phoneNumber
	return nil
}

// WaitForReply parks the run until the customer answers.
func (x *Execution) WaitForReply(ctx context.Context) error {
	_, err := x.exec.transition(ctx, x.Run, []models.RunStatus{models.RunRunning},
		map[string]interface{}{"status": models.RunWaitingReply})
	return err
}

// Finish moves a RUNNING run to a terminal status. A non-empty note is kept
// in the run context.
func (x *Execution) Finish(ctx context.Context, status models.RunStatus, note string) error {
	if note != "" {
		if err := x.UpdateContext(ctx, func(rc *models.RunContext) { rc.Note = note }); err != nil {
			return err
		}
	}
	_, err := x.exec.transition(ctx, x.Run, []models.RunStatus{models.RunRunning}, map[string]interface{}{
		"status":      status,
		"finished_at": x.exec.now(),
	})
	return err
}

// Now is the executor clock.
func (x *Execution) Now() time.Time {
	return x.exec.now()
}
