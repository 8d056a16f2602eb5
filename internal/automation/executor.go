// Package automation is the execution core: it runs automations against
// trigger events, tracks their runs and finalizes them when customers reply.
package automation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/classifier"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/queue"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/pkg/logger"

	"github.com/tidwall/gjson"
)

// JobKindResume is the queue job kind that continues deferred runs.
const JobKindResume = "automation.resume"

// RunNotifier receives every run status change.
type RunNotifier interface {
	NotifyRun(run *models.Run)
}

type nopNotifier struct{}

func (nopNotifier) NotifyRun(*models.Run) {}

type Executor struct {
	store      *database.Store
	templates  *templates.Registry
	strategies map[templates.ExecutionLogic]Strategy
	classifier classifier.Classifier
	notifier   RunNotifier
	jobs       jobCanceler
	logger     logger.Logger
	now        func() time.Time
}

type jobCanceler interface {
	Cancel(ctx context.Context, jobID string) error
}

// NewExecutor builds the strategy table and fails when a registered template
// has no strategy for its execution logic.
func NewExecutor(store *database.Store, registry *templates.Registry, cls classifier.Classifier, notifier RunNotifier, log logger.Logger, strategies ...Strategy) (*Executor, error) {
	table := make(map[templates.ExecutionLogic]Strategy, len(strategies))
	for _, s := range strategies {
		if _, dup := table[s.Logic()]; dup {
			return nil, fmt.Errorf("duplicate strategy for execution logic %q", s.Logic())
		}
		table[s.Logic()] = s
	}
	for _, def := range registry.List() {
		if _, ok := table[def.ExecutionLogic]; !ok {
			return nil, fmt.Errorf("template %s uses execution logic %q which has no strategy", def.ID, def.ExecutionLogic)
		}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Executor{
		store:      store,
		templates:  registry,
		strategies: table,
		classifier: cls,
		notifier:   notifier,
		logger:     log,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// RegisterJobs binds the resume job kind. Exhausted jobs fail their run.
func (e *Executor) RegisterJobs(q *queue.Queue) {
	e.jobs = q
	q.Register(JobKindResume, func(ctx context.Context, job models.QueueJob) error {
		res := e.Resume(ctx, job.RunID)
		if !res.Success {
			return errors.New(res.Message)
		}
		return nil
	}, func(ctx context.Context, job models.QueueJob, lastErr error) {
		e.FailRun(ctx, job.RunID, "resume failed after retries: "+lastErr.Error())
	})
}

// StartExecution runs an automation against one trigger payload. It never
// returns an error: every outcome ends up on the run and in the logs.
func (e *Executor) StartExecution(ctx context.Context, automationID string, payload []byte) {
	log := e.logger.WithField("automation_id", automationID)

	a, err := e.store.GetAutomation(ctx, automationID)
	if err != nil {
		log.WithField("error", err.Error()).Warn("Skipping execution, automation not loadable")
		return
	}
	if !a.IsActive {
		log.Debug("Skipping execution, automation inactive")
		return
	}

	if !gjson.ValidBytes(payload) {
		payload = []byte(models.EncodeJSON(map[string]string{"raw": string(payload)}))
	}
	run := &models.Run{
		AutomationID:   a.ID,
		UserID:         a.UserID,
		Status:         models.RunRunning,
		TriggerPayload: string(payload),
		Context:        "{}",
		ConnectionID:   a.ConnectionID,
		DeviceID:       a.DeviceID,
		TemplateID:     a.TemplateID,
		StartedAt:      e.now(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		log.WithField("error", err.Error()).Error("Creating run failed")
		return
	}
	e.notifier.NotifyRun(run)
	log = log.WithField("run_id", run.ID)

	outcome, err := e.execute(ctx, a, run, payload)
	if err != nil {
		log.WithField("error", err.Error()).Error("Run failed")
		e.failRun(ctx, run, err.Error())
		return
	}
	if outcome.Deferred {
		log.Info("Run deferred until resume")
		return
	}

	won, err := e.transition(ctx, run, []models.RunStatus{models.RunRunning}, map[string]interface{}{
		"status":      models.RunSucceeded,
		"finished_at": e.now(),
	})
	if err != nil {
		log.WithField("error", err.Error()).Error("Finalizing run failed")
		return
	}
	if won {
		log.Info("Run succeeded")
	} else {
		log.Debug("Run status left as set by strategy")
	}
}

// execute resolves template, strategy and config and runs the strategy.
// Panics are turned into errors.
func (e *Executor) execute(ctx context.Context, a *models.Automation, run *models.Run, payload []byte) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("stack", string(debug.Stack())).Error("Strategy panicked")
			err = fmt.Errorf("execution panicked: %v", r)
		}
	}()

	x, strategy, err := e.prepare(a, run)
	if err != nil {
		return Outcome{}, err
	}
	x.Payload = gjson.ParseBytes(payload)
	return strategy.Execute(ctx, x)
}

func (e *Executor) prepare(a *models.Automation, run *models.Run) (*Execution, Strategy, error) {
	def, ok := e.templates.Get(a.TemplateDefinitionID)
	if !ok {
		return nil, nil, fmt.Errorf("template %s not found", a.TemplateDefinitionID)
	}
	strategy, ok := e.strategies[def.ExecutionLogic]
	if !ok {
		return nil, nil, fmt.Errorf("no strategy for execution logic %q", def.ExecutionLogic)
	}
	cfg, err := def.DecodeConfig([]byte(a.Config))
	if err != nil {
		return nil, nil, &apperr.ConfigurationDriftError{AutomationID: a.ID, TemplateID: def.ID, Err: err}
	}
	return &Execution{
		Automation: a,
		Run:        run,
		Definition: def,
		Config:     cfg,
		Payload:    gjson.Parse(run.TriggerPayload),
		exec:       e,
	}, strategy, nil
}

// ProcessReply classifies an inbound reply for a waiting run and finalizes
// it. Duplicate or unexpected replies are ignored.
func (e *Executor) ProcessReply(ctx context.Context, runID, replyText, replyMessageID string) {
	log := e.logger.WithField("run_id", runID)
	var claimed *models.Run
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Reply processing panicked")
			if claimed != nil {
				e.failRun(context.Background(), claimed, fmt.Sprintf("reply processing error: %v", r))
			}
		}
	}()

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		log.Debug("Reply for unknown run ignored")
		return
	}
	if run.Status != models.RunWaitingReply && run.Status != models.RunProcessingReply {
		log.WithField("status", string(run.Status)).Debug("Reply for finalized run ignored")
		return
	}
	a, err := e.store.GetAutomation(ctx, run.AutomationID)
	if err != nil {
		log.Debug("Reply for run without automation ignored")
		return
	}
	def, ok := e.templates.Get(a.TemplateDefinitionID)
	if !ok || !def.AwaitsReply {
		log.Debug("Reply for non-conversational automation ignored")
		return
	}

	won, err := e.transition(ctx, run, []models.RunStatus{models.RunWaitingReply},
		map[string]interface{}{"status": models.RunProcessingReply})
	if err != nil {
		log.WithField("error", err.Error()).Error("Claiming run for reply failed")
		return
	}
	if !won {
		log.Debug("Run already claimed by another reply")
		return
	}
	claimed = run

	result := models.ReplyResult{
		ReplyText:      replyText,
		ReplyMessageID: replyMessageID,
	}
	label, clsErr := e.classifier.Classify(ctx, replyText)
	status := models.RunSucceeded
	errorMessage := ""
	if clsErr != nil {
		label = classifier.Unclear
		result.Error = clsErr.Error()
		status = models.RunFailed
		errorMessage = "reply classification failed: " + clsErr.Error()
	}
	result.Classification = string(label)
	result.ProcessedAt = e.now()

	encoded := models.EncodeJSON(result)
	won, err = e.transition(ctx, run, []models.RunStatus{models.RunProcessingReply}, map[string]interface{}{
		"status":        status,
		"ai_result":     encoded,
		"error_message": errorMessage,
		"finished_at":   result.ProcessedAt,
	})
	if err != nil {
		log.WithField("error", err.Error()).Error("Storing reply result failed")
		e.failRun(ctx, run, "reply processing error: "+err.Error())
		return
	}
	if !won {
		return
	}
	run.AIResult = encoded
	log.WithFields(map[string]interface{}{
		"classification": result.Classification,
		"status":         string(status),
	}).Info("Reply processed")

	if status != models.RunSucceeded {
		return
	}
	strategy, ok := e.strategies[def.ExecutionLogic]
	if !ok {
		return
	}
	handler, ok := strategy.(ReplyHandler)
	if !ok {
		return
	}
	x, _, err := e.prepare(a, run)
	if err != nil {
		log.WithField("error", err.Error()).Warn("Skipping reply follow-up")
		return
	}
	if err := handler.HandleReply(ctx, x, result); err != nil {
		log.WithField("error", err.Error()).Warn("Reply follow-up failed")
	}
}

// Resume continues a deferred run. It is safe to call more than once: runs
// that are no longer awaiting a resume are left alone and reported as success.
func (e *Executor) Resume(ctx context.Context, runID string) (result ResumeResult) {
	log := e.logger.WithField("run_id", runID)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Resume panicked")
			result = ResumeResult{Success: false, Message: fmt.Sprintf("resume panicked: %v", r)}
		}
	}()

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		var resErr *apperr.ResourceError
		if errors.As(err, &resErr) && resErr.NotFound() {
			return ResumeResult{Success: true, Message: "run no longer exists"}
		}
		return ResumeResult{Message: err.Error()}
	}
	if run.Status != models.RunRunning || !run.ParsedContext().AwaitingResume {
		return ResumeResult{Success: true, Message: "run is not awaiting resume"}
	}

	a, err := e.store.GetAutomation(ctx, run.AutomationID)
	if err != nil {
		e.failRun(ctx, run, "automation unavailable on resume: "+err.Error())
		return ResumeResult{Message: err.Error()}
	}
	x, strategy, err := e.prepare(a, run)
	if err != nil {
		e.failRun(ctx, run, err.Error())
		return ResumeResult{Message: err.Error()}
	}
	resumer, ok := strategy.(Resumer)
	if !ok {
		msg := fmt.Sprintf("execution logic %q cannot resume runs", x.Definition.ExecutionLogic)
		e.failRun(ctx, run, msg)
		return ResumeResult{Message: msg}
	}

	if err := resumer.Resume(ctx, x); err != nil {
		var apiErr *apperr.ExternalAPIError
		if errors.As(err, &apiErr) && apiErr.Temporary() {
			log.WithField("error", err.Error()).Warn("Resume failed, will retry")
			return ResumeResult{Message: err.Error()}
		}
		log.WithField("error", err.Error()).Error("Resume failed")
		e.failRun(ctx, run, err.Error())
		return ResumeResult{Message: err.Error()}
	}

	if err := x.UpdateContext(ctx, func(rc *models.RunContext) { rc.AwaitingResume = false }); err != nil {
		log.WithField("error", err.Error()).Warn("Clearing resume flag failed")
	}
	if _, err := e.transition(ctx, run, []models.RunStatus{models.RunRunning}, map[string]interface{}{
		"status":      models.RunSucceeded,
		"finished_at": e.now(),
	}); err != nil {
		return ResumeResult{Message: err.Error()}
	}
	return ResumeResult{Success: true}
}

// FailRun marks a non-terminal run FAILED. Used as the queue's backstop and
// for ambiguous replies.
func (e *Executor) FailRun(ctx context.Context, runID, reason string) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{"run_id": runID, "error": err.Error()}).Warn("Cannot fail unknown run")
		return
	}
	e.failRun(ctx, run, reason)
}

func (e *Executor) failRun(ctx context.Context, run *models.Run, reason string) {
	_, err := e.transition(ctx, run,
		[]models.RunStatus{models.RunRunning, models.RunWaitingReply, models.RunProcessingReply},
		map[string]interface{}{
			"status":        models.RunFailed,
			"error_message": reason,
			"finished_at":   e.now(),
		})
	if err != nil {
		e.logger.WithFields(map[string]interface{}{"run_id": run.ID, "error": err.Error()}).Error("Marking run failed did not persist")
		return
	}
	e.cancelResume(ctx, run)
}

// cancelResume drops a pending resume job of a run that can no longer resume.
func (e *Executor) cancelResume(ctx context.Context, run *models.Run) {
	jobID := run.ParsedContext().ResumeJobID
	if jobID == "" || e.jobs == nil {
		return
	}
	if err := e.jobs.Cancel(ctx, jobID); err != nil {
		e.logger.WithFields(map[string]interface{}{"run_id": run.ID, "job_id": jobID, "error": err.Error()}).Warn("Canceling resume job failed")
	}
}

// transition applies a compare-and-set status change and publishes the run
// when it took effect.
func (e *Executor) transition(ctx context.Context, run *models.Run, from []models.RunStatus, updates map[string]interface{}) (bool, error) {
	won, err := e.store.TransitionRun(ctx, run.ID, from, updates)
	if err != nil || !won {
		return won, err
	}
	fresh, err := e.store.GetRun(ctx, run.ID)
	if err != nil {
		return true, nil
	}
	*run = *fresh
	e.notifier.NotifyRun(run)
	return true, nil
}
