// Package scheduler ticks SCHEDULE automations on their cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/pkg/logger"

	"github.com/robfig/cron/v3"
)

const resyncInterval = 5 * time.Minute

// Starter begins a run for an automation.
type Starter interface {
	StartExecution(ctx context.Context, automationID string, payload []byte)
}

// Scheduled is implemented by template configs that run on a cron schedule.
type Scheduled interface {
	CronSpec() string
}

type entry struct {
	id   cron.EntryID
	spec string
	job  cron.Job
}

type Scheduler struct {
	store     *database.Store
	templates *templates.Registry
	starter   Starter
	logger    logger.Logger
	now       func() time.Time

	cron    *cron.Cron
	parser  cron.Parser
	mu      sync.Mutex
	entries map[string]entry
}

func New(store *database.Store, registry *templates.Registry, starter Starter, log logger.Logger) *Scheduler {
	// Standard 5-field expressions plus @every/@hourly descriptors.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{log: log}
	return &Scheduler{
		store:     store,
		templates: registry,
		starter:   starter,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
		cron:      cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cl))),
		parser:    parser,
		entries:   make(map[string]entry),
	}
}

// Start syncs once, starts the cron runner and keeps resyncing until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if err := s.Sync(ctx); err != nil {
		s.logger.WithField("error", err.Error()).Error("Initial schedule sync failed")
	}
	s.cron.Start()
	s.logger.Info("Scheduler started")

	go func() {
		ticker := time.NewTicker(resyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sync(ctx); err != nil {
					s.logger.WithField("error", err.Error()).Error("Schedule sync failed")
				}
			}
		}
	}()
}

// Stop halts the cron runner and waits for ticks in progress.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Sync makes the cron entries match the active SCHEDULE automations.
func (s *Scheduler) Sync(ctx context.Context) error {
	automations, err := s.store.ListActiveAutomationsByTrigger(ctx, models.TriggerSchedule)
	if err != nil {
		return fmt.Errorf("load scheduled automations: %w", err)
	}

	wanted := make(map[string]string, len(automations))
	for i := range automations {
		a := &automations[i]
		spec, err := s.specFor(a)
		if err != nil {
			s.logger.WithFields(map[string]interface{}{"automation_id": a.ID, "error": err.Error()}).Warn("Automation not scheduled")
			continue
		}
		wanted[a.ID] = spec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if spec, ok := wanted[id]; !ok || spec != e.spec {
			s.cron.Remove(e.id)
			delete(s.entries, id)
		}
	}
	for id, spec := range wanted {
		if _, ok := s.entries[id]; ok {
			continue
		}
		schedule, err := s.parser.Parse(spec)
		if err != nil {
			s.logger.WithFields(map[string]interface{}{"automation_id": id, "schedule": spec}).Warn("Invalid cron expression")
			continue
		}
		job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: s.logger})).Then(s.tick(id))
		s.entries[id] = entry{id: s.cron.Schedule(schedule, job), spec: spec, job: job}
	}
	return nil
}

// Scheduled returns the ids of the automations with a cron entry.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) specFor(a *models.Automation) (string, error) {
	def, ok := s.templates.Get(a.TemplateDefinitionID)
	if !ok {
		return "", fmt.Errorf("template %s not registered", a.TemplateDefinitionID)
	}
	cfg, err := def.DecodeConfig([]byte(a.Config))
	if err != nil {
		return "", err
	}
	sc, ok := cfg.(Scheduled)
	if !ok || sc.CronSpec() == "" {
		return "", fmt.Errorf("template %s has no schedule", def.ID)
	}
	return sc.CronSpec(), nil
}

func (s *Scheduler) tick(automationID string) cron.FuncJob {
	return func() {
		payload := models.EncodeJSON(map[string]string{"tick": s.now().Format(time.RFC3339)})
		s.logger.WithField("automation_id", automationID).Debug("Schedule tick")
		s.starter.StartExecution(context.Background(), automationID, []byte(payload))
	}
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := pairs(keysAndValues)
	fields["error"] = err.Error()
	l.log.WithFields(fields).Error("cron: " + msg)
}

func pairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
