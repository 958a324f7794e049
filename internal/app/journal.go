package app

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/spendsave/internal/engine/events"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

// eventJournal mirrors published events into the application log. Every
// event is traced at debug level; warnings and errors are repeated at their
// own level so they show up under the default configuration.
type eventJournal struct {
	events events.EventLogger
	log    *logger.Logger

	mu          sync.Mutex
	unsubscribe []func()
}

func newEventJournal(ev events.EventLogger, log *logger.Logger) *eventJournal {
	return &eventJournal{events: ev, log: log}
}

func (j *eventJournal) Name() string { return "event-journal" }

func (j *eventJournal) Start(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.unsubscribe) > 0 {
		return nil
	}
	j.unsubscribe = append(j.unsubscribe,
		j.events.Subscribe(j.trace),
		j.events.SubscribeFiltered(escalated, j.report),
	)
	return nil
}

func (j *eventJournal) Stop(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, fn := range j.unsubscribe {
		fn()
	}
	j.unsubscribe = nil
	return nil
}

func escalated(e events.Event) bool {
	return e.Severity == events.SeverityWarning || e.Severity == events.SeverityError
}

func (j *eventJournal) fields(e events.Event) logrus.Fields {
	f := logrus.Fields{"event": string(e.Type)}
	if e.Subject != "" {
		f["subject"] = e.Subject
	}
	if e.OperationID != "" {
		f["operation"] = e.Operation
		f["operation_id"] = e.OperationID
	}
	if e.RequestID != "" {
		f["request_id"] = e.RequestID
	}
	return f
}

func (j *eventJournal) trace(e events.Event) {
	if !j.log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	j.log.WithFields(j.fields(e)).Debug(message(e))
}

func (j *eventJournal) report(e events.Event) {
	entry := j.log.WithFields(j.fields(e))
	if e.Error != "" {
		entry = entry.WithField("error", e.Error)
	}
	if e.Severity == events.SeverityError {
		entry.Error(message(e))
		return
	}
	entry.Warn(message(e))
}

func message(e events.Event) string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Type)
}
