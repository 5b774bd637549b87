package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/espaspw/fairypelago/internal/relay"
)

// Scheduler runs the two periodic maintenance jobs against the session
// manager: reconnecting stopped clients and evicting stale ones. Each run is
// fault-isolated; a panic or error is logged and never terminates the schedule.
type Scheduler struct {
	cron    *cron.Cron
	manager *relay.Manager
}

// New creates a scheduler with the given job intervals
func New(manager *relay.Manager, reconnectInterval, staleSweepInterval time.Duration) (*Scheduler, error) {
	logger := &cronLogger{}
	c := cron.New(cron.WithChain(
		cron.Recover(logger),
	))

	s := &Scheduler{cron: c, manager: manager}

	_, err := c.AddFunc(fmt.Sprintf("@every %s", reconnectInterval), s.attemptClientReconnections)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reconnection job: %w", err)
	}
	_, err = c.AddFunc(fmt.Sprintf("@every %s", staleSweepInterval), s.removeStaleClients)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule stale sweep job: %w", err)
	}

	return s, nil
}

// Start begins running the schedules in the background
func (s *Scheduler) Start() {
	slog.Info("Starting background jobs")
	s.cron.Start()
}

// Stop halts the schedules and waits for in-flight jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Background jobs stopped")
}

func (s *Scheduler) attemptClientReconnections() {
	slog.Info("Running job", "job", "attempt-client-reconnections")
	s.manager.StartAllClients(context.Background())
}

func (s *Scheduler) removeStaleClients() {
	slog.Info("Running job", "job", "remove-stale-clients")
	if err := s.manager.RemoveStaleClients(context.Background()); err != nil {
		slog.Error("Failed to remove stale clients", "error", err)
	}
}

// cronLogger adapts slog to the cron.Logger interface
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Info(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
