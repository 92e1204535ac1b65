package conductor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ResyncRunner drives a periodic makeReady pass across the roster on a
// cron schedule, so devices that drifted (restarts, dropped connections)
// converge back to the committed state without waiting for the next
// timeline revision.
type ResyncRunner struct {
	logger    *log.Logger
	conductor *Conductor
	schedule  cron.Schedule
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// ParseCron parses a standard 5-field cron expression
// (minute, hour, day-of-month, month, day-of-week).
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NewResyncRunner creates a runner for the given cron expression.
func NewResyncRunner(conductor *Conductor, cronExpr string, logger *log.Logger) (*ResyncRunner, error) {
	if logger == nil {
		logger = log.Default()
	}
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return nil, err
	}
	return &ResyncRunner{
		logger:    logger,
		conductor: conductor,
		schedule:  schedule,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start begins the resync loop in a goroutine.
func (r *ResyncRunner) Start() {
	r.logger.Printf("CONDUCTOR: resync runner starting, next run %s", r.schedule.Next(time.Now()).Format(time.RFC3339))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runLoop()
	}()
}

// Stop gracefully stops the runner.
func (r *ResyncRunner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Println("CONDUCTOR: resync runner stopped")
}

func (r *ResyncRunner) runLoop() {
	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-r.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			r.resync()
		}
	}
}

func (r *ResyncRunner) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.conductor.MakeReadyAll(ctx, false); err != nil {
		r.logger.Printf("CONDUCTOR: resync pass finished with errors: %v", err)
	}
}
