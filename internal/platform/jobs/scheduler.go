// Package jobs runs the periodic clinic tasks for every configured tenant.
package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

type Reminders interface {
	SendReminders(ctx context.Context, lead time.Duration) (int, error)
}

type StockScanner interface {
	ScanLowStock(ctx context.Context) (int, error)
}

// TenantFunc runs fn scoped to one tenant. db.WithTenant bound to a pool
// satisfies it.
type TenantFunc func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error

type Config struct {
	Tenants          []string
	ReminderLead     time.Duration
	ReminderInterval time.Duration
	StockInterval    time.Duration
	// Timeout bounds one run of a job across all tenants.
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.ReminderLead <= 0 {
		c.ReminderLead = 24 * time.Hour
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = 15 * time.Minute
	}
	if c.StockInterval <= 0 {
		c.StockInterval = time.Hour
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
}

type Scheduler struct {
	cfg       Config
	sched     *gocron.Scheduler
	tenant    TenantFunc
	reminders Reminders
	stock     StockScanner
	logger    zerolog.Logger
}

func NewScheduler(cfg Config, tenant TenantFunc, reminders Reminders, stock StockScanner, logger zerolog.Logger) *Scheduler {
	cfg.defaults()
	sched := gocron.NewScheduler(time.Local)
	sched.SingletonModeAll()
	return &Scheduler{
		cfg:       cfg,
		sched:     sched,
		tenant:    tenant,
		reminders: reminders,
		stock:     stock,
		logger:    logger.With().Str("component", "jobs").Logger(),
	}
}

func (s *Scheduler) register() error {
	if _, err := s.sched.Every(s.cfg.ReminderInterval).Tag("reminders").Do(s.RunReminders); err != nil {
		return err
	}
	if _, err := s.sched.Every(s.cfg.StockInterval).Tag("low-stock").Do(s.RunLowStock); err != nil {
		return err
	}
	return nil
}

// Start registers the jobs and runs them in the background. Each job runs
// once immediately.
func (s *Scheduler) Start() error {
	if err := s.register(); err != nil {
		return err
	}
	s.sched.StartAsync()
	s.logger.Info().Strs("tenants", s.cfg.Tenants).
		Dur("reminder_interval", s.cfg.ReminderInterval).
		Dur("stock_interval", s.cfg.StockInterval).
		Msg("jobs started")
	return nil
}

// Stop waits for running jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	s.sched.Stop()
	s.logger.Info().Msg("jobs stopped")
}

// RunReminders sends due appointment reminders for every tenant.
func (s *Scheduler) RunReminders() {
	s.forEachTenant("reminders", func(ctx context.Context) (int, error) {
		return s.reminders.SendReminders(ctx, s.cfg.ReminderLead)
	})
}

// RunLowStock publishes low-stock alerts for every tenant.
func (s *Scheduler) RunLowStock() {
	s.forEachTenant("low-stock", s.stock.ScanLowStock)
}

// forEachTenant runs job per tenant. A failing tenant is logged and the
// remaining tenants still run.
func (s *Scheduler) forEachTenant(name string, job func(ctx context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	for _, tenant := range s.cfg.Tenants {
		start := time.Now()
		var n int
		err := s.tenant(ctx, tenant, func(ctx context.Context) error {
			var err error
			n, err = job(ctx)
			return err
		})
		if err != nil {
			s.logger.Error().Err(err).Str("job", name).Str("tenant", tenant).Msg("job failed")
			continue
		}
		s.logger.Debug().Str("job", name).Str("tenant", tenant).Int("count", n).
			Dur("latency", time.Since(start)).Msg("job finished")
	}
}
