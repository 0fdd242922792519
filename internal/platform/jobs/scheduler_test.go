package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type tenantKey struct{}

func fakeTenant(calls *[]string) TenantFunc {
	return func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error {
		*calls = append(*calls, tenant)
		return fn(context.WithValue(ctx, tenantKey{}, tenant))
	}
}

type fakeReminders struct {
	leads   []time.Duration
	tenants []string
	failFor string
}

func (f *fakeReminders) SendReminders(ctx context.Context, lead time.Duration) (int, error) {
	tenant, _ := ctx.Value(tenantKey{}).(string)
	f.leads = append(f.leads, lead)
	f.tenants = append(f.tenants, tenant)
	if tenant == f.failFor {
		return 0, errors.New("database unavailable")
	}
	return 1, nil
}

type fakeScanner struct {
	runs int
}

func (f *fakeScanner) ScanLowStock(context.Context) (int, error) {
	f.runs++
	return 0, nil
}

func TestConfigDefaults(t *testing.T) {
	s := NewScheduler(Config{Tenants: []string{"default"}}, nil, nil, nil, zerolog.Nop())
	if s.cfg.ReminderInterval != 15*time.Minute || s.cfg.StockInterval != time.Hour {
		t.Errorf("unexpected intervals: %v %v", s.cfg.ReminderInterval, s.cfg.StockInterval)
	}
	if s.cfg.ReminderLead != 24*time.Hour {
		t.Errorf("expected 24h lead, got %v", s.cfg.ReminderLead)
	}
}

func TestRegister(t *testing.T) {
	s := NewScheduler(Config{Tenants: []string{"default"}}, nil, &fakeReminders{}, &fakeScanner{}, zerolog.Nop())
	if err := s.register(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	jobs := s.sched.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	tags := map[string]bool{}
	for _, j := range jobs {
		for _, tag := range j.Tags() {
			tags[tag] = true
		}
	}
	if !tags["reminders"] || !tags["low-stock"] {
		t.Errorf("expected reminders and low-stock jobs, got %v", tags)
	}
}

func TestRunReminders_EveryTenant(t *testing.T) {
	var calls []string
	rem := &fakeReminders{failFor: "north"}
	var buf bytes.Buffer
	s := NewScheduler(Config{Tenants: []string{"north", "south"}, ReminderLead: 2 * time.Hour},
		fakeTenant(&calls), rem, &fakeScanner{}, zerolog.New(&buf))

	s.RunReminders()

	if strings.Join(calls, ",") != "north,south" {
		t.Errorf("expected both tenants, got %v", calls)
	}
	if strings.Join(rem.tenants, ",") != "north,south" {
		t.Errorf("expected reminders scoped per tenant, got %v", rem.tenants)
	}
	if rem.leads[0] != 2*time.Hour {
		t.Errorf("expected 2h lead, got %v", rem.leads[0])
	}
	if !strings.Contains(buf.String(), `"tenant":"north"`) || !strings.Contains(buf.String(), "job failed") {
		t.Errorf("expected failure logged for north, got %s", buf.String())
	}
}

func TestRunLowStock(t *testing.T) {
	var calls []string
	scan := &fakeScanner{}
	s := NewScheduler(Config{Tenants: []string{"a", "b", "c"}}, fakeTenant(&calls), &fakeReminders{}, scan, zerolog.Nop())

	s.RunLowStock()

	if scan.runs != 3 {
		t.Errorf("expected 3 scans, got %d", scan.runs)
	}
}

func TestRun_TenantError(t *testing.T) {
	scan := &fakeScanner{}
	failing := func(context.Context, string, func(ctx context.Context) error) error {
		return errors.New("invalid tenant identifier")
	}
	s := NewScheduler(Config{Tenants: []string{"x"}}, failing, &fakeReminders{}, scan, zerolog.Nop())

	s.RunLowStock()

	if scan.runs != 0 {
		t.Errorf("expected no scan when the tenant cannot be reached, got %d", scan.runs)
	}
}
