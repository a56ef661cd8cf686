package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shinyyama/komemarche-backend/internal/clock"
	"github.com/shinyyama/komemarche-backend/internal/db"
	"github.com/shinyyama/komemarche-backend/internal/model"
	"github.com/shinyyama/komemarche-backend/internal/notify"
	"github.com/shinyyama/komemarche-backend/internal/order"
	"github.com/shinyyama/komemarche-backend/internal/payment"
	"github.com/shinyyama/komemarche-backend/internal/repository"
	"github.com/shinyyama/komemarche-backend/internal/schedule"
	"github.com/shinyyama/komemarche-backend/internal/token"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var jst = clock.MustLocation("Asia/Tokyo")

func at(month time.Month, day, hour, min int) time.Time {
	return time.Date(2026, month, day, hour, min, 0, 0, jst)
}

// 2026-10-21 is a Wednesday.
var (
	wedPickup   = at(10, 21, 19, 0)
	wedDeadline = at(10, 21, 16, 0)
)

func newTestDB(t *testing.T, now func() time.Time) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: now,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

type fakeGateway struct {
	mu       sync.Mutex
	fail     error
	requests []payment.CheckoutRequest
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return nil, g.fail
	}
	g.requests = append(g.requests, req)
	id := fmt.Sprintf("cs_test_%d", req.ReservationID)
	return &payment.CheckoutSession{ID: id, URL: "https://checkout.example/" + id}, nil
}

func (g *fakeGateway) ParseWebhook([]byte, string) (*payment.WebhookEvent, error) {
	return nil, errors.New("not used")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.ReservationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count(typ notify.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	db       *gorm.DB
	clk      *clock.Fixed
	sched    *schedule.Scheduler
	gateway  *fakeGateway
	pub      *recordingPublisher
	tokens   *token.Manager
	farmRepo repository.FarmRepository
	resRepo  repository.ReservationRepository
	svc      ReservationService
	farms    FarmService
	farm     *model.Farm
}

type fixtureOption func(*ReservationSettings, *time.Duration)

func withGrace(grace time.Duration) fixtureOption {
	return func(s *ReservationSettings, g *time.Duration) {
		*g = grace
		s.CancelUseGrace = true
	}
}

func newFixture(t *testing.T, now time.Time, opts ...fixtureOption) *fixture {
	t.Helper()
	settings := ReservationSettings{
		MaxOrderKg:        order.DefaultMaxKg,
		ServiceFeeYen:     300,
		PendingTTL:        45 * time.Minute,
		PaymentSessionTTL: 30 * time.Minute,
	}
	var grace time.Duration
	for _, o := range opts {
		o(&settings, &grace)
	}

	f := &fixture{
		clk:     &clock.Fixed{T: now},
		gateway: &fakeGateway{},
		pub:     &recordingPublisher{},
	}
	f.db = newTestDB(t, func() time.Time { return f.clk.Now() })
	f.sched = schedule.New(jst, schedule.DefaultReservationCutoff, grace)
	f.tokens = token.NewManager("test-secret", f.clk.Now)
	f.farmRepo = repository.NewFarmRepository(f.db)
	f.resRepo = repository.NewReservationRepository(f.db)
	f.svc = NewReservationService(ReservationDeps{
		Reservations:  f.resRepo,
		Farms:         f.farmRepo,
		Scheduler:     f.sched,
		Clock:         f.clk,
		Tokens:        f.tokens,
		Payments:      f.gateway,
		Publisher:     f.pub,
		Notifications: NewNotificationService(repository.NewNotificationRepository(f.db)),
		Settings:      settings,
	})
	f.farms = NewFarmService(f.farmRepo, f.resRepo, f.sched, f.clk)

	farm, err := f.farms.Create(context.Background(), "farmer-1", CreateFarmInput{
		Name:            "Yamada Farm",
		SlotCode:        string(schedule.SlotWednesdayEvening),
		PickupPlaceName: "Station square",
		Price10kg:       6000,
	})
	require.NoError(t, err)
	f.farm = farm
	return f
}

func (f *fixture) reserve(t *testing.T, consumer string, sel order.Selection) *CreatedReservation {
	t.Helper()
	created, err := f.svc.Create(context.Background(), CreateReservationInput{
		FarmID:      f.farm.ID,
		ConsumerUID: consumer,
		SlotCode:    f.farm.SlotCode,
		EventStart:  wedPickup,
		Selection:   sel,
	})
	require.NoError(t, err)
	return created
}

func (f *fixture) status(t *testing.T, id uint64) model.ReservationStatus {
	t.Helper()
	var r model.Reservation
	require.NoError(t, f.db.First(&r, id).Error)
	return r.Status
}
