package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shinyyama/komemarche-backend/internal/clock"
	"github.com/shinyyama/komemarche-backend/internal/model"
	"github.com/shinyyama/komemarche-backend/internal/notify"
	"github.com/shinyyama/komemarche-backend/internal/order"
	"github.com/shinyyama/komemarche-backend/internal/payment"
	"github.com/shinyyama/komemarche-backend/internal/repository"
	"github.com/shinyyama/komemarche-backend/internal/reqctx"
	"github.com/shinyyama/komemarche-backend/internal/schedule"
	"github.com/shinyyama/komemarche-backend/internal/token"
	"gorm.io/gorm"
)

// Actor is whoever asks for a cancellation.
type Actor struct {
	Kind  model.CancelledBy
	UID   string
	Token string
}

func ConsumerActor(uid, cancelToken string) Actor {
	return Actor{Kind: model.CancelledByConsumer, UID: uid, Token: cancelToken}
}

func FarmActor(uid string) Actor { return Actor{Kind: model.CancelledByFarm, UID: uid} }

func AdminActor(uid string) Actor { return Actor{Kind: model.CancelledByAdmin, UID: uid} }

func SystemActor() Actor { return Actor{Kind: model.CancelledBySystem} }

// Viewer identifies who reads a reservation.
type Viewer struct {
	UID   string
	Admin bool
}

type CreateReservationInput struct {
	FarmID      uint64
	ConsumerUID string
	SlotCode    string
	// EventStart selects the occurrence. Zero means the slot's next occurrence.
	EventStart time.Time
	Selection  order.Selection
}

type CreatedReservation struct {
	Reservation *model.Reservation
	Occurrence  schedule.Occurrence
	CancelToken string
	CheckoutURL string
}

type ReservationSettings struct {
	MaxOrderKg        int
	ServiceFeeYen     int64
	CancelUseGrace    bool
	PendingTTL        time.Duration
	PaymentSessionTTL time.Duration
}

type ReservationService interface {
	Create(ctx context.Context, in CreateReservationInput) (*CreatedReservation, error)
	Confirm(ctx context.Context, id uint64) (*model.Reservation, error)
	Cancel(ctx context.Context, id uint64, actor Actor) (*model.Reservation, error)
	CancelWithToken(ctx context.Context, cancelToken string) (*model.Reservation, error)
	HandlePaymentEvent(ctx context.Context, ev *payment.WebhookEvent) error
	Get(ctx context.Context, id uint64, viewer Viewer) (*model.Reservation, error)
	ListMine(ctx context.Context, consumerUID string) ([]model.Reservation, error)
	ListForFarm(ctx context.Context, ownerUID string, eventStart *time.Time) ([]model.Reservation, error)
	ExpireStalePending(ctx context.Context) (int, error)
	OccurrenceOf(r *model.Reservation) (schedule.Occurrence, error)
}

type ReservationDeps struct {
	Reservations  repository.ReservationRepository
	Farms         repository.FarmRepository
	Scheduler     *schedule.Scheduler
	Clock         clock.Clock
	Tokens        *token.Manager
	Payments      payment.Gateway
	Publisher     notify.Publisher
	Notifications NotificationService
	Settings      ReservationSettings
}

type reservationService struct {
	ReservationDeps
}

func NewReservationService(deps ReservationDeps) ReservationService {
	if deps.Settings.MaxOrderKg <= 0 {
		deps.Settings.MaxOrderKg = order.DefaultMaxKg
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.LogPublisher{}
	}
	return &reservationService{ReservationDeps: deps}
}

func (s *reservationService) Create(ctx context.Context, in CreateReservationInput) (*CreatedReservation, error) {
	if in.ConsumerUID == "" {
		return nil, errors.New("consumer is required")
	}
	if err := order.Validate(in.Selection, s.Settings.MaxOrderKg); err != nil {
		return nil, err
	}
	code := schedule.SlotCode(in.SlotCode)
	if _, err := s.Scheduler.Definition(code); err != nil {
		return nil, err
	}

	var occ schedule.Occurrence
	res, err := s.Reservations.CreatePending(ctx, in.FarmID, func(farm *model.Farm) (*model.Reservation, error) {
		if farm.SlotCode != string(code) {
			return nil, fmt.Errorf("%w: farm %d picks up at %s", ErrInvalidSlotCode, farm.ID, farm.SlotCode)
		}
		now := s.Clock.Now()
		next, err := s.Scheduler.Next(code, now)
		if err != nil {
			return nil, err
		}
		occ = next
		if !in.EventStart.IsZero() {
			requested, err := s.Scheduler.At(code, in.EventStart)
			if err != nil {
				return nil, err
			}
			if !requested.OpenForReservation(now) {
				return nil, &DeadlineError{Kind: ErrSlotDeadlinePassed, Cutoff: requested.ReservationDeadline, Next: &next}
			}
			if !requested.EventStart.Equal(next.EventStart) {
				return nil, fmt.Errorf("%w: only the pickup on %s is open", ErrUnknownOccurrence, next.EventStart.Format(time.RFC3339))
			}
		}

		prices := order.PriceTable{Price5kg: farm.Price5kg, Price10kg: farm.Price10kg, Price25kg: farm.Price25kg}
		lines, subtotal := order.Lines(in.Selection, prices)
		items := make([]model.ReservationItem, 0, len(lines))
		for _, l := range lines {
			if l.UnitPrice <= 0 {
				return nil, fmt.Errorf("%w: no price for %dkg", ErrPricingUnavailable, int(l.Tier))
			}
			items = append(items, model.ReservationItem{
				SizeKg:    int(l.Tier),
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice,
				Subtotal:  l.Subtotal,
			})
		}
		return &model.Reservation{
			FarmID:          farm.ID,
			ConsumerUID:     in.ConsumerUID,
			SlotCode:        string(occ.SlotCode),
			EventStart:      occ.EventStart,
			EventEnd:        occ.EventEnd,
			Status:          model.ReservationStatusPending,
			TotalWeightKg:   order.TotalWeightKg(in.Selection),
			RiceSubtotal:    subtotal,
			ServiceFee:      s.Settings.ServiceFeeYen,
			PickupPlaceName: farm.PickupPlaceName,
			Items:           items,
		}, nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	log.Printf("[reservation] rid=%s uid=%s action=create id=%d farm_id=%d occurrence=%s kg=%d",
		reqctx.RID(ctx), reqctx.UID(ctx), res.ID, res.FarmID, occ.Key(), res.TotalWeightKg)

	issued, err := s.Tokens.Issue(res.ID, occ.EventEnd)
	if err != nil {
		s.abandon(ctx, res.ID, err)
		return nil, err
	}
	if err := s.Reservations.SetCancelToken(ctx, res.ID, issued.Token, issued.ExpiresAt); err != nil {
		s.abandon(ctx, res.ID, err)
		return nil, err
	}
	res.CancelToken = issued.Token
	res.CancelTokenExpiresAt = &issued.ExpiresAt

	out := &CreatedReservation{Reservation: res, Occurrence: occ, CancelToken: issued.Token}

	if s.Payments == nil {
		// Without a gateway the fee is settled offline and the reservation holds immediately.
		s.emit(ctx, notify.EventReservationCreated, res, issued.Token)
		confirmed, err := s.Confirm(ctx, res.ID)
		if err != nil {
			return nil, err
		}
		out.Reservation = confirmed
		return out, nil
	}

	session, err := s.Payments.CreateCheckout(ctx, payment.CheckoutRequest{
		ReservationID: res.ID,
		ConsumerUID:   res.ConsumerUID,
		AmountYen:     res.ServiceFee,
		Description:   "Reservation service fee",
		ExpiresAt:     s.Clock.Now().Add(s.Settings.PaymentSessionTTL),
	})
	if err != nil {
		s.abandon(ctx, res.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	if err := s.Reservations.SetPaymentSession(ctx, res.ID, session.ID); err != nil {
		log.Printf("[reservation] rid=%s store session failed id=%d err=%v", reqctx.RID(ctx), res.ID, err)
	}
	res.PaymentSessionID = session.ID
	out.CheckoutURL = session.URL
	s.emit(ctx, notify.EventReservationCreated, res, issued.Token)
	return out, nil
}

// abandon cancels a pending reservation whose follow-up setup failed.
func (s *reservationService) abandon(ctx context.Context, id uint64, cause error) {
	log.Printf("[reservation] rid=%s abandon id=%d cause=%v", reqctx.RID(ctx), id, cause)
	if _, err := s.cancel(ctx, id, SystemActor(), false); err != nil {
		log.Printf("[reservation] rid=%s abandon cancel failed id=%d err=%v", reqctx.RID(ctx), id, err)
	}
}

func (s *reservationService) Confirm(ctx context.Context, id uint64) (*model.Reservation, error) {
	changed := false
	res, err := s.Reservations.Transition(ctx, id, func(r *model.Reservation) (bool, error) {
		switch r.Status {
		case model.ReservationStatusConfirmed:
			return false, nil
		case model.ReservationStatusCancelled:
			return false, ErrReservationCancelled
		}
		now := s.Clock.Now()
		r.Status = model.ReservationStatusConfirmed
		r.ConfirmedAt = &now
		changed = true
		return true, nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	if changed {
		log.Printf("[reservation] rid=%s action=confirm id=%d", reqctx.RID(ctx), res.ID)
		s.emit(ctx, notify.EventReservationConfirmed, res, "")
		s.notifyFarm(ctx, res, NotificationReservationConfirmed, "予約が確定しました",
			fmt.Sprintf("%s 受け取り分の予約 (%dkg) が確定しました。", res.EventStart.Format("1/2 15:04"), res.TotalWeightKg))
	}
	return res, nil
}

func (s *reservationService) Cancel(ctx context.Context, id uint64, actor Actor) (*model.Reservation, error) {
	return s.cancel(ctx, id, actor, true)
}

// cancel with announce=false skips the event and notifications, for reservations nobody was told about.
func (s *reservationService) cancel(ctx context.Context, id uint64, actor Actor, announce bool) (*model.Reservation, error) {
	var ownFarmID uint64
	switch actor.Kind {
	case model.CancelledByConsumer:
		tokenID, err := s.Tokens.Parse(actor.Token)
		if err != nil || tokenID != id {
			return nil, ErrTokenInvalidOrExpired
		}
	case model.CancelledByFarm:
		farm, err := s.Farms.FindByOwner(ctx, actor.UID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrForbidden
			}
			return nil, err
		}
		ownFarmID = farm.ID
	case model.CancelledByAdmin, model.CancelledBySystem:
	default:
		return nil, fmt.Errorf("unknown actor %q", actor.Kind)
	}

	changed := false
	res, err := s.Reservations.Transition(ctx, id, func(r *model.Reservation) (bool, error) {
		switch actor.Kind {
		case model.CancelledByConsumer:
			if actor.UID != "" && actor.UID != r.ConsumerUID {
				return false, ErrForbidden
			}
			if r.CancelToken == "" || r.CancelToken != actor.Token {
				return false, ErrTokenInvalidOrExpired
			}
		case model.CancelledByFarm:
			if r.FarmID != ownFarmID {
				return false, ErrForbidden
			}
		}
		if r.Status == model.ReservationStatusCancelled {
			return false, ErrAlreadyCancelled
		}
		now := s.Clock.Now()
		switch actor.Kind {
		case model.CancelledByConsumer:
			occ, err := s.OccurrenceOf(r)
			if err != nil {
				return false, err
			}
			if !occ.Cancellable(now, s.Settings.CancelUseGrace) {
				return false, &DeadlineError{Kind: ErrCancellationWindowClosed, Cutoff: occ.CancellationCutoff(s.Settings.CancelUseGrace)}
			}
		case model.CancelledBySystem:
			if r.Status != model.ReservationStatusPending {
				return false, nil
			}
		}
		r.Status = model.ReservationStatusCancelled
		r.CancelledAt = &now
		r.CancelledBy = actor.Kind
		changed = true
		return true, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, ErrReservationNotFound
		case errors.Is(err, ErrAlreadyCancelled):
			return s.findReservation(ctx, id)
		}
		return nil, err
	}
	if changed {
		log.Printf("[reservation] rid=%s uid=%s action=cancel id=%d by=%s announce=%t", reqctx.RID(ctx), reqctx.UID(ctx), res.ID, res.CancelledBy, announce)
	}
	if changed && announce {
		s.emit(ctx, notify.EventReservationCancelled, res, "")
		body := fmt.Sprintf("%s 受け取り分の予約 (%dkg) がキャンセルされました。", res.EventStart.Format("1/2 15:04"), res.TotalWeightKg)
		switch actor.Kind {
		case model.CancelledByConsumer, model.CancelledBySystem:
			s.notifyFarm(ctx, res, NotificationReservationCancelled, "予約がキャンセルされました", body)
		default:
			if s.Notifications != nil {
				s.Notifications.Notify(ctx, res.ConsumerUID, NotificationReservationCancelled, "予約がキャンセルされました", body, uint64Ptr(res.FarmID), uint64Ptr(res.ID))
			}
		}
	}
	return res, nil
}

func (s *reservationService) CancelWithToken(ctx context.Context, cancelToken string) (*model.Reservation, error) {
	id, err := s.Tokens.Parse(cancelToken)
	if err != nil {
		return nil, ErrTokenInvalidOrExpired
	}
	return s.Cancel(ctx, id, ConsumerActor("", cancelToken))
}

// HandlePaymentEvent applies a verified checkout callback. Replayed callbacks are harmless.
func (s *reservationService) HandlePaymentEvent(ctx context.Context, ev *payment.WebhookEvent) error {
	if ev == nil || ev.Kind == payment.EventIgnored {
		return nil
	}
	if ev.ReservationID == 0 {
		log.Printf("[reservation] rid=%s payment event without reservation event=%s session=%s", reqctx.RID(ctx), ev.ID, ev.SessionID)
		return nil
	}
	res, err := s.findReservation(ctx, ev.ReservationID)
	if err != nil {
		return err
	}
	if res.PaymentSessionID != "" && ev.SessionID != "" && res.PaymentSessionID != ev.SessionID {
		log.Printf("[reservation] rid=%s session mismatch id=%d stored=%s got=%s", reqctx.RID(ctx), res.ID, res.PaymentSessionID, ev.SessionID)
		return nil
	}
	switch ev.Kind {
	case payment.EventCheckoutCompleted:
		if ev.PaymentStatus != "" && ev.PaymentStatus != "paid" && ev.PaymentStatus != "no_payment_required" {
			return nil
		}
		_, err := s.Confirm(ctx, res.ID)
		if errors.Is(err, ErrReservationCancelled) {
			log.Printf("[reservation] rid=%s paid after cancellation id=%d session=%s", reqctx.RID(ctx), res.ID, ev.SessionID)
			return nil
		}
		return err
	case payment.EventCheckoutExpired:
		_, err := s.Cancel(ctx, res.ID, SystemActor())
		return err
	}
	return nil
}

func (s *reservationService) Get(ctx context.Context, id uint64, viewer Viewer) (*model.Reservation, error) {
	res, err := s.findReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewer.Admin || (viewer.UID != "" && viewer.UID == res.ConsumerUID) {
		return res, nil
	}
	farm, err := s.Farms.FindByID(ctx, res.FarmID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if farm != nil && viewer.UID != "" && farm.OwnerUID == viewer.UID {
		return res, nil
	}
	return nil, ErrForbidden
}

func (s *reservationService) ListMine(ctx context.Context, consumerUID string) ([]model.Reservation, error) {
	if consumerUID == "" {
		return nil, ErrForbidden
	}
	return s.Reservations.ListByConsumer(ctx, consumerUID)
}

func (s *reservationService) ListForFarm(ctx context.Context, ownerUID string, eventStart *time.Time) ([]model.Reservation, error) {
	farm, err := s.Farms.FindByOwner(ctx, ownerUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.Reservations.ListByFarm(ctx, farm.ID, eventStart)
}

// ExpireStalePending cancels pending reservations whose payment was never completed.
func (s *reservationService) ExpireStalePending(ctx context.Context) (int, error) {
	if s.Settings.PendingTTL <= 0 {
		return 0, nil
	}
	stale, err := s.Reservations.ListStalePending(ctx, s.Clock.Now().Add(-s.Settings.PendingTTL), 100)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, r := range stale {
		res, err := s.Cancel(ctx, r.ID, SystemActor())
		if err != nil {
			log.Printf("[reservation] expire failed id=%d err=%v", r.ID, err)
			continue
		}
		if res.Status == model.ReservationStatusCancelled && res.CancelledBy == model.CancelledBySystem {
			expired++
		}
	}
	return expired, nil
}

// OccurrenceOf rebuilds the pickup occurrence a reservation is bound to.
func (s *reservationService) OccurrenceOf(r *model.Reservation) (schedule.Occurrence, error) {
	return s.Scheduler.At(schedule.SlotCode(r.SlotCode), r.EventStart)
}

func (s *reservationService) findReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	res, err := s.Reservations.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return res, nil
}

func (s *reservationService) emit(ctx context.Context, typ notify.EventType, r *model.Reservation, cancelToken string) {
	ev := notify.ReservationEvent{
		Type:          typ,
		ReservationID: r.ID,
		FarmID:        r.FarmID,
		ConsumerUID:   r.ConsumerUID,
		Occurrence:    schedule.OccurrenceKey{SlotCode: schedule.SlotCode(r.SlotCode), EventStart: r.EventStart}.String(),
		EventStart:    r.EventStart,
		TotalWeightKg: r.TotalWeightKg,
		CancelToken:   cancelToken,
		CancelledBy:   string(r.CancelledBy),
		OccurredAt:    s.Clock.Now(),
	}
	if err := s.Publisher.Publish(ctx, ev); err != nil {
		log.Printf("[reservation] rid=%s publish failed type=%s id=%d err=%v", reqctx.RID(ctx), typ, r.ID, err)
	}
}

func (s *reservationService) notifyFarm(ctx context.Context, r *model.Reservation, typ, title, body string) {
	if s.Notifications == nil {
		return
	}
	farm, err := s.Farms.FindByID(ctx, r.FarmID)
	if err != nil {
		log.Printf("[reservation] rid=%s notify farm lookup failed farm_id=%d err=%v", reqctx.RID(ctx), r.FarmID, err)
		return
	}
	s.Notifications.Notify(ctx, farm.OwnerUID, typ, title, body, uint64Ptr(farm.ID), uint64Ptr(r.ID))
}
