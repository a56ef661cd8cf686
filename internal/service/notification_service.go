package service

import (
	"context"
	"log"

	"github.com/shinyyama/komemarche-backend/internal/model"
	"github.com/shinyyama/komemarche-backend/internal/repository"
)

const (
	NotificationReservationConfirmed = "reservation_confirmed"
	NotificationReservationCancelled = "reservation_cancelled"
)

type NotificationService interface {
	Notify(ctx context.Context, userUID, typ, title, body string, farmID, reservationID *uint64)
	List(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, int64, error)
	MarkAllRead(ctx context.Context, userUID string) error
	MarkByReservation(ctx context.Context, userUID string, reservationID uint64) error
}

type notificationService struct {
	repo repository.NotificationRepository
}

func NewNotificationService(repo repository.NotificationRepository) NotificationService {
	return &notificationService{repo: repo}
}

// Notify is best-effort; it logs errors but does not return them to avoid breaking main flows.
func (s *notificationService) Notify(ctx context.Context, userUID, typ, title, body string, farmID, reservationID *uint64) {
	if userUID == "" || typ == "" {
		return
	}
	n := &model.Notification{
		UserUID:       userUID,
		Type:          typ,
		Title:         title,
		Body:          body,
		FarmID:        farmID,
		ReservationID: reservationID,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		log.Printf("[notification] create failed uid=%s type=%s err=%v", userUID, typ, err)
	}
}

func (s *notificationService) List(ctx context.Context, userUID string, unreadOnly bool, limit int) ([]model.Notification, int64, error) {
	if userUID == "" {
		return nil, 0, nil
	}
	list, err := s.repo.ListByUser(ctx, userUID, unreadOnly, limit)
	if err != nil {
		return nil, 0, err
	}
	cnt, err := s.repo.CountUnread(ctx, userUID)
	if err != nil {
		return list, 0, err
	}
	return list, cnt, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userUID string) error {
	if userUID == "" {
		return nil
	}
	return s.repo.MarkAllRead(ctx, userUID)
}

func (s *notificationService) MarkByReservation(ctx context.Context, userUID string, reservationID uint64) error {
	if userUID == "" || reservationID == 0 {
		return nil
	}
	return s.repo.MarkByReservation(ctx, userUID, reservationID)
}

// helper to return pointer
func uint64Ptr(v uint64) *uint64 {
	return &v
}
