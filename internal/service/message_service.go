package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/chat"
	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/model"
)

// MessageService is the server side of the repair chat.
type MessageService struct {
	repairs  RepairStore
	messages MessageStore
	events   events
	now      func() time.Time
}

func NewMessageService(repairs RepairStore, messages MessageStore, feed Publisher) *MessageService {
	return &MessageService{
		repairs:  repairs,
		messages: messages,
		events:   events{feed: feed},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MessageService) party(ctx context.Context, actor lifecycle.Actor, repairID string) (model.Repair, error) {
	r, err := s.repairs.Get(ctx, repairID)
	if err != nil {
		return model.Repair{}, err
	}
	if !lifecycle.IsParty(r, actor) {
		return model.Repair{}, errors.Wrap(model.ErrForbidden, "not a party to this repair")
	}
	return r, nil
}

// Send stores a message. Retrying with the same client id returns the
// stored message and publishes nothing new.
func (s *MessageService) Send(ctx context.Context, actor lifecycle.Actor, repairID, clientID, body string) (model.Message, error) {
	if _, err := uuid.Parse(clientID); err != nil {
		return model.Message{}, errors.Wrap(model.ErrInvalidInput, "client_id must be a uuid")
	}
	clean, err := chat.ValidateBody(body)
	if err != nil {
		return model.Message{}, err
	}
	if _, err := s.party(ctx, actor, repairID); err != nil {
		return model.Message{}, err
	}
	m, created, err := s.messages.Create(ctx, model.Message{
		ClientID:   clientID,
		RepairID:   repairID,
		SenderID:   actor.UserID,
		SenderRole: actor.Role,
		Body:       clean,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return model.Message{}, err
	}
	if created {
		s.events.publish(ctx, TableMessages, changefeed.OpInsert, m)
	}
	return m, nil
}

// List returns the thread.
func (s *MessageService) List(ctx context.Context, actor lifecycle.Actor, repairID string) ([]model.Message, error) {
	r, err := s.repairs.Get(ctx, repairID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.CanView(r, actor) {
		return nil, errors.Wrap(model.ErrForbidden, "repair belongs to someone else")
	}
	return s.messages.ListByRepair(ctx, repairID)
}

// MarkRead moves the caller's own read cursor to now.
func (s *MessageService) MarkRead(ctx context.Context, actor lifecycle.Actor, repairID string) error {
	if _, err := s.party(ctx, actor, repairID); err != nil {
		return err
	}
	return s.messages.MarkRead(ctx, repairID, actor.UserID, s.now())
}

// Unread counts the other party's messages the caller has not read.
func (s *MessageService) Unread(ctx context.Context, actor lifecycle.Actor, repairID string) (int, error) {
	if _, err := s.party(ctx, actor, repairID); err != nil {
		return 0, err
	}
	return s.messages.CountUnread(ctx, repairID, actor.UserID, actor.Role)
}

// SenderFor adapts the service to chat.Sender for an in-process thread.
func (s *MessageService) SenderFor(actor lifecycle.Actor) chat.Sender {
	return messageSender{svc: s, actor: actor}
}

type messageSender struct {
	svc   *MessageService
	actor lifecycle.Actor
}

func (m messageSender) SendMessage(ctx context.Context, repairID, clientID, body string) (model.Message, error) {
	return m.svc.Send(ctx, m.actor, repairID, clientID, body)
}
