// Package amqp bridges the reminder scheduler port onto the message broker.
// The process that owns device notifications consumes the commands and
// mirrors them into its local notification center.
package amqp

import (
	"context"
	"time"

	"subsum/internal/amqp"
	"subsum/internal/notify"
)

type Scheduler struct {
	client *amqp.Client
}

var _ notify.Scheduler = (*Scheduler)(nil)

func NewScheduler(client *amqp.Client) *Scheduler {
	return &Scheduler{client: client}
}

func (s *Scheduler) Schedule(ctx context.Context, id string, fireAt time.Time, title, body string) error {
	return s.client.PublishReminderCommand(ctx,
		amqp.NewReminderCommandMessage(amqp.ReminderSchedule, id, fireAt, title, body))
}

func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.client.PublishReminderCommand(ctx,
		amqp.NewReminderCommandMessage(amqp.ReminderCancel, id, time.Time{}, "", ""))
}

func (s *Scheduler) CancelAll(ctx context.Context) error {
	return s.client.PublishReminderCommand(ctx,
		amqp.NewReminderCommandMessage(amqp.ReminderCancelAll, "", time.Time{}, "", ""))
}
