package notify

import (
	"context"
	"errors"

	alerts "freshtrack-cloud/internal/alerts/domain"
)

// MultiNotifier dispatches alert events to multiple notifiers.
type MultiNotifier struct {
	notifiers []alerts.Notifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...alerts.Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event alerts.Event) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}

// OpsBroadcaster sends operational messages, such as partition maintenance
// warnings, straight to every configured channel.
type OpsBroadcaster struct {
	channels []Channel
}

// NewOpsBroadcaster constructs a broadcaster; nil channels are ignored.
func NewOpsBroadcaster(channels ...Channel) *OpsBroadcaster {
	b := &OpsBroadcaster{}
	for _, channel := range channels {
		if channel != nil {
			b.channels = append(b.channels, channel)
		}
	}
	return b
}

// AlertOps delivers message to all channels and reports every failure.
func (b *OpsBroadcaster) AlertOps(ctx context.Context, message string) error {
	if b == nil || len(b.channels) == 0 {
		return nil
	}
	var errs []error
	for _, channel := range b.channels {
		if err := channel.Send(ctx, "[ops] "+message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
