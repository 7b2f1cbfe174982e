package cart

import (
	log "github.com/sirupsen/logrus"
)

// Kind различает пользовательские уведомления корзины.
type Kind string

const (
	KindAdded             Kind = "added"
	KindQuantityIncreased Kind = "quantity increased"
	KindRemoved           Kind = "removed"
	KindCleared           Kind = "cleared"
)

// Notification — сообщение для пользователя об изменении корзины.
type Notification struct {
	Kind   Kind
	Title  string
	Detail string
}

// Notifier показывает уведомления пользователю.
type Notifier interface {
	Notify(Notification)
}

// NopNotifier игнорирует уведомления.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// LogNotifier пишет уведомления в лог.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier поверх logrus.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(note Notification) {
	entry := n.logger.WithField("kind", string(note.Kind))
	if note.Detail != "" {
		entry = entry.WithField("detail", note.Detail)
	}
	entry.Info(note.Title)
}

// NotifierFunc позволяет использовать функцию как Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(note Notification) { f(note) }
