// Package notify доставляет операторские уведомления (нехватка баланса платформы и т.п.).
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Notifier отправляет уведомление оператору.
type Notifier interface {
	Notify(ctx context.Context, subject, text string) error
}

// Log пишет уведомления в журнал.
type Log struct {
	logger *zap.Logger
}

// NewLog создаёт уведомитель, пишущий в журнал с уровнем Warn.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Notify реализует Notifier.
func (l *Log) Notify(_ context.Context, subject, text string) error {
	l.logger.Warn("operator notification", zap.String("subject", subject), zap.String("text", text))
	return nil
}

// Multi рассылает уведомление всем получателям. Ошибка одного не мешает остальным.
type Multi []Notifier

// Notify реализует Notifier.
func (m Multi) Notify(ctx context.Context, subject, text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, subject, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
