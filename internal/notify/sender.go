// Package notify delivers plain-text notifications to users by email.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sender delivers one message. Returned errors are treated as transient by
// callers.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender writes messages to the log instead of delivering them. It is used
// when SMTP is not configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info("notification",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

// Message is a message captured by a RecordingSender.
type Message struct {
	To      string
	Subject string
	Body    string
}

// RecordingSender keeps sent messages in memory. Err, when set, is returned
// from every Send without recording.
type RecordingSender struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (s *RecordingSender) Send(ctx context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.messages = append(s.messages, Message{To: to, Subject: subject, Body: body})
	return nil
}

// Messages returns a copy of the recorded messages.
func (s *RecordingSender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// SetErr changes the error returned by Send.
func (s *RecordingSender) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}
