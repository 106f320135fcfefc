// Package service contains infrastructure adapters that sit between the
// application layer and concrete backends: resilience wrappers and the
// bridge from the in-process event bus to Redis notifications.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/studydeck/studydeck-progression/internal/domain/shared"
	"github.com/studydeck/studydeck-progression/pkg/circuitbreaker"
	"github.com/studydeck/studydeck-progression/pkg/logger"
	"github.com/studydeck/studydeck-progression/pkg/retry"
)

// IDGenerator produces event and record identifiers.
type IDGenerator struct{}

// NewIDGenerator creates a new IDGenerator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// GenerateID returns a new UUID string.
func (g *IDGenerator) GenerateID() string {
	return uuid.New().String()
}

// Notifier is the outbound notification transport. The Redis pub/sub
// notifier implements it.
type Notifier interface {
	Notify(ctx context.Context, event shared.Event) error
}

// NotificationService forwards domain events from the in-process bus to
// the notification transport. Deliveries are retried with backoff and
// go through a circuit breaker: when the transport is down the service
// drops notifications instead of piling goroutines onto a dead socket.
// Notifications are best-effort; the ledger commit already happened.
type NotificationService struct {
	notifier Notifier
	retrier  *retry.Retrier
	breaker  *circuitbreaker.CircuitBreaker
	log      *logger.Logger
	timeout  time.Duration
}

// NewNotificationService creates a NotificationService.
func NewNotificationService(notifier Notifier, log *logger.Logger) *NotificationService {
	svc := &NotificationService{
		notifier: notifier,
		// Delivery failures are transient by nature: the channel either
		// comes back or the breaker opens. Retry everything.
		retrier: retry.NotifierRetrier(retry.WithRetryIf(func(error) bool { return true })),
		log:     log.With(logger.Component("notification_service")),
		timeout: 5 * time.Second,
	}
	svc.breaker = circuitbreaker.NotifierBreaker(func(name string, from, to circuitbreaker.State) {
		svc.log.Warn("notifier breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	})
	return svc
}

// Register subscribes the service to every event on the bus.
func (s *NotificationService) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(s.handle)
}

func (s *NotificationService) handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.retrier.Do(ctx, func(ctx context.Context) error {
			return s.notifier.Notify(ctx, event)
		})
	})
	if err != nil {
		s.log.Warn("notification delivery failed",
			logger.String("event_type", string(event.EventType())),
			logger.SubjectID(event.AggregateID()),
			logger.Err(err))
		return err
	}

	s.log.Debug("notification delivered",
		logger.String("event_type", string(event.EventType())),
		logger.SubjectID(event.AggregateID()))
	return nil
}
