// Package ingestion turns the live log stream into typed chain events and
// feeds them through resolution and enrichment into the token store.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-token-feed/internal/discovery"
	"solana-token-feed/internal/observability"
	"solana-token-feed/internal/solana"
)

// DefaultNotificationBuffer is the capacity of the merged notification channel.
const DefaultNotificationBuffer = 1000

// Subscriber owns one log subscription per watched program on a shared
// WebSocket client and merges them into a single stream.
type Subscriber struct {
	ws       solana.WSClient
	programs []string
	buffer   int
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	out    chan discovery.RawLog
	errs   chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// watcher is closed when the fatal watcher exits.
	watcher chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSubscriber creates a subscriber for programs. buffer <= 0 uses
// DefaultNotificationBuffer.
func NewSubscriber(ws solana.WSClient, programs []string, buffer int, logger *zap.Logger, metrics *observability.Metrics) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultNotificationBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		ws:       ws,
		programs: programs,
		buffer:   buffer,
		logger:   logger.Named("subscriber"),
		metrics:  metrics,
		now:      time.Now,
		out:      make(chan discovery.RawLog, buffer),
		errs:     make(chan error, 1),
	}
}

// Start subscribes to every program (one subscription each, since some
// providers accept only one address per subscription) and begins
// forwarding. It fails if any subscription is rejected.
func (s *Subscriber) Start(ctx context.Context) error {
	if len(s.programs) == 0 {
		return errors.New("subscriber: no programs to watch")
	}

	err := errors.New("subscriber: already started")
	s.startOnce.Do(func() {
		err = s.start(ctx)
	})
	return err
}

func (s *Subscriber) start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	sources := make(map[string]<-chan solana.LogNotification, len(s.programs))
	for _, program := range s.programs {
		ch, err := s.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{program}})
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe %s: %w", program, err)
		}
		sources[program] = ch
		s.logger.Info("subscribed to program logs", zap.String("program", program))
	}

	for program, ch := range sources {
		s.wg.Add(1)
		go s.forward(ctx, program, ch)
	}

	s.watcher = make(chan struct{})
	go s.watchFatal(ctx)

	go func() {
		s.wg.Wait()
		close(s.out)
	}()
	return nil
}

func (s *Subscriber) forward(ctx context.Context, program string, in <-chan solana.LogNotification) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-in:
			if !ok {
				return
			}
			s.metrics.RecordLogReceived(program, notif.Slot)
			if notif.Err != nil {
				s.metrics.RecordLogDropped("tx_error")
				continue
			}
			raw := discovery.RawLog{
				Signature:  notif.Signature,
				Slot:       notif.Slot,
				ProgramID:  program,
				Logs:       notif.Logs,
				ReceivedAt: s.now().UnixMilli(),
			}
			select {
			case s.out <- raw:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Subscriber) watchFatal(ctx context.Context) {
	defer close(s.watcher)

	select {
	case <-ctx.Done():
	case err, ok := <-s.ws.Fatal():
		if !ok || err == nil {
			return
		}
		s.logger.Error("subscription terminated", zap.Error(err))
		select {
		case s.errs <- err:
		default:
		}
		// No more notifications follow a fatal error.
		s.cancel()
	}
}

// Notifications returns the merged stream. It is closed after Stop, after
// a fatal error, or when every upstream subscription has ended.
func (s *Subscriber) Notifications() <-chan discovery.RawLog {
	return s.out
}

// Errors delivers at most one terminal error.
func (s *Subscriber) Errors() <-chan error {
	return s.errs
}

// Stop ends forwarding and closes the underlying client.
func (s *Subscriber) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		err = s.ws.Close()
		s.wg.Wait()
		if s.watcher != nil {
			<-s.watcher
		}
	})
	return err
}
