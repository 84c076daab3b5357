package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/geoffrothman/smores/internal/eventbus"
	rtsup "github.com/geoffrothman/smores/internal/runtime/supervisor"
	"github.com/geoffrothman/smores/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	sendTimeout = 10 * time.Second
	historySize = 100
)

type job struct {
	text string
	key  string
}

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sender  Sender
	log     logx.Logger
	bus     eventbus.Bus

	queue  chan job
	sup    *rtsup.Supervisor
	sendWG sync.WaitGroup

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		dedup:  map[string]time.Time{},
	}
	s.Apply(cfg)
	return s
}

// Apply swaps limits and retry policy. Queue size changes apply on the next
// Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	q := s.queue
	s.sup.GoRestart("worker", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case j, ok := <-q:
				if !ok {
					return nil
				}
				s.sendWithRetry(c, j)
			}
		}
	})
}

// Stop closes intake and drains queued messages until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	if q == nil {
		return
	}
	s.sendWG.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("notifier drain timed out", logx.Int("pending", len(q)))
	}
	sup.Cancel()
}

// Notify queues text without blocking. Duplicates inside DedupWindow are
// dropped silently.
func (s *Service) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	q := s.queue
	if q == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	window := s.cfg.DedupWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(text)
	if window > 0 && !s.dedupAllow(key, window, time.Now()) {
		return nil
	}
	select {
	case q <- job{text: text, key: key}:
		return nil
	default:
		s.publish(EventDropped, NotificationEvent{Key: key, At: time.Now(), Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

// Forward notifies the text produced by format for every event until ctx
// ends or events closes. format returns false to skip an event.
func (s *Service) Forward(ctx context.Context, events <-chan eventbus.Event, format func(eventbus.Event) (string, bool)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			text, ok := format(ev)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, text); err != nil && !errors.Is(err, ErrDisabled) {
				s.log.Warn("ops notification not queued", logx.String("event", ev.Type), logx.Err(err))
			}
		}
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	var err error
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = s.sender.SendOps(callCtx, j.text)
		cancel()
		if err == nil {
			s.hmu.Lock()
			s.history = append(s.history, HistoryItem{At: time.Now(), Text: j.text})
			if len(s.history) > historySize {
				s.history = s.history[len(s.history)-historySize:]
			}
			s.hmu.Unlock()
			s.publish(EventSent, NotificationEvent{Key: j.key, At: time.Now()})
			return
		}
		s.log.Debug("ops send failed", logx.Int("attempt", attempt), logx.Err(err))
		if attempt > cfg.RetryMax {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("ops notification failed", logx.Int("attempts", 1+cfg.RetryMax), logx.Err(err))
	s.publish(EventFailed, NotificationEvent{Key: j.key, At: time.Now(), Error: err.Error()})
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
	}
}

func dedupKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, now time.Time) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

// retryDelay is RetryBase doubled per attempt, capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
