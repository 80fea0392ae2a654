package notifier

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

type Consumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// delivery — одна недоставленная вебхук-посылка в очереди повторов.
type delivery struct {
	endpoint string
	payload  []byte
	attempts int
	nextAt   time.Time
}

type Notifier struct {
	consumer  Consumer
	endpoints []string
	secret    string
	httpc     *http.Client

	concurrency int
	maxAttempts int
	backoff     *Backoff

	retryInterval time.Duration
	retryMu       sync.Mutex
	retryQ        []delivery

	triggerCh chan struct{}

	startedAtUnixNano    int64
	lastDeliveryUnixNano atomic.Int64
	lastTriggerUnixNano  atomic.Int64
	totalMessages        atomic.Int64
	totalDeliveries      atomic.Int64
	totalErrors          atomic.Int64
	inFlight             atomic.Int64
	lastErrorMu          sync.Mutex
	lastError            string
}

func New(consumer Consumer, endpoints []string, secret string) *Notifier {
	return &Notifier{
		consumer:  consumer,
		endpoints: endpoints,
		secret:    secret,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},

		concurrency:   10,
		maxAttempts:   4,
		backoff:       NewBackoff(DefaultBackoffConfig()),
		retryInterval: 5 * time.Second,
		triggerCh:     make(chan struct{}, 1),

		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (n *Notifier) WithSettings(concurrency, maxAttempts int, timeout time.Duration) *Notifier {
	if concurrency > 0 {
		n.concurrency = concurrency
	}
	if maxAttempts > 0 {
		n.maxAttempts = maxAttempts
	}
	if timeout > 0 {
		n.httpc.Timeout = timeout
	}
	return n
}

func (n *Notifier) WithBackoff(cfg BackoffConfig) *Notifier {
	n.backoff = NewBackoff(cfg)
	return n
}

// Trigger форсирует немедленный проход по очереди повторов (best-effort).
func (n *Notifier) Trigger() {
	n.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case n.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt       time.Time  `json:"startedAt"`
	LastDeliveryAt  *time.Time `json:"lastDeliveryAt,omitempty"`
	LastTriggerAt   *time.Time `json:"lastTriggerAt,omitempty"`
	TotalMessages   int64      `json:"totalMessages"`
	TotalDeliveries int64      `json:"totalDeliveries"`
	TotalErrors     int64      `json:"totalErrors"`
	InFlight        int64      `json:"inFlight"`
	RetryQueue      int        `json:"retryQueue"`
	LastError       string     `json:"lastError,omitempty"`
}

func (n *Notifier) Stats() Stats {
	st := Stats{
		StartedAt:       time.Unix(0, n.startedAtUnixNano).UTC(),
		TotalMessages:   n.totalMessages.Load(),
		TotalDeliveries: n.totalDeliveries.Load(),
		TotalErrors:     n.totalErrors.Load(),
		InFlight:        n.inFlight.Load(),
	}
	if u := n.lastDeliveryUnixNano.Load(); u > 0 {
		t := time.Unix(0, u).UTC()
		st.LastDeliveryAt = &t
	}
	if u := n.lastTriggerUnixNano.Load(); u > 0 {
		t := time.Unix(0, u).UTC()
		st.LastTriggerAt = &t
	}
	n.retryMu.Lock()
	st.RetryQueue = len(n.retryQ)
	n.retryMu.Unlock()
	n.lastErrorMu.Lock()
	st.LastError = n.lastError
	n.lastErrorMu.Unlock()
	return st
}

func (n *Notifier) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.consumer.Consume(ctx, func(key, value []byte) error {
			return n.handleMessage(ctx, key, value)
		})
	}()

	t := time.NewTicker(n.retryInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-t.C:
			n.drainRetries(ctx, false)
		case <-n.triggerCh:
			n.drainRetries(ctx, true)
		}
	}
}

// handleMessage рассылает одно событие по всем эндпоинтам. Возвращаем nil
// всегда: недоставленное уходит в очередь повторов, оффсет коммитим.
func (n *Notifier) handleMessage(ctx context.Context, key, value []byte) error {
	n.totalMessages.Add(1)

	sem := make(chan struct{}, n.concurrency)
	var wg sync.WaitGroup
	for _, ep := range n.endpoints {
		sem <- struct{}{}
		wg.Add(1)
		endpoint := ep
		n.inFlight.Add(1)
		go func() {
			defer func() {
				n.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := n.deliver(ctx, endpoint, value); err != nil {
				n.noteError(err)
				slog.Error("deliver webhook", "endpoint", endpoint, "key", string(key), "error", err.Error())
				n.enqueueRetry(endpoint, value, 1)
				return
			}
			n.markDelivered()
		}()
	}
	wg.Wait()
	return nil
}

func (n *Notifier) deliver(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("X-Webhook-Secret", n.secret)
	}

	resp, err := n.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook http %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) enqueueRetry(endpoint string, payload []byte, attempts int) {
	if attempts >= n.maxAttempts {
		slog.Error("drop webhook after max attempts", "endpoint", endpoint, "attempts", attempts)
		return
	}
	n.retryMu.Lock()
	n.retryQ = append(n.retryQ, delivery{
		endpoint: endpoint,
		payload:  payload,
		attempts: attempts,
		nextAt:   time.Now().UTC().Add(n.backoff.Delay(attempts)),
	})
	n.retryMu.Unlock()
}

// drainRetries пробует доставить то, что дозрело. force игнорирует nextAt.
func (n *Notifier) drainRetries(ctx context.Context, force bool) {
	now := time.Now().UTC()

	n.retryMu.Lock()
	var due, rest []delivery
	for _, d := range n.retryQ {
		if force || !d.nextAt.After(now) {
			due = append(due, d)
		} else {
			rest = append(rest, d)
		}
	}
	n.retryQ = rest
	n.retryMu.Unlock()

	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, n.concurrency)
	var wg sync.WaitGroup
	for _, d := range due {
		sem <- struct{}{}
		wg.Add(1)
		dCopy := d
		n.inFlight.Add(1)
		go func() {
			defer func() {
				n.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := n.deliver(ctx, dCopy.endpoint, dCopy.payload); err != nil {
				n.noteError(err)
				slog.Warn("retry webhook", "endpoint", dCopy.endpoint, "attempt", dCopy.attempts+1, "error", err.Error())
				n.enqueueRetry(dCopy.endpoint, dCopy.payload, dCopy.attempts+1)
				return
			}
			n.markDelivered()
		}()
	}
	wg.Wait()
}

func (n *Notifier) markDelivered() {
	n.totalDeliveries.Add(1)
	n.lastDeliveryUnixNano.Store(time.Now().UTC().UnixNano())
}

func (n *Notifier) noteError(err error) {
	n.totalErrors.Add(1)
	n.lastErrorMu.Lock()
	n.lastError = err.Error()
	n.lastErrorMu.Unlock()
}
