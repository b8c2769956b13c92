package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"mailcast/internal/domain"
	"mailcast/internal/observability"
	"mailcast/internal/relay"
	"mailcast/internal/store"
)

type Transport interface {
	Send(ctx context.Context, msg *relay.Message) (relay.Response, int, []byte, error)
}

type Composer interface {
	Compose(ctx context.Context, unit *domain.ClaimedUnit) (*relay.Message, error)
}

// Loop is the delivery driver. Concurrency slots model the transport's spare
// capacity: the loop parks until a slot frees, claims one unit, composes it
// and hands the send to a goroutine holding the slot, then immediately goes
// back for more work.
type Loop struct {
	Claimer   *Claimer
	Composer  Composer
	Transport Transport
	Store     Store

	Breaker *gobreaker.CircuitBreaker
	Limiter *rate.Limiter

	Concurrency    int
	PollInterval   time.Duration // wait after ErrNoWork
	RetryInterval  time.Duration // wait after claim/storage errors
	RelayRetryWait time.Duration // wait while the breaker is open
	SendTimeout    time.Duration
}

func (l *Loop) Run(ctx context.Context) error {
	concurrency := l.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	slots := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		slots <- struct{}{}
	}

	var wg sync.WaitGroup
	defer wg.Wait() // drain in-flight sends before returning

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-slots:
		}

		if l.Breaker != nil && l.Breaker.State() == gobreaker.StateOpen {
			// relay unavailable; park without burning a claim
			slots <- struct{}{}
			if !l.sleep(ctx, l.RelayRetryWait) {
				return ctx.Err()
			}
			continue
		}

		unit, err := l.Claimer.ClaimNext(ctx)
		if err != nil {
			slots <- struct{}{}
			if errors.Is(err, domain.ErrNoWork) {
				observability.Claims.WithLabelValues("no_work").Inc()
				if !l.sleep(ctx, l.PollInterval) {
					return ctx.Err()
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observability.Claims.WithLabelValues("error").Inc()
			slog.Error("claim failed", "err", err)
			if !l.sleep(ctx, l.RetryInterval) {
				return ctx.Err()
			}
			continue
		}

		msg, err := l.Composer.Compose(ctx, unit)
		if err != nil {
			// unit abandoned; the claim stays in place for inspection
			slots <- struct{}{}
			reason := "error"
			if errors.Is(err, domain.ErrNotFound) {
				reason = "not_found"
			}
			observability.ComposeFailures.WithLabelValues(reason).Inc()
			slog.Error("compose failed", "err", err,
				"campaign_id", unit.CampaignID, "subscriber", unit.Subscriber.CID)
			continue
		}

		wg.Add(1)
		go func(unit *domain.ClaimedUnit, msg *relay.Message) {
			defer wg.Done()
			defer func() { slots <- struct{}{} }()
			l.deliver(ctx, unit, msg)
		}(unit, msg)
	}
}

// deliver runs one send to its terminal outcome. It deliberately survives
// loop cancellation: an accepted unit is finished and recorded even during
// shutdown.
func (l *Loop) deliver(ctx context.Context, unit *domain.ClaimedUnit, msg *relay.Message) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.SendTimeout)
	defer cancel()

	var resp relay.Response
	var err error

	if l.Limiter != nil {
		err = l.Limiter.Wait(sendCtx)
	}
	if err == nil {
		start := time.Now()
		resp, err = l.send(sendCtx, msg)
		observability.SendLatency.Observe(time.Since(start).Seconds())
	}

	status := domain.DeliveryDelivered
	response := resp.Message
	if err != nil {
		// any transport-level error is a terminal bounce for this recipient
		status = domain.DeliveryBounced
		if response == "" {
			response = err.Error()
		}
		slog.Error("send failed", "err", err,
			"campaign_id", unit.CampaignID, "subscriber", unit.Subscriber.CID)
	}
	observability.Sends.WithLabelValues(string(status)).Inc()

	out := store.DeliveryOutcome{
		RecordID:   unit.RecordID,
		CampaignID: unit.CampaignID,
		Status:     status,
		Response:   response,
		ResponseID: relay.ResponseID(response),
		Now:        time.Now().UTC(),
	}
	if err := l.Store.FinalizeDelivery(sendCtx, out); err != nil {
		// the send already happened and cannot be undone; the record stays
		// claimed, which reconciliation must read as "outcome unknown"
		observability.RecordFailures.Inc()
		slog.Error("record delivery outcome failed", "err", err,
			"record_id", unit.RecordID, "campaign_id", unit.CampaignID)
	}
}

func (l *Loop) send(ctx context.Context, msg *relay.Message) (relay.Response, error) {
	if l.Breaker == nil {
		resp, _, _, err := l.Transport.Send(ctx, msg)
		return resp, err
	}
	res, err := l.Breaker.Execute(func() (any, error) {
		resp, _, _, sendErr := l.Transport.Send(ctx, msg)
		return resp, sendErr
	})
	resp, _ := res.(relay.Response)
	return resp, err
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
