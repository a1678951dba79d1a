// Package notify fans discovered products out to subscribed targets. The
// target list is re-read on every announcement so subscriptions added or
// removed through the HTTP API take effect without a restart.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/onnwee/dropwatch/scrape"
	"github.com/onnwee/dropwatch/telemetry"
)

// Sink delivers one product batch to one target.
type Sink interface {
	Deliver(ctx context.Context, target string, products []scrape.Product) error
}

// TargetLister returns the currently subscribed targets.
type TargetLister interface {
	ListTargets(ctx context.Context) ([]string, error)
}

// Fanout delivers each batch to every target. A failing target never blocks
// the others; all per-target failures are collected into the returned error.
type Fanout struct {
	sink    Sink
	targets TargetLister
}

func NewFanout(sink Sink, targets TargetLister) *Fanout {
	return &Fanout{sink: sink, targets: targets}
}

func (f *Fanout) Announce(ctx context.Context, products []scrape.Product) error {
	if len(products) == 0 {
		return nil
	}
	targets, err := f.targets.ListTargets(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	if telemetry.SubscribedTargetsGauge != nil {
		telemetry.SubscribedTargetsGauge.Set(float64(len(targets)))
	}
	log := telemetry.LoggerWithCorr(ctx)

	var errs []error
	for _, target := range targets {
		if err := f.sink.Deliver(ctx, target, products); err != nil {
			telemetry.IncNotification(false)
			log.Warn("fanout: delivery failed", "target", target, "err", err)
			errs = append(errs, fmt.Errorf("deliver to %s: %w", target, err))
			continue
		}
		telemetry.IncNotification(true)
	}
	log.Info("fanout: batch announced",
		"products", len(products), "targets", len(targets), "failed", len(errs))
	return errors.Join(errs...)
}
