// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatsync

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts sync activity. A nil *Metrics records nothing.
type Metrics struct {
	EventsApplied     *prometheus.CounterVec
	EventsDiscarded   *prometheus.CounterVec
	Loads             *prometheus.CounterVec
	LoadFailures      *prometheus.CounterVec
	Promotions        prometheus.Counter
	PromotionFailures prometheus.Counter
	TypingPublished   prometheus.Counter
	TypingThrottled   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with registerer
// when it is non-nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_applied_total",
			Help:      "Change notifications applied to a local cache.",
		}, []string{"table", "type"}),
		EventsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_discarded_total",
			Help:      "Change notifications dropped because their subscription was superseded.",
		}, []string{"table"}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "loads_total",
			Help:      "Full cache loads by component.",
		}, []string{"component"}),
		LoadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "load_failures_total",
			Help:      "Cache loads that failed and kept the previous cache.",
		}, []string{"component"}),
		Promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "delivery_promotions_total",
			Help:      "Inbound messages promoted from sent to delivered.",
		}),
		PromotionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "delivery_promotion_failures_total",
			Help:      "Delivery promotion writes that failed.",
		}),
		TypingPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "typing_published_total",
			Help:      "Typing signals broadcast.",
		}),
		TypingThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "typing_throttled_total",
			Help:      "Typing signals suppressed by the publish throttle.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			m.EventsApplied, m.EventsDiscarded, m.Loads, m.LoadFailures,
			m.Promotions, m.PromotionFailures, m.TypingPublished, m.TypingThrottled,
		)
	}
	return m
}

func (m *Metrics) eventApplied(table, eventType string) {
	if m != nil {
		m.EventsApplied.WithLabelValues(table, eventType).Inc()
	}
}

func (m *Metrics) eventDiscarded(table string) {
	if m != nil {
		m.EventsDiscarded.WithLabelValues(table).Inc()
	}
}

func (m *Metrics) load(component string, err error) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(component).Inc()
	if err != nil {
		m.LoadFailures.WithLabelValues(component).Inc()
	}
}

func (m *Metrics) promoted(count int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PromotionFailures.Inc()
		return
	}
	m.Promotions.Add(float64(count))
}

func (m *Metrics) typing(published bool) {
	if m == nil {
		return
	}
	if published {
		m.TypingPublished.Inc()
	} else {
		m.TypingThrottled.Inc()
	}
}
