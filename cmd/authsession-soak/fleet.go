package main

import (
	"github.com/MrEthical07/authsession"
)

// fleet aggregates the metrics of every simulated client so one exporter
// can publish them.
type fleet []*authsession.Manager

func (f fleet) MetricsSnapshot() authsession.MetricsSnapshot {
	out := authsession.MetricsSnapshot{
		Counters:   map[authsession.MetricID]uint64{},
		Histograms: map[authsession.MetricID][]uint64{},
	}
	for _, m := range f {
		mergeSnapshot(&out, m.MetricsSnapshot())
	}
	return out
}

func (f fleet) LogDropped() uint64 {
	var n uint64
	for _, m := range f {
		n += m.LogDropped()
	}
	return n
}

func mergeSnapshot(dst *authsession.MetricsSnapshot, src authsession.MetricsSnapshot) {
	for id, v := range src.Counters {
		dst.Counters[id] += v
	}
	for id, buckets := range src.Histograms {
		acc := dst.Histograms[id]
		if len(acc) < len(buckets) {
			grown := make([]uint64, len(buckets))
			copy(grown, acc)
			acc = grown
		}
		for i, v := range buckets {
			acc[i] += v
		}
		dst.Histograms[id] = acc
	}
}
