// Copyright 2025 The MemTrack Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package metric

import (
	"encoding/json"
	"sync/atomic"

	"github.com/gogo/protobuf/proto"
	prometheusgo "github.com/prometheus/client_model/go"
)

// A HighWaterMark is an int64 value that remembers the maximum it has ever
// reached. All operations are atomic per call; there is no atomicity across
// the value and its maximum, other than the guarantee that the maximum is
// at least the largest value any Inc/Set has produced.
type HighWaterMark struct {
	value int64
	max   int64
}

// NewHighWaterMark returns a HighWaterMark initialized to zero.
func NewHighWaterMark() *HighWaterMark {
	return &HighWaterMark{}
}

// Inc adds delta (which may be negative) to the current value, raising the
// high water mark if needed, and returns the new value.
func (h *HighWaterMark) Inc(delta int64) int64 {
	v := atomic.AddInt64(&h.value, delta)
	h.noteMax(v)
	return v
}

// TryInc adds delta to the current value only if the result would not
// exceed ceiling. It returns whether the update was applied; a failed
// attempt has no effect.
func (h *HighWaterMark) TryInc(delta, ceiling int64) bool {
	for {
		cur := atomic.LoadInt64(&h.value)
		next := cur + delta
		if next > ceiling {
			return false
		}
		if atomic.CompareAndSwapInt64(&h.value, cur, next) {
			h.noteMax(next)
			return true
		}
	}
}

// Set replaces the current value, raising the high water mark if needed.
func (h *HighWaterMark) Set(v int64) {
	atomic.StoreInt64(&h.value, v)
	h.noteMax(v)
}

// Value returns the current value.
func (h *HighWaterMark) Value() int64 {
	return atomic.LoadInt64(&h.value)
}

// MaxValue returns the high water mark. It never decreases.
func (h *HighWaterMark) MaxValue() int64 {
	return atomic.LoadInt64(&h.max)
}

func (h *HighWaterMark) noteMax(v int64) {
	for {
		max := atomic.LoadInt64(&h.max)
		if v <= max || atomic.CompareAndSwapInt64(&h.max, max, v) {
			return
		}
	}
}

// Each exposes the current value and the high water mark as two separately
// named sub-metrics, suitable for a Registry format string such as
// "memtrack.root.%s".
func (h *HighWaterMark) Each(f func(string, interface{})) {
	f("current", &hwmView{h: h, peak: false})
	f("peak", &hwmView{h: h, peak: true})
}

// hwmView adapts one side of a HighWaterMark to the export interfaces.
type hwmView struct {
	h    *HighWaterMark
	peak bool
}

func (v *hwmView) value() int64 {
	if v.peak {
		return v.h.MaxValue()
	}
	return v.h.Value()
}

// MarshalJSON marshals to JSON.
func (v *hwmView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.value())
}

// GetType implements PrometheusExportable.
func (v *hwmView) GetType() prometheusgo.MetricType {
	return prometheusgo.MetricType_GAUGE
}

// ToPrometheusMetric implements PrometheusExportable.
func (v *hwmView) ToPrometheusMetric() *prometheusgo.Metric {
	return &prometheusgo.Metric{
		Gauge: &prometheusgo.Gauge{Value: proto.Float64(float64(v.value()))},
	}
}
