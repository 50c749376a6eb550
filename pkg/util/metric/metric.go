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

// Package metric provides in-process counters and gauges, a registry to
// publish them from, and a Prometheus text exporter.
package metric

import (
	"encoding/json"
	"sync/atomic"

	"github.com/gogo/protobuf/proto"
	prometheusgo "github.com/prometheus/client_model/go"
	metrics "github.com/rcrowley/go-metrics"
)

// Iterable provides a method for synchronized access to interior objects.
type Iterable interface {
	// Each calls the given closure with each contained item. The name is
	// empty for single-valued metrics.
	Each(func(name string, val interface{}))
}

// PrometheusExportable is implemented by metrics that can be scraped into
// a Prometheus metric family.
type PrometheusExportable interface {
	GetType() prometheusgo.MetricType
	ToPrometheusMetric() *prometheusgo.Metric
}

// A Counter holds a single monotonically increasing value.
type Counter struct {
	count int64
}

// NewCounter creates a counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Inc atomically increments the counter by v.
func (c *Counter) Inc(v int64) {
	atomic.AddInt64(&c.count, v)
}

// Count returns the current value.
func (c *Counter) Count() int64 {
	return atomic.LoadInt64(&c.count)
}

// Each implements Iterable.
func (c *Counter) Each(f func(string, interface{})) {
	f("", c)
}

// MarshalJSON marshals to JSON.
func (c *Counter) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Count())
}

// GetType implements PrometheusExportable.
func (c *Counter) GetType() prometheusgo.MetricType {
	return prometheusgo.MetricType_COUNTER
}

// ToPrometheusMetric implements PrometheusExportable.
func (c *Counter) ToPrometheusMetric() *prometheusgo.Metric {
	return &prometheusgo.Metric{
		Counter: &prometheusgo.Counter{Value: proto.Float64(float64(c.Count()))},
	}
}

// A Gauge holds a single settable value.
type Gauge struct {
	value int64
}

// NewGauge creates a gauge.
func NewGauge() *Gauge {
	return &Gauge{}
}

// Update replaces the gauge's value.
func (g *Gauge) Update(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc atomically adds v to the gauge (v may be negative).
func (g *Gauge) Inc(v int64) {
	atomic.AddInt64(&g.value, v)
}

// Value returns the current value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// Each implements Iterable.
func (g *Gauge) Each(f func(string, interface{})) {
	f("", g)
}

// MarshalJSON marshals to JSON.
func (g *Gauge) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Value())
}

// GetType implements PrometheusExportable.
func (g *Gauge) GetType() prometheusgo.MetricType {
	return prometheusgo.MetricType_GAUGE
}

// ToPrometheusMetric implements PrometheusExportable.
func (g *Gauge) ToPrometheusMetric() *prometheusgo.Metric {
	return &prometheusgo.Metric{
		Gauge: &prometheusgo.Gauge{Value: proto.Float64(float64(g.Value()))},
	}
}

// A Rate tracks an exponentially weighted moving average of events per
// second, backed by a go-metrics meter.
type Rate struct {
	meter metrics.Meter
}

// NewRate creates a rate.
func NewRate() *Rate {
	return &Rate{meter: metrics.NewMeter()}
}

// Add records the occurrence of v events.
func (e *Rate) Add(v int64) {
	e.meter.Mark(v)
}

// Value returns the one-minute moving average rate.
func (e *Rate) Value() float64 {
	return e.meter.Rate1()
}

// Count returns the total number of events recorded.
func (e *Rate) Count() int64 {
	return e.meter.Count()
}

// Each implements Iterable.
func (e *Rate) Each(f func(string, interface{})) {
	f("", e)
}

// MarshalJSON marshals to JSON.
func (e *Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Value())
}

// GetType implements PrometheusExportable.
func (e *Rate) GetType() prometheusgo.MetricType {
	return prometheusgo.MetricType_GAUGE
}

// ToPrometheusMetric implements PrometheusExportable.
func (e *Rate) ToPrometheusMetric() *prometheusgo.Metric {
	return &prometheusgo.Metric{
		Gauge: &prometheusgo.Gauge{Value: proto.Float64(e.Value())},
	}
}
