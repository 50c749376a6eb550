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
	"io"
	"sort"
	"strings"

	"github.com/gogo/protobuf/proto"
	prometheusgo "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// PrometheusExporter contains a map of metric families (a metric with
// multiple labels). It initializes each metric family once and reuses it
// for each prometheus scrape.
type PrometheusExporter struct {
	families map[string]*prometheusgo.MetricFamily
}

// MakePrometheusExporter returns an initialized prometheus exporter.
func MakePrometheusExporter() PrometheusExporter {
	return PrometheusExporter{families: map[string]*prometheusgo.MetricFamily{}}
}

var nameReplacer = strings.NewReplacer(".", "_", "-", "_")

// exportedName transforms a registry metric name into a valid prometheus
// metric name.
func exportedName(name string) string {
	return nameReplacer.Replace(name)
}

// ScrapeRegistry scrapes all metrics contained in the registry to the metric
// family map, holding on only to the scraped data (which is no longer
// connected to the registry and metrics within) when returning from the
// call. It creates new families as needed.
func (pm *PrometheusExporter) ScrapeRegistry(registry *Registry) {
	registry.Each(func(name string, v interface{}) {
		prom, ok := v.(PrometheusExportable)
		if !ok {
			return
		}
		name = exportedName(name)
		family, ok := pm.families[name]
		if !ok {
			t := prom.GetType()
			family = &prometheusgo.MetricFamily{
				Name: proto.String(name),
				Type: &t,
			}
			pm.families[name] = family
		}
		family.Metric = append(family.Metric, prom.ToPrometheusMetric())
	})
}

// PrintAsText writes all metrics in the families map to the io.Writer in
// prometheus' text format. It removes individual metrics from the families
// as it goes, readying the families for another round of registry additions.
func (pm *PrometheusExporter) PrintAsText(w io.Writer) error {
	names := make([]string, 0, len(pm.families))
	for name := range pm.families {
		names = append(names, name)
	}
	sort.Strings(names)
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, name := range names {
		family := pm.families[name]
		if err := enc.Encode(family); err != nil {
			return err
		}
		family.Metric = nil
	}
	return nil
}
