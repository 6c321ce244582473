package sink

import (
	"encoding/json"
	"sort"
)

// emfMetadata is the "_aws" member of an Embedded Metric Format document.
type emfMetadata struct {
	Timestamp         int64          `json:"Timestamp"`
	CloudWatchMetrics []emfDirective `json:"CloudWatchMetrics"`
}

type emfDirective struct {
	Namespace  string          `json:"Namespace"`
	Dimensions [][]string      `json:"Dimensions"`
	Metrics    []emfDefinition `json:"Metrics"`
}

type emfDefinition struct {
	Name string `json:"Name"`
	Unit string `json:"Unit,omitempty"`
}

// EncodeEMF renders rec as a single-line CloudWatch Embedded Metric Format
// document. Properties are written first, then dimension values, then metric
// values, so a metric shadows a property or dimension of the same name.
func EncodeEMF(rec *Record) ([]byte, error) {
	keys := make([]string, 0, len(rec.Dimensions))
	for k := range rec.Dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	defs := make([]emfDefinition, 0, len(rec.Metrics))
	for _, m := range rec.Metrics {
		defs = append(defs, emfDefinition{Name: m.Name, Unit: string(m.Unit)})
	}

	out := make(map[string]any, 1+len(rec.Properties)+len(keys)+len(rec.Metrics))
	for k, v := range rec.Properties {
		out[k] = v
	}
	for _, k := range keys {
		out[k] = rec.Dimensions[k]
	}
	for _, m := range rec.Metrics {
		if len(m.Values) == 1 {
			out[m.Name] = m.Values[0]
		} else {
			out[m.Name] = m.Values
		}
	}
	out["_aws"] = emfMetadata{
		Timestamp: rec.Timestamp.UnixMilli(),
		CloudWatchMetrics: []emfDirective{{
			Namespace:  rec.Namespace,
			Dimensions: [][]string{keys},
			Metrics:    defs,
		}},
	}
	return json.Marshal(out)
}
