package api

import (
	"math"
	"sort"

	"github.com/waftester/webfuzzer/pkg/dataset"
	"github.com/waftester/webfuzzer/pkg/scoring"
)

const (
	// maxAnomalyPayloads caps the per-payload anomaly breakdown.
	maxAnomalyPayloads = 5
	maxAnomalyName     = 15
)

// LabelCount is one bar of the label distribution.
type LabelCount struct {
	Name  dataset.Label `json:"name"`
	Value int           `json:"value"`
}

// AnomalyScore is the share (0-100) of a payload's recorded responses the
// scoring capability flagged as anomalous.
type AnomalyScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Analysis summarizes a dataset.
type Analysis struct {
	AnomalyData       []AnomalyScore `json:"anomalyData"`
	VulnerabilityData []LabelCount   `json:"vulnerabilityData"`
}

// Analyze counts labels in records, most frequent first, and, when scorer is
// non-nil, scores the first distinct payloads in dataset order. Rows the
// scorer fails on are left out of that payload's share.
func Analyze(records []dataset.Record, scorer scoring.Capability) Analysis {
	a := Analysis{
		AnomalyData:       []AnomalyScore{},
		VulnerabilityData: []LabelCount{},
	}

	counts := dataset.LabelCounts(records)
	for _, label := range dataset.Labels {
		if n := counts[label]; n > 0 {
			a.VulnerabilityData = append(a.VulnerabilityData, LabelCount{Name: label, Value: n})
		}
	}
	sort.SliceStable(a.VulnerabilityData, func(i, j int) bool {
		return a.VulnerabilityData[i].Value > a.VulnerabilityData[j].Value
	})

	if scorer == nil {
		return a
	}
	scorer = scoring.Safe(scorer)

	type tally struct{ scored, anomalous int }
	var order []string
	tallies := make(map[string]*tally)
	for _, rec := range records {
		t, ok := tallies[rec.Payload]
		if !ok {
			if len(order) == maxAnomalyPayloads {
				continue
			}
			t = &tally{}
			tallies[rec.Payload] = t
			order = append(order, rec.Payload)
		}
		anomalous, err := scorer.IsAnomalous(scoring.Features(rec.ResponseCode, rec.BodyWordCountChanged))
		if err != nil {
			continue
		}
		t.scored++
		if anomalous {
			t.anomalous++
		}
	}

	for _, payload := range order {
		t := tallies[payload]
		score := 0
		if t.scored > 0 {
			score = int(math.Round(float64(t.anomalous) * 100 / float64(t.scored)))
		}
		a.AnomalyData = append(a.AnomalyData, AnomalyScore{Name: shortName(payload), Score: score})
	}
	return a
}

func shortName(payload string) string {
	r := []rune(payload)
	if len(r) <= maxAnomalyName {
		return payload
	}
	return string(r[:maxAnomalyName]) + "..."
}
