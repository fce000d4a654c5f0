package store

import (
	"testing"
	"time"
)

func TestSameCountsIgnoresProvenance(t *testing.T) {
	start := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	a := AnalyticsRecord{
		Key:          BucketKey{ChannelID: 1, Date: "2024-03-10", Hour: 8},
		BucketStart:  start,
		MessageCount: 3,
		MatchCount:   2,
		TopTerms:     []LabelCount{{ID: 7, Label: "فولاد", Count: 2}},
		RunID:        "01A",
		ComputedAt:   start.Add(time.Hour),
	}
	b := a
	b.TopTerms = []LabelCount{{ID: 7, Label: "فولاد", Count: 2}}
	b.TopCategories = []LabelCount{}
	b.RunID = "01B"
	b.ComputedAt = start.Add(2 * time.Hour)
	b.BucketStart = start.In(time.FixedZone("IRST", 12600))
	if !a.SameCounts(b) {
		t.Fatal("records with equal counts reported different")
	}

	b.TopTerms = []LabelCount{{ID: 7, Label: "فولاد", Count: 3}}
	if a.SameCounts(b) {
		t.Fatal("different top terms reported equal")
	}
	c := a
	c.MatchCount = 1
	if a.SameCounts(c) {
		t.Fatal("different match count reported equal")
	}
}
