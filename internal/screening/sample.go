package screening

import (
	"encoding/csv"
	"io"
	"math"
	"math/rand"
	"sort"

	"litreview/internal/logging"
)

// DefaultSampleRate is the share of decisions re-screened by a second coder.
const DefaultSampleRate = 0.20

// DefaultSampleSeed makes the verification sample reproducible.
const DefaultSampleSeed = 42

// SampleSize returns max(1, round(rate*n)), capped at n.
func SampleSize(n int, rate float64) int {
	if n == 0 {
		return 0
	}
	k := int(math.Round(float64(n) * rate))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Sample draws a seeded random subset of decisions for inter-coder
// reliability checks. The result is sorted by study ID. The same input,
// rate and seed always give the same sample.
func Sample(decisions []Decision, rate float64, seed int64) []Decision {
	pool := make([]Decision, len(decisions))
	copy(pool, decisions)
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].StudyID < pool[j].StudyID })

	k := SampleSize(len(pool), rate)
	rng := rand.New(rand.NewSource(seed))
	idx := rng.Perm(len(pool))[:k]
	sort.Ints(idx)

	out := make([]Decision, 0, k)
	for _, i := range idx {
		out = append(out, pool[i])
	}
	logging.Audit().ICRSampling(len(decisions), k, seed)
	logging.Screen("ICR sample: %d of %d (rate=%.2f, seed=%d)", k, len(decisions), rate, seed)
	return out
}

var sampleColumns = []string{
	"study_id", "title", "ai_decision", "ai_confidence", "ai_reason_code",
	"human_decision", "human_reason_code", "notes",
}

// WriteSampleCSV writes a coding sheet for the second screener. The human
// columns are left blank.
func WriteSampleCSV(w io.Writer, sample []Decision) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sampleColumns); err != nil {
		return err
	}
	for _, d := range sample {
		if err := cw.Write([]string{d.StudyID, d.Title, d.Decision, d.Confidence, d.ReasonCode, "", "", ""}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
