package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/DieRekT/trove-research/internal/archive"
	"github.com/DieRekT/trove-research/internal/model"
	"github.com/DieRekT/trove-research/internal/store"
)

const epsilon = 1e-9

// Weights blends the normalized full-text rank with the bonus signals. The
// defaults sum to 1 so the blended score stays in [0,1] before clamping.
type Weights struct {
	Text   float64
	Title  float64
	Date   float64
	Region float64
}

// DefaultWeights returns the blend used in production.
func DefaultWeights() Weights {
	return Weights{Text: 0.55, Title: 0.20, Date: 0.15, Region: 0.10}
}

// Options tunes ranking beyond the weight blend.
type Options struct {
	Weights Weights
	// MinRelevance drops sources scoring below it; they are counted as
	// off-topic, not used.
	MinRelevance float64
	// MaxUsed caps how many sources feed synthesis. 0 means no cap.
	MaxUsed int
}

// DefaultOptions returns production ranking options.
func DefaultOptions() Options {
	return Options{
		Weights:      DefaultWeights(),
		MinRelevance: 0.05,
		MaxUsed:      12,
	}
}

// DateWindow is the requested year range; either bound may be absent.
type DateWindow struct {
	From *int
	To   *int
}

// Empty reports whether no bound was requested.
func (w DateWindow) Empty() bool { return w.From == nil && w.To == nil }

// Ranked is a source with its final blended relevance.
type Ranked struct {
	Source model.Source
	Score  float64
}

// Result separates the sources worth synthesizing from the off-topic count.
type Result struct {
	Used            []Ranked
	DroppedOffTopic int
}

// Rank normalizes the candidates' raw full-text ranks, blends in title
// overlap, date proximity and region affinity, and orders the result most
// relevant first. Ties order by year descending then id ascending so output
// is deterministic.
//
// Raw ranks follow the store convention (lower is better), so normalization
// is (worst-raw)/(worst-best+ε) with worst = max(raw): higher normalized
// always means more relevant.
func Rank(candidates []store.ScoredSource, terms []string, window DateWindow, regionHint string, opts Options) Result {
	if len(candidates) == 0 {
		return Result{}
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}

	best := candidates[0].Raw
	worst := candidates[0].Raw
	for _, c := range candidates[1:] {
		best = math.Min(best, c.Raw)
		worst = math.Max(worst, c.Raw)
	}

	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		normalized := (worst - c.Raw) / (worst - best + epsilon)
		if len(candidates) == 1 {
			normalized = 1
		}

		score := opts.Weights.Text*normalized +
			opts.Weights.Title*titleOverlap(c.Source.Title, terms) +
			opts.Weights.Date*dateProximity(c.Source.Year, window) +
			opts.Weights.Region*regionBonus(c.Source.RegionHints, regionHint)

		ranked = append(ranked, Ranked{Source: c.Source, Score: clamp01(score)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		yi, yj := yearOrZero(ranked[i].Source.Year), yearOrZero(ranked[j].Source.Year)
		if yi != yj {
			return yi > yj
		}
		return ranked[i].Source.ID < ranked[j].Source.ID
	})

	var res Result
	for _, r := range ranked {
		if r.Score < opts.MinRelevance {
			res.DroppedOffTopic++
			continue
		}
		if opts.MaxUsed > 0 && len(res.Used) >= opts.MaxUsed {
			res.DroppedOffTopic++
			continue
		}
		res.Used = append(res.Used, r)
	}
	return res
}

// titleOverlap is the fraction of query terms appearing in the title.
func titleOverlap(title string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(title)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// dateProximity is 1 inside the requested window and decays with the gap in
// years outside it. An unknown year scores 0.5 when a window was requested
// (neutral rather than disqualifying, archive dates are best-effort) and 1
// when no window was given.
func dateProximity(year *int, window DateWindow) float64 {
	if window.Empty() {
		return 1
	}
	if year == nil {
		return 0.5
	}
	gap := 0
	if window.From != nil && *year < *window.From {
		gap = *window.From - *year
	}
	if window.To != nil && *year > *window.To {
		gap = *year - *window.To
	}
	if gap == 0 {
		return 1
	}
	return 1 / (1 + float64(gap)/5)
}

// regionBonus is 1 when the requested region matches a derived hint, 0
// otherwise. No requested region means no bonus for anyone.
func regionBonus(hints []string, regionHint string) float64 {
	if archive.RegionMatches(hints, regionHint) {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func yearOrZero(y *int) int {
	if y == nil {
		return 0
	}
	return *y
}
