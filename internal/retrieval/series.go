package retrieval

import (
	"context"
	"time"
)

// Granularity is the bucket width of a mentions series.
type Granularity string

const (
	Week  Granularity = "week"
	Month Granularity = "month"
)

func (g Granularity) valid() bool {
	return g == Week || g == Month
}

// TimePoint is one bucket. Date is BucketStart as YYYY-MM-DD.
type TimePoint struct {
	BucketStart time.Time `json:"bucket_start"`
	Date        string    `json:"date"`
	Label       string    `json:"label"`
	Count       int       `json:"count"`
}

// BucketStart truncates t to the start of its UTC week (Monday 00:00) or
// month.
func BucketStart(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	if g == Month {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func nextBucket(t time.Time, g Granularity) time.Time {
	if g == Month {
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 7)
}

func bucketLabel(t time.Time, g Granularity) string {
	if g == Month {
		return t.Format("Jan 06")
	}
	return t.Format("Jan 02")
}

// Series counts times per bucket from the earliest to the latest bucket,
// including empty buckets in between.
func Series(times []time.Time, g Granularity) []TimePoint {
	if len(times) == 0 {
		return []TimePoint{}
	}
	counts := map[time.Time]int{}
	first, last := BucketStart(times[0], g), BucketStart(times[0], g)
	for _, t := range times {
		b := BucketStart(t, g)
		counts[b]++
		if b.Before(first) {
			first = b
		}
		if b.After(last) {
			last = b
		}
	}

	var points []TimePoint
	for b := first; !b.After(last); b = nextBucket(b, g) {
		points = append(points, TimePoint{
			BucketStart: b,
			Date:        b.Format("2006-01-02"),
			Label:       bucketLabel(b, g),
			Count:       counts[b],
		})
	}
	return points
}

// GrowthRate is (last - first) / first * 100, and 0 when the series is
// empty or starts at zero.
func GrowthRate(points []TimePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	first := points[0].Count
	if first == 0 {
		return 0
	}
	last := points[len(points)-1].Count
	return float64(last-first) / float64(first) * 100
}

type MentionsRequest struct {
	Query         string
	Community     string
	Granularity   Granularity
	MinSimilarity *float64
}

type MentionsResponse struct {
	Granularity   Granularity `json:"granularity"`
	MinSimilarity float64     `json:"min_similarity"`
	Truncated     bool        `json:"truncated"`
	Points        []TimePoint `json:"points"`
}

// MentionsOverTime buckets the match set by creation time.
func (e *Engine) MentionsOverTime(ctx context.Context, req MentionsRequest) (resp *MentionsResponse, err error) {
	defer func(start time.Time) { e.observe("mentions_over_time", start, err) }(time.Now())

	if req.Granularity == "" {
		req.Granularity = Month
	}
	if !req.Granularity.valid() {
		return nil, invalid("granularity must be %q or %q, got %q", Week, Month, req.Granularity)
	}
	set, err := e.matchPosts(ctx, req.Query, req.Community, req.MinSimilarity)
	if err != nil {
		return nil, err
	}
	return &MentionsResponse{
		Granularity:   req.Granularity,
		MinSimilarity: set.threshold,
		Truncated:     set.truncated,
		Points:        Series(set.createdTimes(), req.Granularity),
	}, nil
}

type GrowthRequest struct {
	Query         string
	Community     string
	MinSimilarity *float64
}

type GrowthResponse struct {
	MinSimilarity     float64     `json:"min_similarity"`
	Truncated         bool        `json:"truncated"`
	Weekly            []TimePoint `json:"weekly"`
	Monthly           []TimePoint `json:"monthly"`
	WeeklyGrowthRate  float64     `json:"weekly_growth_rate"`
	MonthlyGrowthRate float64     `json:"monthly_growth_rate"`
}

// GrowthMomentum returns weekly and monthly series of one match set.
func (e *Engine) GrowthMomentum(ctx context.Context, req GrowthRequest) (resp *GrowthResponse, err error) {
	defer func(start time.Time) { e.observe("growth_momentum", start, err) }(time.Now())

	set, err := e.matchPosts(ctx, req.Query, req.Community, req.MinSimilarity)
	if err != nil {
		return nil, err
	}
	return growthOf(set), nil
}

func growthOf(set *matchSet) *GrowthResponse {
	times := set.createdTimes()
	weekly, monthly := Series(times, Week), Series(times, Month)
	return &GrowthResponse{
		MinSimilarity:     set.threshold,
		Truncated:         set.truncated,
		Weekly:            weekly,
		Monthly:           monthly,
		WeeklyGrowthRate:  GrowthRate(weekly),
		MonthlyGrowthRate: GrowthRate(monthly),
	}
}

func (s *matchSet) createdTimes() []time.Time {
	times := make([]time.Time, len(s.matches))
	for i, m := range s.matches {
		times[i] = m.post.CreatedAt
	}
	return times
}

type AnalyticsRequest struct {
	Query         string
	Community     string
	TopLimit      int
	MinSimilarity *float64
}

// AnalyticsResponse bundles the dashboard views of one query.
type AnalyticsResponse struct {
	Demand     *DemandCount        `json:"demand"`
	Mentions   []TimePoint         `json:"mentions"`
	Growth     *GrowthResponse     `json:"growth"`
	Users      map[string][]string `json:"users_by_community"`
	TopMatches []TopMatch          `json:"top_matches"`
}

// Analytics computes every view from a single embedding and match set.
func (e *Engine) Analytics(ctx context.Context, req AnalyticsRequest) (resp *AnalyticsResponse, err error) {
	defer func(start time.Time) { e.observe("analytics", start, err) }(time.Now())

	if req.TopLimit <= 0 {
		req.TopLimit = DefaultSearchLimit
	}
	set, err := e.matchPosts(ctx, req.Query, req.Community, req.MinSimilarity)
	if err != nil {
		return nil, err
	}
	top, err := e.topMatches(ctx, set, req.TopLimit)
	if err != nil {
		return nil, err
	}
	growth := growthOf(set)
	return &AnalyticsResponse{
		Demand:     demandOf(set),
		Mentions:   growth.Monthly,
		Growth:     growth,
		Users:      usersOf(set, 50),
		TopMatches: top,
	}, nil
}
