package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketStart(t *testing.T) {
	tests := []struct {
		in   time.Time
		g    Granularity
		want time.Time
	}{
		{time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), Week, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)},
		{time.Date(2023, 1, 8, 23, 59, 0, 0, time.UTC), Week, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)},
		{time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC), Week, time.Date(2022, 12, 26, 0, 0, 0, 0, time.UTC)},
		{time.Date(2023, 3, 31, 23, 0, 0, 0, time.UTC), Month, time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)},
		// Non-UTC input is bucketed by its UTC instant.
		{time.Date(2023, 4, 1, 1, 0, 0, 0, time.FixedZone("CEST", 2*3600)), Month, time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketStart(tt.in, tt.g), "%s %s", tt.in, tt.g)
	}
}

func TestSeries_ZeroFillsInteriorBuckets(t *testing.T) {
	times := []time.Time{
		time.Date(2023, 3, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 25, 0, 0, 0, 0, time.UTC),
	}
	points := Series(times, Month)
	require.Len(t, points, 3)
	assert.Equal(t, []int{2, 0, 1}, []int{points[0].Count, points[1].Count, points[2].Count})
	assert.Equal(t, "2023-01-01", points[0].Date)
	assert.Equal(t, "Jan 23", points[0].Label)
	assert.Equal(t, "Feb 23", points[1].Label)

	weekly := Series(times[1:2], Week)
	require.Len(t, weekly, 1)
	assert.Equal(t, "Jan 02", weekly[0].Label)

	assert.Empty(t, Series(nil, Week))
}

func TestGrowthRate(t *testing.T) {
	pts := func(counts ...int) []TimePoint {
		out := make([]TimePoint, len(counts))
		for i, c := range counts {
			out[i].Count = c
		}
		return out
	}
	assert.Equal(t, 0.0, GrowthRate(pts(0, 0, 5)), "a series starting at zero has no defined rate")
	assert.Equal(t, 0.0, GrowthRate(nil))
	assert.Equal(t, 150.0, GrowthRate(pts(2, 0, 5)))
	assert.InDelta(t, -66.667, GrowthRate(pts(3, 1, 1)), 0.001)
}

func TestMentionsAndGrowth(t *testing.T) {
	f := newFixture(t)
	f.seed()

	weekly, err := f.engine.MentionsOverTime(context.Background(), MentionsRequest{Query: testQuery, Granularity: Week})
	require.NoError(t, err)
	require.Len(t, weekly.Points, 11, "Jan 02 through Mar 13")
	assert.Equal(t, 1, weekly.Points[0].Count)
	assert.Equal(t, 0, weekly.Points[1].Count)
	assert.Equal(t, 2, weekly.Points[2].Count)
	assert.Equal(t, "Mar 13", weekly.Points[10].Label)

	growth, err := f.engine.GrowthMomentum(context.Background(), GrowthRequest{Query: testQuery})
	require.NoError(t, err)
	require.Len(t, growth.Monthly, 3)
	assert.Equal(t, []int{3, 1, 1}, []int{growth.Monthly[0].Count, growth.Monthly[1].Count, growth.Monthly[2].Count})
	assert.InDelta(t, -66.667, growth.MonthlyGrowthRate, 0.001)
	assert.Equal(t, 0.0, growth.WeeklyGrowthRate)
	assert.Equal(t, weekly.Points, growth.Weekly)
}
