package services

import (
	"sort"
	"time"

	"github.com/AnshRaj112/tracklog-backend/internal/models"
)

// TopN is the length of each top-N grouping in SightingStats.
const TopN = 5

// Summarize folds a user's full sighting set into statistics. this_month
// compares the sighting_date string prefix against now's UTC year-month.
func Summarize(sightings []models.Sighting, now time.Time) models.SightingStats {
	monthPrefix := now.UTC().Format("2006-01")

	stats := models.SightingStats{TotalSightings: len(sightings)}
	locations := make(map[string]struct{})
	trains := make(map[string]struct{})
	types := newCounter()
	operators := newCounter()
	places := newCounter()

	for i := range sightings {
		s := &sightings[i]
		if len(s.SightingDate) >= len(monthPrefix) && s.SightingDate[:len(monthPrefix)] == monthPrefix {
			stats.ThisMonth++
		}
		locations[s.Location] = struct{}{}
		trains[s.TrainNumber] = struct{}{}
		types.add(s.TrainType)
		operators.add(s.Operator)
		places.add(s.Location)

		if stats.LastSighting == nil || s.CreatedAt.After(*stats.LastSighting) {
			t := s.CreatedAt
			stats.LastSighting = &t
		}
	}

	stats.UniqueLocations = len(locations)
	stats.UniqueTrains = len(trains)
	stats.TopTrainTypes = types.top(TopN)
	stats.TopOperators = operators.top(TopN)
	stats.TopLocations = places.top(TopN)
	return stats
}

// counter counts values and remembers first-seen order for tie breaks.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(v string) {
	if _, ok := c.counts[v]; !ok {
		c.order = append(c.order, v)
	}
	c.counts[v]++
}

func (c *counter) top(n int) []models.NameCount {
	out := make([]models.NameCount, 0, len(c.order))
	for _, v := range c.order {
		out = append(out, models.NameCount{Name: v, Count: c.counts[v]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
