package filter

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func dep(line, dest string, hh, mm int) transit.Departure {
	return transit.Departure{
		Line:        line,
		Destination: dest,
		Planned:     time.Date(2024, 5, 1, hh, mm, 0, 0, time.UTC),
	}
}

func marienplatz() []transit.Departure {
	return []transit.Departure{
		dep("U3", "Moosach", 10, 0),
		dep("U3", "Moosach", 10, 5),
		dep("U6", "Garching", 10, 2),
		dep("19", "Pasing", 9, 59),
	}
}

func TestFilter_MarienplatzExample(t *testing.T) {
	selectors := []transit.Selector{
		{Line: "U3", Direction: "Moosach"},
		{Line: "U6", Direction: "Garching"},
	}
	records := marienplatz()

	u3 := ForSelector(records, selectors[0], 2)
	require.Len(t, u3, 2)
	assert.Equal(t, 0, u3[0].Planned.Minute())
	assert.Equal(t, 5, u3[1].Planned.Minute())

	u6 := ForSelector(records, selectors[1], 2)
	require.Len(t, u6, 1)
	assert.Equal(t, 2, u6[0].Planned.Minute())

	all := Filter(records, selectors, 2)
	require.Len(t, all, 2)
	assert.Equal(t, "U3", all[0].Line)
	assert.Equal(t, "U6", all[1].Line)
	for _, d := range all {
		assert.NotEqual(t, "19", d.Line, "unselected lines are excluded")
	}
}

func TestFilter_NoSelectorsPassesEverything(t *testing.T) {
	all := Filter(marienplatz(), nil, 10)
	require.Len(t, all, 4)
	assert.Equal(t, "19", all[0].Line)
}

func TestFilter_TieBreakIsDeterministic(t *testing.T) {
	records := []transit.Departure{
		dep("U6", "Garching", 10, 0),
		dep("U3", "Olympiazentrum", 10, 0),
		dep("U3", "Moosach", 10, 0),
	}
	got := Filter(records, nil, 0)
	assert.Equal(t, []string{"Moosach", "Olympiazentrum", "Garching"},
		[]string{got[0].Destination, got[1].Destination, got[2].Destination})
}

func TestFilter_UsesRealtimeWhenKnown(t *testing.T) {
	late := dep("U3", "Moosach", 10, 0)
	late.Realtime = late.Planned.Add(10 * time.Minute)
	onTime := dep("U6", "Garching", 10, 5)

	got := Filter([]transit.Departure{late, onTime}, nil, 0)
	assert.Equal(t, "U6", got[0].Line)
}

func TestLess_ComparesEffectiveInstant(t *testing.T) {
	delayed := dep("U3", "Moosach", 10, 0)
	delayed.Realtime = delayed.Planned.Add(5 * time.Minute)
	planned := dep("U6", "Garching", 10, 5)
	early := dep("U6", "Garching", 10, 3)
	early.Realtime = early.Planned.Add(-time.Minute)

	assert.True(t, Less(early, delayed), "an early real-time estimate moves a departure forward")
	assert.True(t, Less(delayed, planned), "equal instants fall back to the line")
	assert.False(t, Less(planned, delayed))
}

func TestFilter_KeepsCancelled(t *testing.T) {
	c := dep("U3", "Moosach", 10, 0)
	c.Cancelled = true
	got := Filter([]transit.Departure{c}, []transit.Selector{{Line: "U3", Direction: "Moosach"}}, 5)
	require.Len(t, got, 1)
	assert.True(t, got[0].Cancelled)
}

func TestFilter_DoesNotMutateInput(t *testing.T) {
	records := marienplatz()
	before := append([]transit.Departure(nil), records...)
	_ = Filter(records, nil, 2)
	assert.Equal(t, before, records)
}

func TestForSelector_OwnLimit(t *testing.T) {
	sel := transit.Selector{Line: "U3", Direction: "Moosach", Limit: 1}
	got := ForSelector(marienplatz(), sel, 5)
	assert.Len(t, got, 1)
}

func TestBySelector(t *testing.T) {
	selectors := []transit.Selector{
		{Line: "U3", Direction: "Moosach"},
		{Line: "S8", Direction: "Flughafen"},
	}
	got := BySelector(marienplatz(), selectors, 5)
	assert.Len(t, got[selectors[0].Key()], 2)
	assert.NotNil(t, got[selectors[1].Key()])
	assert.Empty(t, got[selectors[1].Key()])
}

// TestFilter_Properties checks, over generated inputs, that output only contains
// selected records, respects the limit and is sorted.
func TestFilter_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	lines := []string{"U3", "U6", "S1", "19", "N40"}
	dirs := []string{"Moosach", "Garching", "Pasing", "Flughafen"}

	for i := 0; i < 200; i++ {
		n := rng.Intn(30)
		records := make([]transit.Departure, n)
		for j := range records {
			records[j] = transit.Departure{
				Line:        lines[rng.Intn(len(lines))],
				Destination: dirs[rng.Intn(len(dirs))],
				Planned:     base.Add(time.Duration(rng.Intn(90)) * time.Minute),
				Cancelled:   rng.Intn(5) == 0,
			}
		}
		var selectors []transit.Selector
		for k := rng.Intn(4); k > 0; k-- {
			selectors = append(selectors, transit.Selector{
				Line:      lines[rng.Intn(len(lines))],
				Direction: dirs[rng.Intn(len(dirs))],
			})
		}
		limit := 1 + rng.Intn(10)

		got := Filter(records, selectors, limit)
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			assert.LessOrEqual(t, len(got), limit)
			for k, d := range got {
				if len(selectors) > 0 {
					assert.True(t, matchesAny(d, selectors), "unselected record %+v", d)
				}
				if k > 0 {
					assert.False(t, Less(d, got[k-1]), "output not sorted at %d", k)
				}
			}
			if len(selectors) == 0 {
				want := n
				if want > limit {
					want = limit
				}
				assert.Len(t, got, want)
			}
		})
	}
}
