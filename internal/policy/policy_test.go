package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/txlog/internal/locality"
	"github.com/devrev/pairdb/txlog/internal/policy"
)

func TestAnyNSatisfiedBy(t *testing.T) {
	set := locality.NewSet([]locality.Entry{0, 1, 2}, []locality.Data{{}, {}, {}})
	p := policy.AnyN{N: 2}

	assert.True(t, p.SatisfiedBy(set, []locality.Entry{0, 1}))
	assert.False(t, p.SatisfiedBy(set, []locality.Entry{0}))
}

func TestAnyNSelectAdditional(t *testing.T) {
	set := locality.NewSet([]locality.Entry{0, 1, 2, 3}, []locality.Data{{}, {}, {}, {}})
	p := policy.AnyN{N: 3}

	chosen, err := p.SelectAdditional(set, []locality.Entry{2})
	require.NoError(t, err)
	assert.True(t, p.SatisfiedBy(set, chosen))
	assert.Contains(t, chosen, locality.Entry(2))
}

func TestAnyNSelectAdditionalInsufficientServers(t *testing.T) {
	set := locality.NewSet([]locality.Entry{0}, []locality.Data{{}})
	p := policy.AnyN{N: 3}

	_, err := p.SelectAdditional(set, nil)
	assert.Error(t, err)
}

// TestAcrossZonesSelectAdditional exercises the scenario S5 layout: six
// servers split evenly across zones A, B, and C, already-chosen entry 0
// in zone A, asking for 3 servers spanning 3 zones.
func TestAcrossZonesSelectAdditional(t *testing.T) {
	present := []locality.Entry{0, 1, 2, 3, 4, 5}
	localities := []locality.Data{
		{"zone": "A"}, {"zone": "A"},
		{"zone": "B"}, {"zone": "B"},
		{"zone": "C"}, {"zone": "C"},
	}
	set := locality.NewSet(present, localities)
	p := policy.AcrossZones{ZoneKey: "zone", Zones: 3, Count: 3}

	chosen, err := p.SelectAdditional(set, []locality.Entry{0})
	require.NoError(t, err)
	assert.True(t, p.SatisfiedBy(set, chosen))
	assert.Len(t, chosen, 3)

	zones := map[string]struct{}{}
	for _, e := range chosen {
		zones[set.Locality(e)["zone"]] = struct{}{}
	}
	assert.Len(t, zones, 3)
}

func TestAcrossZonesUnsatisfiableWhenTooFewZones(t *testing.T) {
	present := []locality.Entry{0, 1, 2}
	localities := []locality.Data{{"zone": "A"}, {"zone": "A"}, {"zone": "B"}}
	set := locality.NewSet(present, localities)
	p := policy.AcrossZones{ZoneKey: "zone", Zones: 3, Count: 3}

	_, err := p.SelectAdditional(set, nil)
	assert.Error(t, err)
}

func TestAcrossZonesDeterministic(t *testing.T) {
	present := []locality.Entry{0, 1, 2, 3, 4, 5}
	localities := []locality.Data{
		{"zone": "A"}, {"zone": "A"},
		{"zone": "B"}, {"zone": "B"},
		{"zone": "C"}, {"zone": "C"},
	}
	set := locality.NewSet(present, localities)
	p := policy.AcrossZones{ZoneKey: "zone", Zones: 3, Count: 3}

	first, err := p.SelectAdditional(set, nil)
	require.NoError(t, err)
	second, err := p.SelectAdditional(set, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
