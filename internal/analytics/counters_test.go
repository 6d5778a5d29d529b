package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalcPercent(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		processed int
		expected  int
	}{
		{name: "nothing processed", value: 0, processed: 0, expected: 0},
		{name: "value without processed", value: 7, processed: 0, expected: 0},
		{name: "negative processed", value: 3, processed: -1, expected: 0},
		{name: "exact", value: 3, processed: 10, expected: 30},
		{name: "rounds half up", value: 1, processed: 8, expected: 13},
		{name: "rounds down", value: 1, processed: 3, expected: 33},
		{name: "all", value: 5, processed: 5, expected: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalcPercent(tt.value, tt.processed))
		})
	}
}

func TestNewCallCounters(t *testing.T) {
	c := NewCallCounters(10, map[CallStatus]int{StatusLeads: 3, StatusMissed: 1})

	assert.Equal(t, 10, c.Processed)
	assert.Equal(t, Bucket{Value: 3, Percent: 30}, c.Buckets[StatusLeads])
	assert.Equal(t, 1, c.Value(StatusMissed))
	assert.Equal(t, 10, c.Percent(StatusMissed))
	assert.Equal(t, 0, c.Value(StatusDeclined))
}

func TestCallCountersAdd(t *testing.T) {
	a := NewCallCounters(10, map[CallStatus]int{StatusLeads: 3})
	b := NewCallCounters(30, map[CallStatus]int{StatusLeads: 7, StatusMissed: 10})

	sum := a.Add(b)

	assert.Equal(t, 40, sum.Processed)
	assert.Equal(t, Bucket{Value: 10, Percent: 25}, sum.Buckets[StatusLeads])
	assert.Equal(t, Bucket{Value: 10, Percent: 25}, sum.Buckets[StatusMissed])
	assert.Equal(t, 3, a.Value(StatusLeads), "operands must not change")
}

func TestSum(t *testing.T) {
	day1 := Analytic{
		1: NewCallCounters(4, map[CallStatus]int{StatusLeads: 2}),
		2: NewCallCounters(2, map[CallStatus]int{StatusLeads: 1}),
	}
	day2 := Analytic{
		1: NewCallCounters(6, map[CallStatus]int{StatusLeads: 3}),
	}

	total := Sum(day1, day2)

	assert.Len(t, total, 2)
	assert.Equal(t, 10, total[1].Processed)
	assert.Equal(t, 5, total[1].Value(StatusLeads))
	assert.Equal(t, 50, total[1].Percent(StatusLeads))
	assert.Equal(t, 2, total[2].Processed)
	assert.Equal(t, []ProjectID{1, 2}, total.ProjectIDs())
	assert.Equal(t, 12, total.Total().Processed)
}

func TestAnalyticClone(t *testing.T) {
	a := Analytic{1: NewCallCounters(4, map[CallStatus]int{StatusLeads: 2})}
	c := a.Clone()

	c[1].Buckets[StatusLeads] = Bucket{Value: 99}

	assert.Equal(t, 2, a[1].Value(StatusLeads))
}
