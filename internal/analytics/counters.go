// Package analytics defines the call analytics data model: per-project call
// counters, analytic slices and slowly-changing project metadata.
package analytics

import (
	"math"
	"sort"
)

type (
	ProjectID  int64
	CallStatus string
)

const (
	StatusLeads           CallStatus = "leads"
	StatusMissed          CallStatus = "missed"
	StatusDeclined        CallStatus = "declined"
	StatusCRMBase         CallStatus = "crm_base"
	StatusCRMConversation CallStatus = "crm_conversation"
	StatusCRMMeeting      CallStatus = "crm_meeting"
	StatusCRMDeal         CallStatus = "crm_deal"
	StatusCRMRefused      CallStatus = "crm_refused"
)

var AllStatuses = []CallStatus{
	StatusLeads,
	StatusMissed,
	StatusDeclined,
	StatusCRMBase,
	StatusCRMConversation,
	StatusCRMMeeting,
	StatusCRMDeal,
	StatusCRMRefused,
}

type Bucket struct {
	Value   int `json:"value"`
	Percent int `json:"percent"`
}

// CallCounters holds the counters of one project for one slice.
type CallCounters struct {
	Processed int                   `json:"processed"`
	Buckets   map[CallStatus]Bucket `json:"buckets"`
}

// Analytic maps every project to its counters for a slice.
type Analytic map[ProjectID]CallCounters

// CalcPercent returns value as a rounded percentage of processed, or 0 when
// nothing was processed.
func CalcPercent(value, processed int) int {
	if processed <= 0 {
		return 0
	}

	return int(math.Round(float64(value) / float64(processed) * 100))
}

func NewCallCounters(processed int, values map[CallStatus]int) CallCounters {
	c := CallCounters{
		Processed: processed,
		Buckets:   make(map[CallStatus]Bucket, len(values)),
	}
	for status, value := range values {
		c.Buckets[status] = Bucket{Value: value, Percent: CalcPercent(value, processed)}
	}

	return c
}

func (c CallCounters) Value(status CallStatus) int {
	return c.Buckets[status].Value
}

func (c CallCounters) Percent(status CallStatus) int {
	return c.Buckets[status].Percent
}

// Add returns the sum of both counters with percents recomputed.
func (c CallCounters) Add(other CallCounters) CallCounters {
	values := make(map[CallStatus]int, len(c.Buckets))
	for status, b := range c.Buckets {
		values[status] += b.Value
	}
	for status, b := range other.Buckets {
		values[status] += b.Value
	}

	return NewCallCounters(c.Processed+other.Processed, values)
}

func (c CallCounters) Clone() CallCounters {
	out := CallCounters{Processed: c.Processed, Buckets: make(map[CallStatus]Bucket, len(c.Buckets))}
	for status, b := range c.Buckets {
		out.Buckets[status] = b
	}

	return out
}

func (a Analytic) Clone() Analytic {
	out := make(Analytic, len(a))
	for id, c := range a {
		out[id] = c.Clone()
	}

	return out
}

// Total sums the counters of every project.
func (a Analytic) Total() CallCounters {
	total := NewCallCounters(0, nil)
	for _, c := range a {
		total = total.Add(c)
	}

	return total
}

func (a Analytic) ProjectIDs() []ProjectID {
	ids := make([]ProjectID, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Sum merges several analytics project by project.
func Sum(analytics ...Analytic) Analytic {
	out := make(Analytic)
	for _, a := range analytics {
		for id, c := range a {
			if prev, ok := out[id]; ok {
				out[id] = prev.Add(c)
				continue
			}
			out[id] = c.Clone()
		}
	}

	return out
}
