package analytics

import (
	"regexp"
	"strings"
	"time"
)

type (
	ProjectStatus string
	ProjectType   string
)

const (
	ProjectActive   ProjectStatus = "active"
	ProjectInactive ProjectStatus = "inactive"
	ProjectDeleted  ProjectStatus = "deleted"
)

const (
	ProjectTypePhones ProjectType = "phones"
	ProjectTypeSites  ProjectType = "sites"
	ProjectTypeMulti  ProjectType = "multi"
)

// Sources is the type-dependent origin of a project's calls. Only the field
// matching the project type is set.
type Sources struct {
	Phones  []string            `json:"phones,omitempty"`
	Domains []string            `json:"domains,omitempty"`
	Multi   map[string][]string `json:"multi,omitempty"`
}

func (s *Sources) empty() bool {
	return s == nil || (s.Phones == nil && s.Domains == nil && s.Multi == nil)
}

func (s *Sources) Clone() *Sources {
	if s == nil {
		return nil
	}

	out := &Sources{
		Phones:  cloneStrings(s.Phones),
		Domains: cloneStrings(s.Domains),
	}
	if s.Multi != nil {
		out.Multi = make(map[string][]string, len(s.Multi))
		for k, v := range s.Multi {
			out.Multi[k] = cloneStrings(v)
		}
	}

	return out
}

// ProjectStaticInfo is the slowly-changing metadata of a project. Zero values
// mean "unknown" so that a partial record can be merged with a full one.
type ProjectStaticInfo struct {
	ID           ProjectID     `json:"id"`
	Name         string        `json:"name,omitempty"`
	Tag          string        `json:"tag,omitempty"`
	Status       ProjectStatus `json:"status,omitempty"`
	Type         ProjectType   `json:"type,omitempty"`
	OperatorCode string        `json:"operator_code,omitempty"`
	Limit        *int          `json:"limit,omitempty"`
	Workdays     *uint8        `json:"workdays,omitempty"`
	Regions      []string      `json:"regions,omitempty"`
	CreatedAt    *time.Time    `json:"created_at,omitempty"`
	EditedAt     *time.Time    `json:"edited_at,omitempty"`
	DeletedAt    *time.Time    `json:"deleted_at,omitempty"`
	Sources      *Sources      `json:"sources,omitempty"`
}

// StaticData maps project ids to their metadata.
type StaticData map[ProjectID]*ProjectStaticInfo

// Merge overwrites p with every field known in authoritative and keeps the
// rest.
func (p *ProjectStaticInfo) Merge(authoritative *ProjectStaticInfo) {
	if authoritative == nil {
		return
	}

	if authoritative.ID != 0 {
		p.ID = authoritative.ID
	}
	if authoritative.Name != "" {
		p.Name = authoritative.Name
	}
	if authoritative.Tag != "" {
		p.Tag = authoritative.Tag
	}
	if authoritative.Status != "" {
		p.Status = authoritative.Status
	}
	if authoritative.Type != "" {
		p.Type = authoritative.Type
	}
	if authoritative.OperatorCode != "" {
		p.OperatorCode = authoritative.OperatorCode
	}
	if authoritative.Limit != nil {
		v := *authoritative.Limit
		p.Limit = &v
	}
	if authoritative.Workdays != nil {
		v := *authoritative.Workdays
		p.Workdays = &v
	}
	if authoritative.Regions != nil {
		p.Regions = cloneStrings(authoritative.Regions)
	}
	if authoritative.CreatedAt != nil {
		p.CreatedAt = cloneTime(authoritative.CreatedAt)
	}
	if authoritative.EditedAt != nil {
		p.EditedAt = cloneTime(authoritative.EditedAt)
	}
	if authoritative.DeletedAt != nil {
		p.DeletedAt = cloneTime(authoritative.DeletedAt)
	}
	if !authoritative.Sources.empty() {
		p.Sources = authoritative.Sources.Clone()
	}
}

func (p *ProjectStaticInfo) Clone() *ProjectStaticInfo {
	if p == nil {
		return nil
	}

	out := *p
	if p.Limit != nil {
		v := *p.Limit
		out.Limit = &v
	}
	if p.Workdays != nil {
		v := *p.Workdays
		out.Workdays = &v
	}
	out.Regions = cloneStrings(p.Regions)
	out.CreatedAt = cloneTime(p.CreatedAt)
	out.EditedAt = cloneTime(p.EditedAt)
	out.DeletedAt = cloneTime(p.DeletedAt)
	out.Sources = p.Sources.Clone()

	return &out
}

func (p *ProjectStaticInfo) IsActive() bool {
	return p.Status == ProjectActive
}

// WorksOn reports whether the workdays bitmask (bit 0 = Monday) includes
// day. Projects without a mask work every day.
func (p *ProjectStaticInfo) WorksOn(day time.Weekday) bool {
	if p.Workdays == nil {
		return true
	}

	bit := (int(day) + 6) % 7
	return *p.Workdays&(1<<bit) != 0
}

func (s StaticData) Clone() StaticData {
	out := make(StaticData, len(s))
	for id, p := range s {
		out[id] = p.Clone()
	}

	return out
}

// MergeStatic merges full over partial in place and returns partial. Entries
// only in full are added, entries only in partial are kept untouched.
func MergeStatic(partial, full StaticData) StaticData {
	if partial == nil {
		partial = make(StaticData, len(full))
	}

	for id, info := range full {
		if existing, ok := partial[id]; ok && existing != nil {
			existing.Merge(info)
			continue
		}
		partial[id] = info.Clone()
	}

	return partial
}

// FillMissing adds partial data to known without overriding it: new entries
// are added and existing entries only gain fields they do not have yet.
func FillMissing(known, partial StaticData) StaticData {
	if known == nil {
		known = make(StaticData, len(partial))
	}

	for id, info := range partial {
		existing, ok := known[id]
		if !ok || existing == nil {
			known[id] = info.Clone()
			continue
		}

		filled := info.Clone()
		if filled == nil {
			continue
		}
		filled.Merge(existing)
		known[id] = filled
	}

	return known
}

var (
	bracketTagRe = regexp.MustCompile(`^\s*\[([^\]]+)\]\s*`)
	domainRe     = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?((?:[a-z0-9-]+\.)+[a-z]{2,})`)
)

// SmartName is the display form of a project name.
type SmartName struct {
	Name   string `json:"name"`
	Tag    string `json:"tag,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// SmartName derives a display name, a tag and a domain from the raw name,
// tag and sources.
func (p *ProjectStaticInfo) SmartName() SmartName {
	name := strings.TrimSpace(p.Name)
	sn := SmartName{Tag: strings.TrimSpace(p.Tag)}

	if m := bracketTagRe.FindStringSubmatch(name); m != nil {
		if sn.Tag == "" {
			sn.Tag = strings.TrimSpace(m[1])
		}
		name = strings.TrimSpace(name[len(m[0]):])
	}

	if p.Sources != nil && len(p.Sources.Domains) > 0 {
		sn.Domain = normalizeDomain(p.Sources.Domains[0])
	} else if m := domainRe.FindStringSubmatch(name); m != nil {
		sn.Domain = strings.ToLower(m[1])
	}

	if sn.Domain != "" {
		name = strings.TrimSpace(domainRe.ReplaceAllStringFunc(name, func(s string) string {
			if strings.EqualFold(normalizeDomain(s), sn.Domain) {
				return sn.Domain
			}
			return s
		}))
	}
	if name == "" {
		name = sn.Domain
	}
	sn.Name = name

	return sn
}

func normalizeDomain(raw string) string {
	if m := domainRe.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(m[1])
	}

	return strings.ToLower(strings.TrimSpace(raw))
}

// ProjectsConfig is the account-wide project settings.
type ProjectsConfig struct {
	WantPhones   int  `json:"wantPhones"`
	IsCallCenter bool `json:"isCallCenter"`
}

type ClientInfo struct {
	UserID    int64          `json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}

	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t
	return &v
}
