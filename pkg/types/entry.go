package types

import "time"

// Entry contribution states.
const (
	ContributionPending = "pending"
	ContributionSynced  = "synced"
	ContributionError   = "error"
)

// validContributionStates is the set of recognized contribution states.
var validContributionStates = map[string]bool{
	ContributionPending: true,
	ContributionSynced:  true,
	ContributionError:   true,
}

// Metric ranges.
const (
	MetricMin         = 1
	MetricMax         = 5
	PostDoseMetricMin = 1
	PostDoseMetricMax = 10
)

// PostDoseMetrics is the check-in recorded after a dose, on a 1-10 scale.
type PostDoseMetrics struct {
	Energy  int `json:"energy"`
	Clarity int `json:"clarity"`
	Mood    int `json:"mood"`
}

// Entry is a journal record within a protocol.
type Entry struct {
	ID                 string           `json:"id"`
	ProtocolID         string           `json:"protocol_id"`
	DoseID             *string          `json:"dose_id"`
	DayNumber          int              `json:"day_number"`
	Timestamp          time.Time        `json:"timestamp"`
	Content            string           `json:"content"` // Free text; never leaves the device.
	Energy             int              `json:"energy"`
	Clarity            int              `json:"clarity"`
	Mood               int              `json:"mood"`
	Anxiety            *int             `json:"anxiety"`
	Creativity         *int             `json:"creativity"`
	Tags               []string         `json:"tags"`
	IsDoseDay          bool             `json:"is_dose_day"`
	DoseTimestamp      *time.Time       `json:"dose_timestamp"`
	ContributionStatus string           `json:"contribution_status"`
	PreDoseState       *string          `json:"pre_dose_state"`
	PostDoseMetrics    *PostDoseMetrics `json:"post_dose_metrics"`
	Setting            *string          `json:"setting"`
	Intention          *string          `json:"intention"`
	SleepQuality       *int             `json:"sleep_quality"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Metrics are the reflection scores of an entry. They are the only part of
// an entry that may be contributed, after anonymization.
type Metrics struct {
	Energy     int
	Clarity    int
	Mood       int
	Anxiety    *int
	Creativity *int
}

// Metrics returns the entry's reflection scores. Content is never included.
func (e *Entry) Metrics() Metrics {
	return Metrics{
		Energy:     e.Energy,
		Clarity:    e.Clarity,
		Mood:       e.Mood,
		Anxiety:    copyInt(e.Anxiety),
		Creativity: copyInt(e.Creativity),
	}
}

// HasCompleteMetrics reports whether energy, clarity and mood are all set
// within [MetricMin, MetricMax].
func (e *Entry) HasCompleteMetrics() bool {
	return inRange(e.Energy, MetricMin, MetricMax) &&
		inRange(e.Clarity, MetricMin, MetricMax) &&
		inRange(e.Mood, MetricMin, MetricMax)
}

// Validate checks references and every metric range.
func (e *Entry) Validate() error {
	if e.ProtocolID == "" {
		return Invalid("protocol_id", "must not be empty")
	}
	if e.DayNumber < 0 {
		return Invalid("day_number", "must not be negative, got %d", e.DayNumber)
	}
	core := []struct {
		field string
		value int
	}{
		{"energy", e.Energy},
		{"clarity", e.Clarity},
		{"mood", e.Mood},
	}
	for _, m := range core {
		if !inRange(m.value, MetricMin, MetricMax) {
			return Invalid(m.field, "must be within [%d, %d], got %d", MetricMin, MetricMax, m.value)
		}
	}
	optional := []struct {
		field string
		value *int
	}{
		{"anxiety", e.Anxiety},
		{"creativity", e.Creativity},
		{"sleep_quality", e.SleepQuality},
	}
	for _, m := range optional {
		if m.value != nil && !inRange(*m.value, MetricMin, MetricMax) {
			return Invalid(m.field, "must be within [%d, %d], got %d", MetricMin, MetricMax, *m.value)
		}
	}
	if pd := e.PostDoseMetrics; pd != nil {
		post := []struct {
			field string
			value int
		}{
			{"post_dose_metrics.energy", pd.Energy},
			{"post_dose_metrics.clarity", pd.Clarity},
			{"post_dose_metrics.mood", pd.Mood},
		}
		for _, m := range post {
			if !inRange(m.value, PostDoseMetricMin, PostDoseMetricMax) {
				return Invalid(m.field, "must be within [%d, %d], got %d", PostDoseMetricMin, PostDoseMetricMax, m.value)
			}
		}
	}
	if e.ContributionStatus != "" && !validContributionStates[e.ContributionStatus] {
		return Invalid("contribution_status", "unknown state %q", e.ContributionStatus)
	}
	return nil
}

func inRange(v, lo, hi int) bool {
	return v >= lo && v <= hi
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
