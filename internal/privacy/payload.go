package privacy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/journal/pkg/types"
)

// Payload is the anonymized contribution sent for one entry.
type Payload struct {
	SessionID     string      `json:"session_id"`
	ProductID     string      `json:"product_id"`
	ProtocolDay   int         `json:"protocol_day"`
	Reflections   Reflections `json:"reflections"`
	DoseTimestamp *time.Time  `json:"dose_timestamp,omitempty"`
}

// Reflections are the metric scores of a Payload.
type Reflections struct {
	Energy     int  `json:"energy"`
	Clarity    int  `json:"clarity"`
	Mood       int  `json:"mood"`
	Anxiety    *int `json:"anxiety,omitempty"`
	Creativity *int `json:"creativity,omitempty"`
}

// payloadSource names the entity field behind each payload value.
type payloadSource struct {
	table, field string
}

var payloadSources = []payloadSource{
	{types.TableProtocols, "session_id"},
	{types.TableProtocols, "product_id"},
	{types.TableEntries, "day_number"},
	{types.TableEntries, "energy"},
	{types.TableEntries, "clarity"},
	{types.TableEntries, "mood"},
	{types.TableEntries, "anxiety"},
	{types.TableEntries, "creativity"},
	{types.TableEntries, "dose_timestamp"},
}

// BuildEntryPayload builds the payload for entry of protocol. Every field
// read is checked against policy first; a field that is not syncable aborts
// the build with *types.ClassificationError.
func BuildEntryPayload(policy Policy, protocol *types.Protocol, entry *types.Entry) (*Payload, error) {
	for _, src := range payloadSources {
		if err := policy.Require(src.table, src.field); err != nil {
			return nil, err
		}
	}
	if entry.ProtocolID != protocol.ID {
		return nil, types.Invalid("protocol_id", "entry belongs to another protocol")
	}
	if !entry.HasCompleteMetrics() {
		return nil, types.Invalid("metrics", "energy, clarity and mood must all be set")
	}

	m := entry.Metrics()
	p := &Payload{
		SessionID:   protocol.SessionID,
		ProductID:   protocol.ProductID,
		ProtocolDay: entry.DayNumber,
		Reflections: Reflections{
			Energy:     m.Energy,
			Clarity:    m.Clarity,
			Mood:       m.Mood,
			Anxiety:    m.Anxiety,
			Creativity: m.Creativity,
		},
	}
	if entry.DoseTimestamp != nil {
		ts := entry.DoseTimestamp.UTC()
		p.DoseTimestamp = &ts
	}
	return p, nil
}

// payloadKeySources maps each top-level payload key to the field it is
// read from. "reflections" is a container checked through
// reflectionKeySources.
var payloadKeySources = map[string]payloadSource{
	"session_id":     {types.TableProtocols, "session_id"},
	"product_id":     {types.TableProtocols, "product_id"},
	"protocol_day":   {types.TableEntries, "day_number"},
	"dose_timestamp": {types.TableEntries, "dose_timestamp"},
}

var reflectionKeySources = map[string]payloadSource{
	"energy":     {types.TableEntries, "energy"},
	"clarity":    {types.TableEntries, "clarity"},
	"mood":       {types.TableEntries, "mood"},
	"anxiety":    {types.TableEntries, "anxiety"},
	"creativity": {types.TableEntries, "creativity"},
}

// Encode serializes p after checking it with VerifyPayload under policy.
func (p *Payload) Encode(policy Policy) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	if err := VerifyPayload(policy, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// VerifyPayload fails with *types.ClassificationError if raw carries a key
// that is not a payload key, or one whose source field policy does not
// classify as syncable. Stored payloads are checked again before they are
// sent, so a field made local-only after enqueue never leaves the device.
func VerifyPayload(policy Policy, raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	for key := range top {
		if key == "reflections" {
			continue
		}
		if err := requireKey(policy, payloadKeySources, key); err != nil {
			return err
		}
	}
	refl, ok := top["reflections"]
	if !ok {
		return nil
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(refl, &nested); err != nil {
		return fmt.Errorf("decoding payload reflections: %w", err)
	}
	for key := range nested {
		if err := requireKey(policy, reflectionKeySources, key); err != nil {
			return err
		}
	}
	return nil
}

func requireKey(policy Policy, sources map[string]payloadSource, key string) error {
	src, ok := sources[key]
	if !ok {
		return &types.ClassificationError{Table: "payload", Field: key}
	}
	return policy.Require(src.table, src.field)
}
