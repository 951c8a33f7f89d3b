package profile

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Data point value types as reported by the device.
const (
	TypeBoolean  = "boolean"
	TypeInteger  = "integer"
	TypeBitfield = "bitfield"
	TypeString   = "string"
	TypeHex      = "hex"
	TypeBase64   = "base64"
	TypeJSON     = "json"
)

// Profile describes one kind of Tuya device: the entities it exposes and
// the data points behind each entity.
//
// ConfigType is the profile's file name without extension. It is the value
// persisted as a device's type.
type Profile struct {
	configType string

	DisplayName       string   `yaml:"name" json:"name"`
	Products          []string `yaml:"products,omitempty" json:"products,omitempty"`
	PrimaryEntity     Entity   `yaml:"primary_entity" json:"primary_entity"`
	SecondaryEntities []Entity `yaml:"secondary_entities,omitempty" json:"secondary_entities,omitempty"`
}

// Entity is one controllable or observable facet of a device, such as a
// switch or a power sensor.
type Entity struct {
	Entity string `yaml:"entity" json:"entity"`
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
	Class  string `yaml:"class,omitempty" json:"class,omitempty"`
	DPs    []DP   `yaml:"dps" json:"dps"`
}

// DP maps a device data point to a named entity attribute.
type DP struct {
	ID       DPID   `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
	Readonly bool   `yaml:"readonly,omitempty" json:"readonly,omitempty"`
}

// DPID is a data point id. Profile files write ids as bare integers; state
// maps key them as strings.
type DPID string

// UnmarshalYAML accepts both `id: 1` and `id: "1"`.
func (id *DPID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode || node.Value == "" {
		return fmt.Errorf("%w: dp id must be a scalar", ErrInvalidProfile)
	}
	*id = DPID(node.Value)
	return nil
}

// ConfigType returns the identifier persisted as the device type.
func (p *Profile) ConfigType() string { return p.configType }

// Name returns the human-readable profile name.
func (p *Profile) Name() string { return p.DisplayName }

// Entities returns the primary entity followed by the secondary ones.
func (p *Profile) Entities() []Entity {
	out := make([]Entity, 0, 1+len(p.SecondaryEntities))
	out = append(out, p.PrimaryEntity)
	return append(out, p.SecondaryEntities...)
}

// Lookup finds a data point by id across all entities.
func (p *Profile) Lookup(id string) (DP, bool) {
	for _, e := range p.Entities() {
		for _, dp := range e.DPs {
			if string(dp.ID) == id {
				return dp, true
			}
		}
	}
	return DP{}, false
}

// validate checks the structure of a decoded profile.
func (p *Profile) validate() error {
	if p.DisplayName == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidProfile, p.configType)
	}

	seen := make(map[DPID]bool)
	for i, e := range p.Entities() {
		if e.Entity == "" {
			return fmt.Errorf("%w: %s: entity %d has no entity kind", ErrInvalidProfile, p.configType, i)
		}
		if i > 0 && e.Name == "" {
			return fmt.Errorf("%w: %s: secondary %s entity needs a name", ErrInvalidProfile, p.configType, e.Entity)
		}
		if len(e.DPs) == 0 {
			return fmt.Errorf("%w: %s: %s entity has no dps", ErrInvalidProfile, p.configType, e.Entity)
		}
		for _, dp := range e.DPs {
			if !knownType(dp.Type) {
				return fmt.Errorf("%w: %s: dp %s has unknown type %q", ErrInvalidProfile, p.configType, dp.ID, dp.Type)
			}
			if seen[dp.ID] {
				return fmt.Errorf("%w: %s: dp %s mapped twice", ErrInvalidProfile, p.configType, dp.ID)
			}
			seen[dp.ID] = true
		}
	}
	return nil
}

// Accepts reports whether v is a valid value for the data point type.
func (dp DP) Accepts(v any) bool {
	return typeMatches(dp.Type, v)
}

// UniqueID derives the entity's unique id from the device unique id. The
// primary entity uses the device id unchanged.
func (e Entity) UniqueID(deviceUID string, primary bool) string {
	if primary {
		return deviceUID
	}
	return deviceUID + "-" + e.Entity + "_" + Slugify(e.Name)
}

// Values picks this entity's data points out of a device state, keyed by
// attribute name. Data points absent from state are omitted.
func (e Entity) Values(state map[string]any) map[string]any {
	out := make(map[string]any, len(e.DPs))
	for _, dp := range e.DPs {
		if v, ok := state[string(dp.ID)]; ok {
			out[dp.Name] = v
		}
	}
	return out
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses runs of other characters to "_".
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

func knownType(t string) bool {
	switch t {
	case TypeBoolean, TypeInteger, TypeBitfield, TypeString, TypeHex, TypeBase64, TypeJSON:
		return true
	}
	return false
}

// typeMatches reports whether a reported value fits a data point type.
func typeMatches(dpType string, v any) bool {
	switch dpType {
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeInteger, TypeBitfield:
		return isInteger(v)
	case TypeString, TypeHex, TypeBase64, TypeJSON:
		_, ok := v.(string)
		return ok
	}
	return false
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return n == math.Trunc(n)
	case float32:
		return float64(n) == math.Trunc(float64(n))
	}
	return false
}
