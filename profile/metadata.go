package profile

import "strings"

// Metadata is the presentation hint shown next to a profile.
type Metadata struct {
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// Rule assigns Color and Icon to names containing any of Keywords.
type Rule struct {
	Keywords []string
	Color    string
	Icon     string
}

func (r Rule) Matches(name string) bool {
	lower := strings.ToLower(name)
	for _, k := range r.Keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// Rules are evaluated in order; the first match wins.
var Rules = []Rule{
	{Keywords: []string{"prod", "production"}, Color: "red", Icon: "briefcase"},
	{Keywords: []string{"stg", "staging", "stage"}, Color: "yellow", Icon: "circle"},
	{Keywords: []string{"dev", "development"}, Color: "green", Icon: "fingerprint"},
	{Keywords: []string{"test", "qa"}, Color: "turquoise", Icon: "circle"},
	{Keywords: []string{"ite", "integration"}, Color: "blue", Icon: "circle"},
	{Keywords: []string{"vdi"}, Color: "blue", Icon: "vacation"},
	{Keywords: []string{"janus"}, Color: "purple", Icon: "circle"},
}

var Fallback = Metadata{Color: "blue", Icon: "circle"}

type MetadataAssigner struct {
	rules []Rule
}

// NewMetadataAssigner evaluates custom rules before the default ones.
func NewMetadataAssigner(custom ...Rule) *MetadataAssigner {
	rules := make([]Rule, 0, len(custom)+len(Rules))
	rules = append(rules, custom...)
	rules = append(rules, Rules...)
	return &MetadataAssigner{rules: rules}
}

func (m *MetadataAssigner) Assign(name string) Metadata {
	for _, r := range m.rules {
		if r.Matches(name) {
			return Metadata{Color: r.Color, Icon: r.Icon}
		}
	}
	return Fallback
}

var defaultAssigner = NewMetadataAssigner()

// AssignMetadata applies the default rules.
func AssignMetadata(name string) Metadata {
	return defaultAssigner.Assign(name)
}
