package domain

// RuleConfig defines one anomaly reason rule: a CEL predicate over the
// per-claim scoring variables and the tag reported when it holds.
type RuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	TenantID    string `json:"tenantId,omitempty" yaml:"-"`
	Tag         string `json:"tag" yaml:"tag"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version,omitempty"`

	// CEL expression; must evaluate to bool.
	Expression string `json:"expression" yaml:"expression"`

	// Order fixes the position of the tag in the reason list.
	Order int `json:"order" yaml:"order"`

	// Whether rule is active
	Enabled bool `json:"enabled" yaml:"enabled"`
}
