package escalation

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// DefaultWindowDays is the sliding-window size for configs that don't set
// their own.
const DefaultWindowDays = 7

// TrackedLabelConfig describes one escalation rule: when posts labeled with
// any of Labels cross Threshold within the window, act on the account.
// Several configs may share overlapping labels; each is evaluated
// independently.
type TrackedLabelConfig struct {
	// Label is accepted as a convenience for single-label configs and is
	// folded into Labels during validation.
	Label  string   `json:"label,omitempty"`
	Labels []string `json:"labels,omitempty"`

	Threshold      int    `json:"threshold"`
	AccountLabel   string `json:"accountLabel"`
	AccountComment string `json:"accountComment,omitempty"`
	WindowDays     int    `json:"windowDays,omitempty"`
	ReportAcct     bool   `json:"reportAcct,omitempty"`
	CommentAcct    bool   `json:"commentAcct,omitempty"`
	// ToLabel, when set, is applied to the account in place of AccountLabel
	// (a rename alias for migrating label vocabularies).
	ToLabel string `json:"toLabel,omitempty"`
}

func (c *TrackedLabelConfig) Window() time.Duration {
	days := c.WindowDays
	if days <= 0 {
		days = DefaultWindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c *TrackedLabelConfig) Matches(val string) bool {
	for _, l := range c.Labels {
		if l == val {
			return true
		}
	}
	return false
}

// EffectiveAccountLabel is the label value actually applied on escalation.
func (c *TrackedLabelConfig) EffectiveAccountLabel() string {
	if c.ToLabel != "" {
		return c.ToLabel
	}
	return c.AccountLabel
}

// Validate normalizes the config in place and rejects malformed entries.
// Called eagerly at load time, never at use time.
func (c *TrackedLabelConfig) Validate() error {
	if c.Label != "" {
		c.Labels = append(c.Labels, c.Label)
		c.Label = ""
	}
	if len(c.Labels) == 0 {
		return fmt.Errorf("tracked label config has no labels")
	}
	for _, l := range c.Labels {
		if l == "" {
			return fmt.Errorf("tracked label config has an empty label value")
		}
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("tracked label config for %v has non-positive threshold %d", c.Labels, c.Threshold)
	}
	if c.AccountLabel == "" {
		return fmt.Errorf("tracked label config for %v has no account label", c.Labels)
	}
	if c.CommentAcct && c.AccountComment == "" {
		return fmt.Errorf("tracked label config for %v requests a comment but has no comment text", c.Labels)
	}
	return nil
}

// LoadConfigsJSON reads tracked-label configs from a JSON file (an array of
// config objects) and validates every entry eagerly.
func LoadConfigsJSON(p string) ([]TrackedLabelConfig, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	var configs []TrackedLabelConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, fmt.Errorf("parsing tracked label configs: %w", err)
	}
	for i := range configs {
		if err := configs[i].Validate(); err != nil {
			return nil, fmt.Errorf("tracked label config %d: %w", i, err)
		}
	}
	return configs, nil
}
