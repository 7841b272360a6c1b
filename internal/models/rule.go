package models

import (
	"errors"
	"fmt"
)

// Condition types of global and custom field rules.
const (
	ConditionChange         = "change"
	ConditionIncrease       = "increase"
	ConditionDecrease       = "decrease"
	ConditionEquals         = "equals"
	ConditionThresholdCross = "threshold_cross"
)

// UserRule is an operator-defined condition on one column. Global rules notify everyone,
// custom rules notify their owner only.
type UserRule struct {
	ID           string `mapstructure:"id" json:"id"`
	Scope        Origin `mapstructure:"-" json:"scope"`
	Owner        string `mapstructure:"owner" json:"owner,omitempty"`
	Field        string `mapstructure:"field" json:"field"`
	FieldType    string `mapstructure:"field_type" json:"field_type"`
	Condition    string `mapstructure:"condition" json:"condition"`
	CompareValue string `mapstructure:"compare_value" json:"compare_value,omitempty"`
	Message      string `mapstructure:"message" json:"message,omitempty"`
	Active       bool   `mapstructure:"active" json:"active"`
}

// Validate checks rule field constraints.
func (r *UserRule) Validate() error {
	if r.ID == "" {
		return errors.New("rule ID must not be empty")
	}
	if r.Field == "" {
		return errors.New("rule field must not be empty")
	}
	switch r.FieldType {
	case "", "numeric", "text":
	default:
		return fmt.Errorf("rule field type %q must be numeric or text", r.FieldType)
	}
	switch r.Condition {
	case ConditionChange, ConditionIncrease, ConditionDecrease:
	case ConditionEquals, ConditionThresholdCross:
		if r.CompareValue == "" {
			return fmt.Errorf("rule condition %s requires a compare value", r.Condition)
		}
	default:
		return fmt.Errorf("unknown rule condition %q", r.Condition)
	}
	if r.Scope == OriginCustom && r.Owner == "" {
		return errors.New("custom rule must have an owner")
	}
	return nil
}
