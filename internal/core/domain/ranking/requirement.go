package ranking

import (
	"encoding/json"
	"fmt"
)

// RequirementKind discriminates the typed compliance requirement variants.
// Dispatch on this is a switch, never a dynamic dict lookup.
type RequirementKind string

const (
	RequirementKindNumeric     RequirementKind = "numeric"
	RequirementKindList        RequirementKind = "list"
	RequirementKindLocation    RequirementKind = "location"
	RequirementKindEducation   RequirementKind = "education"
	RequirementKindText        RequirementKind = "text"
	RequirementKindBoolean     RequirementKind = "boolean"
)

// Requirement is the sum type over the six compliance requirement shapes.
// Every variant knows its own discriminator; callers type-switch on the
// concrete type (or branch on Kind()) rather than probing fields.
type Requirement interface {
	Kind() RequirementKind
}

// NumericRequirement gates on a minimum value; Max is descriptive only and
// is never used to filter (see ComplianceFilter predicate table).
type NumericRequirement struct {
	Min  float64  `json:"min"`
	Max  *float64 `json:"max,omitempty"`
	Unit string   `json:"unit,omitempty"`
}

func (NumericRequirement) Kind() RequirementKind { return RequirementKindNumeric }

// ListRequirement requires every entry of Required to be matched; Optional
// entries never gate and are informational only.
type ListRequirement struct {
	Required []string `json:"required"`
	Optional []string `json:"optional,omitempty"`
}

func (ListRequirement) Kind() RequirementKind { return RequirementKindList }

// LocationRequirement matches a free-form location string, or the sentinels
// "any"/"remote".
type LocationRequirement struct {
	Required string `json:"required"`
}

func (LocationRequirement) Kind() RequirementKind { return RequirementKindLocation }

// EducationRequirement matches either an explicit set of required fields or
// a coarse category ("IT"/"non-IT"), further narrowed by allow/deny lists.
type EducationRequirement struct {
	RequiredFields []string `json:"required_fields,omitempty"`
	Category       string   `json:"category,omitempty"`
	Allowed        []string `json:"allowed,omitempty"`
	Excluded       []string `json:"excluded,omitempty"`
}

func (EducationRequirement) Kind() RequirementKind { return RequirementKindEducation }

// TextRequirement matches free text against a set of key terms.
type TextRequirement struct {
	KeyTerms []string `json:"key_terms"`
}

func (TextRequirement) Kind() RequirementKind { return RequirementKindText }

// BooleanRequirement matches an exact boolean candidate value.
type BooleanRequirement struct {
	Required bool `json:"required"`
}

func (BooleanRequirement) Kind() RequirementKind { return RequirementKindBoolean }

// requirementEnvelope is the wire shape used to recover the concrete variant
// from a discriminator field when decoding a RequirementSet.
type requirementEnvelope struct {
	Type RequirementKind `json:"type"`
	Spec json.RawMessage `json:"spec"`
}

// RequirementSet is a named collection of typed requirements (one of the
// mandatory/soft blocks on a Job's filter_requirements). It implements its
// own JSON codec because Requirement is an interface: GORM's jsonb
// serializer round-trips through this Marshal/Unmarshal pair.
type RequirementSet map[string]Requirement

func (rs RequirementSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]requirementEnvelope, len(rs))
	for name, req := range rs {
		spec, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal requirement %q: %w", name, err)
		}
		out[name] = requirementEnvelope{Type: req.Kind(), Spec: spec}
	}
	return json.Marshal(out)
}

func (rs *RequirementSet) UnmarshalJSON(data []byte) error {
	var raw map[string]requirementEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(RequirementSet, len(raw))
	for name, env := range raw {
		req, err := decodeRequirement(env)
		if err != nil {
			return fmt.Errorf("decode requirement %q: %w", name, err)
		}
		out[name] = req
	}
	*rs = out
	return nil
}

func decodeRequirement(env requirementEnvelope) (Requirement, error) {
	switch env.Type {
	case RequirementKindNumeric:
		var r NumericRequirement
		if err := json.Unmarshal(env.Spec, &r); err != nil {
			return nil, err
		}
		return r, nil
	case RequirementKindList:
		var r ListRequirement
		if err := json.Unmarshal(env.Spec, &r); err != nil {
			return nil, err
		}
		return r, nil
	case RequirementKindLocation:
		var r LocationRequirement
		if err := json.Unmarshal(env.Spec, &r); err != nil {
			return nil, err
		}
		return r, nil
	case RequirementKindEducation:
		var r EducationRequirement
		if err := json.Unmarshal(env.Spec, &r); err != nil {
			return nil, err
		}
		return r, nil
	case RequirementKindText:
		var r TextRequirement
		if err := json.Unmarshal(env.Spec, &r); err != nil {
			return nil, err
		}
		return r, nil
	case RequirementKindBoolean:
		var r BooleanRequirement
		if err := json.Unmarshal(env.Spec, &r); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown requirement kind %q", env.Type)
	}
}

// FilterRequirements is the two-block (mandatory, soft) requirement
// document attached to a Job. Soft requirements are evaluated and reported
// but never gate a candidate.
type FilterRequirements struct {
	Mandatory RequirementSet `json:"mandatory"`
	Soft      RequirementSet `json:"soft"`
}

// RequirementResult is the per-requirement outcome of evaluating a
// Requirement against a resume's parsed content.
type RequirementResult struct {
	Meets  bool   `json:"meets"`
	Detail string `json:"detail"`
}
