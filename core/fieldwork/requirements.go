package fieldwork

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Requirements is the normalised capture specification of a task,
// independent of the template version it was authored against.
type Requirements struct {
	MinWidth    int                 `json:"min_width"`
	MinHeight   int                 `json:"min_height"`
	GPSRequired bool                `json:"gps_required"`
	Count       int                 `json:"count"`
	Bearing     *BearingRequirement `json:"bearing,omitempty"`
}

// BearingRequirement constrains the compass direction of a capture.
type BearingRequirement struct {
	Degrees   float64 `json:"degrees"`
	Tolerance float64 `json:"tolerance"`
}

// photoV1 is the wire shape of kind=photo, version 1.x.
type photoV1 struct {
	Resolution struct {
		MinWidth  int `json:"min_width"`
		MinHeight int `json:"min_height"`
	} `json:"resolution"`
	GPSRequired bool `json:"gps_required"`
	Count       int  `json:"count"`
}

// photoV2 adds a required bearing to v1.
type photoV2 struct {
	photoV1
	Bearing BearingRequirement `json:"bearing"`
}

const photoV1Schema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["resolution", "gps_required", "count"],
  "properties": {
    "resolution": {
      "type": "object",
      "additionalProperties": false,
      "required": ["min_width", "min_height"],
      "properties": {
        "min_width": {"type": "integer", "minimum": 1},
        "min_height": {"type": "integer", "minimum": 1}
      }
    },
    "gps_required": {"type": "boolean"},
    "count": {"type": "integer", "minimum": 1, "maximum": 50}
  }
}`

const photoV2Schema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["resolution", "gps_required", "count", "bearing"],
  "properties": {
    "resolution": {
      "type": "object",
      "additionalProperties": false,
      "required": ["min_width", "min_height"],
      "properties": {
        "min_width": {"type": "integer", "minimum": 1},
        "min_height": {"type": "integer", "minimum": 1}
      }
    },
    "gps_required": {"type": "boolean"},
    "count": {"type": "integer", "minimum": 1, "maximum": 50},
    "bearing": {
      "type": "object",
      "additionalProperties": false,
      "required": ["degrees", "tolerance"],
      "properties": {
        "degrees": {"type": "number", "minimum": 0, "exclusiveMaximum": 360},
        "tolerance": {"type": "number", "exclusiveMinimum": 0, "maximum": 180}
      }
    }
  }
}`

type requirementSchema struct {
	kind       string
	constraint string
	source     string
	decode     func([]byte) (Requirements, error)

	compiled *jsonschema.Schema
	check    *semver.Constraints
}

var (
	schemasOnce sync.Once
	schemasErr  error
	schemas     = []*requirementSchema{
		{kind: "photo", constraint: "^1.0.0", source: photoV1Schema, decode: decodePhotoV1},
		{kind: "photo", constraint: "^2.0.0", source: photoV2Schema, decode: decodePhotoV2},
	}
)

func compileSchemas() error {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		for _, s := range schemas {
			url := fmt.Sprintf("https://fieldproof.schemas.local/%s/%s.schema.json", s.kind, strings.TrimPrefix(s.constraint, "^"))
			if err := c.AddResource(url, strings.NewReader(s.source)); err != nil {
				schemasErr = fmt.Errorf("requirement schema load failed: %w", err)
				return
			}
			compiled, err := c.Compile(url)
			if err != nil {
				schemasErr = fmt.Errorf("requirement schema compile failed: %w", err)
				return
			}
			check, err := semver.NewConstraint(s.constraint)
			if err != nil {
				schemasErr = fmt.Errorf("requirement schema constraint %q: %w", s.constraint, err)
				return
			}
			s.compiled = compiled
			s.check = check
		}
	})
	return schemasErr
}

// ParseRequirements validates raw requirement JSON against the schema
// selected by the template kind and version, rejecting unknown shapes.
func ParseRequirements(tpl Template, raw []byte) (Requirements, error) {
	if err := compileSchemas(); err != nil {
		return Requirements{}, err
	}
	version, err := semver.NewVersion(tpl.Version)
	if err != nil {
		return Requirements{}, fmt.Errorf("%w: template version %q: %v", ErrInvalidRequirements, tpl.Version, err)
	}
	var selected *requirementSchema
	for _, s := range schemas {
		if s.kind == tpl.Kind && s.check.Check(version) {
			selected = s
			break
		}
	}
	if selected == nil {
		return Requirements{}, fmt.Errorf("%w: no schema for template %s@%s", ErrInvalidRequirements, tpl.Kind, tpl.Version)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Requirements{}, fmt.Errorf("%w: %v", ErrInvalidRequirements, err)
	}
	if err := selected.compiled.Validate(doc); err != nil {
		return Requirements{}, fmt.Errorf("%w: %v", ErrInvalidRequirements, err)
	}
	return selected.decode(raw)
}

func strictDecode(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequirements, err)
	}
	return nil
}

func decodePhotoV1(raw []byte) (Requirements, error) {
	var v photoV1
	if err := strictDecode(raw, &v); err != nil {
		return Requirements{}, err
	}
	return Requirements{
		MinWidth:    v.Resolution.MinWidth,
		MinHeight:   v.Resolution.MinHeight,
		GPSRequired: v.GPSRequired,
		Count:       v.Count,
	}, nil
}

func decodePhotoV2(raw []byte) (Requirements, error) {
	var v photoV2
	if err := strictDecode(raw, &v); err != nil {
		return Requirements{}, err
	}
	bearing := v.Bearing
	return Requirements{
		MinWidth:    v.Resolution.MinWidth,
		MinHeight:   v.Resolution.MinHeight,
		GPSRequired: v.GPSRequired,
		Count:       v.Count,
		Bearing:     &bearing,
	}, nil
}
