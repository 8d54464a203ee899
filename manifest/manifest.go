// Package manifest builds the provenance manifest embedded into signed
// photographs: a claim-generator identity, a title, a creation action with a
// UTC timestamp, and an authorship assertion.
//
// The manifest is data, not behavior. Given the same timestamp, Build
// produces byte-identical output, which keeps signing deterministic and
// testable.
package manifest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Profile holds the organization-configured constants declared in every
// manifest. None of these fields come from user input.
type Profile struct {
	// ClaimGenerator identifies the producing software, e.g. "Kibala/1.0".
	ClaimGenerator string

	// GeneratorName and GeneratorVersion populate claim_generator_info.
	GeneratorName    string
	GeneratorVersion string

	// Title is the manifest title.
	Title string

	// AuthorName is the fixed author of the authorship assertion.
	AuthorName string

	// AuthorType is the schema.org type of the author, "Person" or
	// "Organization".
	AuthorType string
}

// DefaultProfile is the device profile used by the agent unless configured
// otherwise.
var DefaultProfile = Profile{
	ClaimGenerator:   "Kibala/1.0",
	GeneratorName:    "Kibala",
	GeneratorVersion: "1.0",
	Title:            "Kibala Photo",
	AuthorName:       "Kibala Camera",
	AuthorType:       "Person",
}

// Manifest is the provenance claim document serialized into the signed
// artifact.
type Manifest struct {
	ClaimGenerator     string          `json:"claim_generator"`
	ClaimGeneratorInfo []GeneratorInfo `json:"claim_generator_info"`
	Title              string          `json:"title"`
	Assertions         []Assertion     `json:"assertions"`
}

// GeneratorInfo describes one producing software component.
type GeneratorInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Assertion is a labeled claim inside the manifest.
type Assertion struct {
	Label string      `json:"label"`
	Data  interface{} `json:"data"`
}

// ActionsData is the payload of a c2pa.actions assertion.
type ActionsData struct {
	Actions []Action `json:"actions"`
}

// Action records a single provenance event.
type Action struct {
	Action        string `json:"action"`
	SoftwareAgent string `json:"softwareAgent"`
	When          string `json:"when"`
}

// CreativeWorkData is the payload of a stds.schema-org.CreativeWork
// assertion.
type CreativeWorkData struct {
	Context string   `json:"@context"`
	Type    string   `json:"@type"`
	Author  []Author `json:"author"`
}

// Author is a schema.org author record.
type Author struct {
	Type string `json:"@type"`
	Name string `json:"name"`
}

// New constructs the manifest for a creation event at the given instant.
// The timestamp is normalized to UTC RFC 3339 so the output is reproducible.
func New(profile Profile, action string, when time.Time) *Manifest {
	return &Manifest{
		ClaimGenerator: profile.ClaimGenerator,
		ClaimGeneratorInfo: []GeneratorInfo{
			{Name: profile.GeneratorName, Version: profile.GeneratorVersion},
		},
		Title: profile.Title,
		Assertions: []Assertion{
			{
				Label: "c2pa.actions",
				Data: ActionsData{
					Actions: []Action{
						{
							Action:        action,
							SoftwareAgent: profile.ClaimGenerator,
							When:          when.UTC().Format(time.RFC3339),
						},
					},
				},
			},
			{
				Label: "stds.schema-org.CreativeWork",
				Data: CreativeWorkData{
					Context: "http://schema.org",
					Type:    "CreativeWork",
					Author: []Author{
						{Type: profile.AuthorType, Name: profile.AuthorName},
					},
				},
			},
		},
	}
}

// NewCreated builds the device-side manifest for a freshly captured photo.
func NewCreated(profile Profile, when time.Time) *Manifest {
	return New(profile, "c2pa.created", when)
}

// NewPublished builds the gateway-side manifest for a republished photo.
func NewPublished(profile Profile, when time.Time) *Manifest {
	return New(profile, "c2pa.published", when)
}

// Encode serializes the manifest to JSON. Field order follows the struct
// definitions, so encoding is byte-reproducible for a fixed timestamp.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("could not encode manifest: %w", err)
	}
	return data, nil
}
