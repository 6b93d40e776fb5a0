// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package companion

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Conversation property defaults, applied by ParsePersona when the
// profile omits them.
const (
	defaultMaxCallDuration          = 3600
	defaultParticipantLeftTimeout   = 60
	defaultParticipantAbsentTimeout = 300
	defaultLanguage                 = "english"
)

// Persona describes the companion's conversation profile. The struct
// doubles as the create-conversation request payload: the JSON field
// names are the conversation service's wire names, and persona files
// on disk use the same names. Files are JSONC (JSON extended with //
// line comments, /* block comments */, and trailing commas), so
// profiles can carry operator notes.
type Persona struct {
	// ReplicaID identifies the rendered likeness the conversation
	// runs against. Issued by the conversation service.
	ReplicaID string `json:"replica_id"`

	// PersonaID identifies the behavioral profile. Issued by the
	// conversation service.
	PersonaID string `json:"persona_id"`

	// ConversationName is the base display name for conversations.
	// Each user's conversation is named "<ConversationName>-<user id>"
	// so operators can find it in the service dashboard.
	ConversationName string `json:"conversation_name"`

	// ConversationalContext primes the companion with standing
	// instructions for the conversation.
	ConversationalContext string `json:"conversational_context,omitempty"`

	// CustomGreeting is spoken when the user joins.
	CustomGreeting string `json:"custom_greeting,omitempty"`

	// Properties bound the conversation's runtime behavior.
	Properties Properties `json:"properties"`
}

// Properties are the conversation runtime settings.
type Properties struct {
	// MaxCallDuration caps the call length, in seconds.
	MaxCallDuration int `json:"max_call_duration"`

	// ParticipantLeftTimeout is how long the conversation survives
	// after the participant leaves, in seconds.
	ParticipantLeftTimeout int `json:"participant_left_timeout"`

	// ParticipantAbsentTimeout is how long the conversation waits
	// for a participant who never joins, in seconds.
	ParticipantAbsentTimeout int `json:"participant_absent_timeout"`

	// EnableRecording records the call on the service side. Off
	// unless the profile turns it on.
	EnableRecording bool `json:"enable_recording"`

	// EnableClosedCaptions turns on live captions.
	EnableClosedCaptions bool `json:"enable_closed_captions"`

	// Language is the conversation language, using the service's
	// names (e.g. "english").
	Language string `json:"language"`
}

// Validate checks the persona for errors.
func (p *Persona) Validate() error {
	var errs []error

	if p.ReplicaID == "" {
		errs = append(errs, fmt.Errorf("replica_id is required"))
	}
	if p.PersonaID == "" {
		errs = append(errs, fmt.Errorf("persona_id is required"))
	}
	if p.ConversationName == "" {
		errs = append(errs, fmt.Errorf("conversation_name is required"))
	}
	if p.Properties.MaxCallDuration <= 0 {
		errs = append(errs, fmt.Errorf("properties.max_call_duration must be positive"))
	}
	if p.Properties.ParticipantLeftTimeout <= 0 {
		errs = append(errs, fmt.Errorf("properties.participant_left_timeout must be positive"))
	}
	if p.Properties.ParticipantAbsentTimeout <= 0 {
		errs = append(errs, fmt.Errorf("properties.participant_absent_timeout must be positive"))
	}
	if p.Properties.Language == "" {
		errs = append(errs, fmt.Errorf("properties.language is required"))
	}

	return errors.Join(errs...)
}

// applyDefaults fills in the defaulted fields. Boolean flags have no
// defaults: absent means off.
func (p *Persona) applyDefaults() {
	if p.ConversationName == "" {
		p.ConversationName = "SimAlly Companion"
	}
	if p.Properties.MaxCallDuration == 0 {
		p.Properties.MaxCallDuration = defaultMaxCallDuration
	}
	if p.Properties.ParticipantLeftTimeout == 0 {
		p.Properties.ParticipantLeftTimeout = defaultParticipantLeftTimeout
	}
	if p.Properties.ParticipantAbsentTimeout == 0 {
		p.Properties.ParticipantAbsentTimeout = defaultParticipantAbsentTimeout
	}
	if p.Properties.Language == "" {
		p.Properties.Language = defaultLanguage
	}
}

// ParsePersona strips JSONC comments and trailing commas from data,
// unmarshals the result, applies defaults, and validates.
func ParsePersona(data []byte) (*Persona, error) {
	stripped := jsonc.ToJSON(data)

	var persona Persona
	if err := json.Unmarshal(stripped, &persona); err != nil {
		return nil, fmt.Errorf("parsing persona: %w", err)
	}

	persona.applyDefaults()
	if err := persona.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persona: %w", err)
	}

	return &persona, nil
}

// LoadPersona reads a JSONC persona file from disk and parses it.
func LoadPersona(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	persona, err := ParsePersona(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return persona, nil
}
