// Package genreq tracks content generation requests: one durable record per
// attempt to create game content via the external generator, carried through
// an explicit status state machine from creation to a terminal state.
//
// Records are never deleted — they are the audit trail for everything the
// generator produced, whether it shipped or not. The durable store is the
// single source of truth for a request's status; orchestration code writes
// every transition through before proceeding.
package genreq

import (
	"time"
)

// Type classifies what kind of content a request asks the generator for.
type Type string

const (
	// TypeNPCProfile requests a full NPC profile.
	TypeNPCProfile Type = "NPC_PROFILE"

	// TypeLocationContent requests a location plus resident NPC seeds.
	TypeLocationContent Type = "LOCATION_CONTENT"

	// TypeQuest requests a quest with ordered steps.
	TypeQuest Type = "QUEST"
)

// IsValid reports whether t is a recognised request type.
func (t Type) IsValid() bool {
	switch t {
	case TypeNPCProfile, TypeLocationContent, TypeQuest:
		return true
	}
	return false
}

// Status is a request's position in the moderation state machine.
type Status string

const (
	// StatusPendingValidation is the initial state: the generator call is in
	// flight or its output has not been validated yet.
	StatusPendingValidation Status = "PENDING_VALIDATION"

	// StatusFailedGeneration is terminal: the generator call failed or
	// returned no usable output.
	StatusFailedGeneration Status = "FAILED_GENERATION"

	// StatusFailedValidation is terminal: the output parsed but blocking
	// issues were found.
	StatusFailedValidation Status = "FAILED_VALIDATION"

	// StatusPendingModeration means validated content is queued for a
	// moderator decision.
	StatusPendingModeration Status = "PENDING_MODERATION"

	// StatusRejected is terminal: a moderator declined the content. This is
	// an expected outcome, not an error.
	StatusRejected Status = "REJECTED"

	// StatusApproved means a moderator accepted the content; application is
	// still pending.
	StatusApproved Status = "APPROVED"

	// StatusApplied is terminal: the content was committed into the live
	// game data.
	StatusApplied Status = "APPLIED"

	// StatusApplicationFailed is terminal: applying the approved content
	// failed and the transaction was rolled back. The cause is recorded for
	// manual re-drive.
	StatusApplicationFailed Status = "APPLICATION_FAILED"
)

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPendingValidation, StatusFailedGeneration, StatusFailedValidation,
		StatusPendingModeration, StatusRejected, StatusApproved,
		StatusApplied, StatusApplicationFailed:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailedGeneration, StatusFailedValidation, StatusRejected,
		StatusApplied, StatusApplicationFailed:
		return true
	}
	return false
}

// Transition is one permitted status change.
type Transition struct {
	From Status
	To   Status
}

// Transitions is the complete set of permitted status changes. Transitions
// are never skipped or reversed; APPROVED → APPLICATION_FAILED is the one
// terminal correction path.
var Transitions = []Transition{
	{StatusPendingValidation, StatusFailedGeneration},
	{StatusPendingValidation, StatusFailedValidation},
	{StatusPendingValidation, StatusPendingModeration},
	{StatusPendingModeration, StatusRejected},
	{StatusPendingModeration, StatusApproved},
	{StatusApproved, StatusApplied},
	{StatusApproved, StatusApplicationFailed},
}

// CanTransition reports whether from → to is a permitted status change.
func CanTransition(from, to Status) bool {
	for _, t := range Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// IssueKind classifies a validation finding.
type IssueKind string

const (
	// KindGeneration records why the generator call itself failed.
	KindGeneration IssueKind = "generation"

	// KindParse means the raw output could not be parsed at all.
	KindParse IssueKind = "parse"

	// KindMissingField means a required field was absent or empty.
	KindMissingField IssueKind = "missing_field"

	// KindUnknownReference means the payload referenced an ID that does not
	// exist in the guild.
	KindUnknownReference IssueKind = "unknown_reference"

	// KindAutoCorrected means an unknown reference was close enough to a
	// known ID to be rewritten in place.
	KindAutoCorrected IssueKind = "auto_corrected"

	// KindFlaggedContent means the content is structurally valid but
	// contains material a moderator must look at.
	KindFlaggedContent IssueKind = "flagged_content"

	// KindApplication records why applying an approved payload failed.
	KindApplication IssueKind = "application"
)

// Issue is one structured validation or application finding. Location points
// into the payload (e.g. "npc.name", "steps[2].goal").
type Issue struct {
	Location string    `json:"location"`
	Kind     IssueKind `json:"kind"`
	Message  string    `json:"message"`
}

// Blocking reports whether the issue prevents the payload from proceeding to
// moderation.
func (i Issue) Blocking() bool {
	switch i.Kind {
	case KindParse, KindMissingField:
		return true
	}
	return false
}

// Request is one attempt to create content via the generator.
type Request struct {
	ID        string `json:"id"`
	GuildID   string `json:"guild_id"`
	Type      Type   `json:"request_type"`
	Status    Status `json:"status"`
	CreatedBy string `json:"created_by,omitempty"`

	// Params is the opaque structured input handed to the prompt builder,
	// JSON-encoded.
	Params []byte `json:"params,omitempty"`

	// RawOutput is the generator's unmodified response. Empty until the
	// generator call completes.
	RawOutput string `json:"raw_output,omitempty"`

	// ParsedData is the normalized payload, JSON-encoded. Nil until
	// validation succeeds.
	ParsedData []byte `json:"parsed_data,omitempty"`

	// Issues is the ordered list of validation/application findings. Empty
	// on clean success.
	Issues []Issue `json:"validation_issues,omitempty"`

	ModeratorID    string `json:"moderator_id,omitempty"`
	ModeratorNotes string `json:"moderator_notes,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	ModeratedAt time.Time `json:"moderated_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at"`
}
