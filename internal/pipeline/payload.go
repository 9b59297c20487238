// Package pipeline turns a natural-language generation request into a
// validated, moderator-approved, and atomically-applied game entity.
//
// Flow: a domain manager starts a request → [PromptBuilder] + [Generator]
// produce raw output → [Validator] normalizes and checks it → the request
// enters the [Gate] pending a moderator decision → on approval the
// [Transactor] commits the content into the live game data inside one
// guild-scoped transaction.
//
// Every status transition is written through the generation request store
// before the next step proceeds; the store is the single source of truth.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
)

// Payload is validated, normalized generator output. There is exactly one
// variant per request type, carried in the request's parsed_data column.
type Payload interface {
	// Type returns the request type this payload belongs to.
	Type() genreq.Type

	// Summary returns a short human-readable digest, used for moderation
	// notifications and the similarity index.
	Summary() string
}

// NPCProfile is the payload variant for [genreq.TypeNPCProfile].
type NPCProfile struct {
	Name        string         `json:"name"`
	Persona     string         `json:"persona"`
	Disposition string         `json:"disposition,omitempty"`
	LocationID  string         `json:"location_id,omitempty"`
	Stats       map[string]int `json:"stats,omitempty"`
}

// Type implements [Payload].
func (NPCProfile) Type() genreq.Type { return genreq.TypeNPCProfile }

// Summary implements [Payload].
func (p NPCProfile) Summary() string {
	return "NPC " + p.Name + ": " + truncate(p.Persona, 200)
}

// NPCSeed is a minimal NPC shipped as part of generated location content.
type NPCSeed struct {
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

// LocationContent is the payload variant for [genreq.TypeLocationContent]:
// a location plus the NPCs that populate it.
type LocationContent struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Region      string    `json:"region,omitempty"`
	Exits       []string  `json:"exits,omitempty"`
	Residents   []NPCSeed `json:"residents,omitempty"`
}

// Type implements [Payload].
func (LocationContent) Type() genreq.Type { return genreq.TypeLocationContent }

// Summary implements [Payload].
func (p LocationContent) Summary() string {
	return "Location " + p.Name + ": " + truncate(p.Description, 200)
}

// QuestStep is one ordered step of a generated quest.
type QuestStep struct {
	Title      string `json:"title"`
	Goal       string `json:"goal"`
	LocationID string `json:"location_id,omitempty"`
}

// Quest is the payload variant for [genreq.TypeQuest].
type Quest struct {
	Title      string      `json:"title"`
	Synopsis   string      `json:"synopsis"`
	GiverNPCID string      `json:"giver_npc_id,omitempty"`
	Steps      []QuestStep `json:"steps"`
}

// Type implements [Payload].
func (Quest) Type() genreq.Type { return genreq.TypeQuest }

// Summary implements [Payload].
func (p Quest) Summary() string {
	return "Quest " + p.Title + ": " + truncate(p.Synopsis, 200)
}

// EncodePayload serialises a payload for the parsed_data column.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode %s payload: %w", p.Type(), err)
	}
	return data, nil
}

// DecodePayload deserialises a parsed_data column back into the variant for
// the given request type.
func DecodePayload(typ genreq.Type, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch typ {
	case genreq.TypeNPCProfile:
		var v NPCProfile
		err = json.Unmarshal(data, &v)
		p = v
	case genreq.TypeLocationContent:
		var v LocationContent
		err = json.Unmarshal(data, &v)
		p = v
	case genreq.TypeQuest:
		var v Quest
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("pipeline: unknown request type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode %s payload: %w", typ, err)
	}
	return p, nil
}

// truncate shortens s to at most n bytes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}
