package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
)

// Prompt is the structured input handed to the [Generator].
type Prompt struct {
	// System is the high-priority instruction framing the model's role and
	// the required output shape.
	System string

	// User is the request-specific ask.
	User string
}

// PromptBuilder turns a generation request into a [Prompt]. Implementations
// must be safe for concurrent use.
type PromptBuilder interface {
	Build(guildID string, typ genreq.Type, params map[string]any) (Prompt, error)
}

// Compile-time interface check.
var _ PromptBuilder = (*TemplateBuilder)(nil)

// TemplateBuilder is the default [PromptBuilder]. It frames the model as a
// game-master assistant and demands a single strict JSON object matching the
// payload variant for the request type.
type TemplateBuilder struct{}

const systemPreamble = `You are a worldbuilding assistant for a text-based
fantasy RPG. Respond with a single JSON object and nothing else: no prose,
no markdown fences, no commentary.`

// shapeHints describes the expected JSON object per request type.
var shapeHints = map[genreq.Type]string{
	genreq.TypeNPCProfile: `{"name": string, "persona": string,
"disposition": one of "friendly"|"neutral"|"hostile",
"location_id": existing location id or "",
"stats": object of string to integer}`,
	genreq.TypeLocationContent: `{"name": string, "description": string,
"region": string, "exits": array of location names,
"residents": array of {"name": string, "persona": string}}`,
	genreq.TypeQuest: `{"title": string, "synopsis": string,
"giver_npc_id": existing npc id or "",
"steps": non-empty array of {"title": string, "goal": string, "location_id": existing location id or ""}}`,
}

// Build implements [PromptBuilder].
func (TemplateBuilder) Build(guildID string, typ genreq.Type, params map[string]any) (Prompt, error) {
	hint, ok := shapeHints[typ]
	if !ok {
		return Prompt{}, fmt.Errorf("pipeline: no prompt template for request type %q", typ)
	}

	var b strings.Builder
	concept, _ := params["concept"].(string)
	if concept == "" {
		return Prompt{}, fmt.Errorf("pipeline: params missing %q", "concept")
	}
	fmt.Fprintf(&b, "Create content for this concept: %s\n", concept)

	// Remaining params become constraints, in stable order.
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "concept" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			return Prompt{}, fmt.Errorf("pipeline: marshal param %q: %w", k, err)
		}
		fmt.Fprintf(&b, "Constraint %s: %s\n", k, v)
	}

	fmt.Fprintf(&b, "\nThe JSON object must have this shape:\n%s\n", hint)

	return Prompt{System: systemPreamble, User: b.String()}, nil
}
