package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
)

// KnownIDs carries the guild's existing entity IDs so the validator can
// cross-reference what the generator claims to point at.
type KnownIDs struct {
	Locations []string
	NPCs      []string
}

// ValidationResult is the outcome of validating raw generator output.
type ValidationResult struct {
	// Payload is the normalized payload, nil when blocking issues were
	// found.
	Payload Payload

	// Issues is the ordered list of findings, empty on clean success.
	Issues []genreq.Issue

	// RequiresModeration reports that the payload contains flagged or
	// ambiguous content a moderator must see, even if structurally valid.
	// This is distinct from invalid: the payload still proceeds to
	// moderation rather than being dropped.
	RequiresModeration bool
}

// Validator parses and schema-checks raw generator output into a typed
// [Payload]. Unknown references are downgraded to auto-corrections or
// warnings rather than hard failures, so otherwise-usable content is not
// discarded; only unparsable output and missing required fields block.
type Validator struct {
	flagTerms      []string
	fuzzyThreshold float64
}

// defaultFlagTerms is content that always routes to a moderator's attention
// regardless of structural validity.
var defaultFlagTerms = []string{
	"suicide", "self-harm", "torture", "slur", "explicit",
}

// ValidatorOption configures a [Validator].
type ValidatorOption func(*Validator)

// WithFlagTerms replaces the default flagged-content term list.
func WithFlagTerms(terms []string) ValidatorOption {
	return func(v *Validator) { v.flagTerms = terms }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler similarity for an unknown
// reference to be auto-corrected to its nearest known ID. Default 0.88.
func WithFuzzyThreshold(t float64) ValidatorOption {
	return func(v *Validator) { v.fuzzyThreshold = t }
}

// NewValidator creates a [Validator].
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		flagTerms:      defaultFlagTerms,
		fuzzyThreshold: 0.88,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate parses raw into the payload variant for typ and checks it against
// the expected shape and the guild's known IDs.
func (v *Validator) Validate(raw string, typ genreq.Type, known KnownIDs) ValidationResult {
	doc, ok := extractJSON(raw)
	if !ok {
		return ValidationResult{Issues: []genreq.Issue{{
			Location: "raw_output",
			Kind:     genreq.KindParse,
			Message:  "no JSON object found in generator output",
		}}}
	}

	var (
		payload Payload
		issues  []genreq.Issue
	)
	switch typ {
	case genreq.TypeNPCProfile:
		var p NPCProfile
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return parseFailure(err)
		}
		issues = v.checkNPCProfile(&p, known)
		payload = p
	case genreq.TypeLocationContent:
		var p LocationContent
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return parseFailure(err)
		}
		issues = v.checkLocationContent(&p)
		payload = p
	case genreq.TypeQuest:
		var p Quest
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return parseFailure(err)
		}
		issues = v.checkQuest(&p, known)
		payload = p
	default:
		return ValidationResult{Issues: []genreq.Issue{{
			Location: "request_type",
			Kind:     genreq.KindParse,
			Message:  fmt.Sprintf("unknown request type %q", typ),
		}}}
	}

	for _, i := range issues {
		if i.Blocking() {
			return ValidationResult{Issues: issues}
		}
	}

	flagged := v.flagContent(doc)
	issues = append(issues, flagged...)

	return ValidationResult{
		Payload:            payload,
		Issues:             issues,
		RequiresModeration: len(flagged) > 0,
	}
}

func (v *Validator) checkNPCProfile(p *NPCProfile, known KnownIDs) []genreq.Issue {
	var issues []genreq.Issue
	issues = appendRequired(issues, "name", p.Name)
	issues = appendRequired(issues, "persona", p.Persona)
	if p.LocationID != "" {
		issues = v.checkReference(issues, "location_id", &p.LocationID, known.Locations)
	}
	return issues
}

func (v *Validator) checkLocationContent(p *LocationContent) []genreq.Issue {
	var issues []genreq.Issue
	issues = appendRequired(issues, "name", p.Name)
	issues = appendRequired(issues, "description", p.Description)
	for i, r := range p.Residents {
		issues = appendRequired(issues, fmt.Sprintf("residents[%d].name", i), r.Name)
	}
	return issues
}

func (v *Validator) checkQuest(p *Quest, known KnownIDs) []genreq.Issue {
	var issues []genreq.Issue
	issues = appendRequired(issues, "title", p.Title)
	issues = appendRequired(issues, "synopsis", p.Synopsis)
	if len(p.Steps) == 0 {
		issues = append(issues, genreq.Issue{
			Location: "steps",
			Kind:     genreq.KindMissingField,
			Message:  "a quest needs at least one step",
		})
	}
	for i := range p.Steps {
		loc := fmt.Sprintf("steps[%d]", i)
		issues = appendRequired(issues, loc+".title", p.Steps[i].Title)
		issues = appendRequired(issues, loc+".goal", p.Steps[i].Goal)
		if p.Steps[i].LocationID != "" {
			issues = v.checkReference(issues, loc+".location_id", &p.Steps[i].LocationID, known.Locations)
		}
	}
	if p.GiverNPCID != "" {
		issues = v.checkReference(issues, "giver_npc_id", &p.GiverNPCID, known.NPCs)
	}
	return issues
}

// checkReference verifies that *ref is a known ID. An unknown reference that
// is close enough to a known ID is rewritten in place and reported as an
// auto-correction; otherwise it is downgraded to a warning, never a hard
// failure.
func (v *Validator) checkReference(issues []genreq.Issue, location string, ref *string, knownIDs []string) []genreq.Issue {
	for _, id := range knownIDs {
		if id == *ref {
			return issues
		}
	}

	best, score := "", 0.0
	for _, id := range knownIDs {
		if s := matchr.JaroWinkler(strings.ToLower(*ref), strings.ToLower(id), false); s > score {
			best, score = id, s
		}
	}
	if best != "" && score >= v.fuzzyThreshold {
		issues = append(issues, genreq.Issue{
			Location: location,
			Kind:     genreq.KindAutoCorrected,
			Message:  fmt.Sprintf("%q corrected to known id %q", *ref, best),
		})
		*ref = best
		return issues
	}

	return append(issues, genreq.Issue{
		Location: location,
		Kind:     genreq.KindUnknownReference,
		Message:  fmt.Sprintf("%q does not match any existing id", *ref),
	})
}

// flagContent scans the whole document for terms that require a moderator's
// attention.
func (v *Validator) flagContent(doc string) []genreq.Issue {
	lower := strings.ToLower(doc)
	var issues []genreq.Issue
	for _, term := range v.flagTerms {
		if strings.Contains(lower, term) {
			issues = append(issues, genreq.Issue{
				Location: "content",
				Kind:     genreq.KindFlaggedContent,
				Message:  fmt.Sprintf("contains flagged term %q", term),
			})
		}
	}
	return issues
}

func appendRequired(issues []genreq.Issue, location, value string) []genreq.Issue {
	if strings.TrimSpace(value) != "" {
		return issues
	}
	return append(issues, genreq.Issue{
		Location: location,
		Kind:     genreq.KindMissingField,
		Message:  location + " is required",
	})
}

func parseFailure(err error) ValidationResult {
	return ValidationResult{Issues: []genreq.Issue{{
		Location: "raw_output",
		Kind:     genreq.KindParse,
		Message:  "generator output is not valid JSON: " + err.Error(),
	}}}
}

// extractJSON pulls the first JSON object out of raw, tolerating markdown
// fences and prose around it. Models occasionally wrap the object despite
// instructions not to.
func extractJSON(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
