package pipeline

import (
	"strings"
	"testing"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
)

func issueKinds(issues []genreq.Issue) []genreq.IssueKind {
	out := make([]genreq.IssueKind, len(issues))
	for i, is := range issues {
		out[i] = is.Kind
	}
	return out
}

func hasKind(issues []genreq.Issue, kind genreq.IssueKind) bool {
	for _, i := range issues {
		if i.Kind == kind {
			return true
		}
	}
	return false
}

func TestValidator_NPCProfile(t *testing.T) {
	t.Parallel()
	v := NewValidator()

	t.Run("clean", func(t *testing.T) {
		t.Parallel()
		res := v.Validate(`{"name":"Vex","persona":"A dockside informant with a debt."}`,
			genreq.TypeNPCProfile, KnownIDs{})

		if res.Payload == nil {
			t.Fatalf("payload nil, issues: %v", res.Issues)
		}
		p, ok := res.Payload.(NPCProfile)
		if !ok {
			t.Fatalf("payload type %T", res.Payload)
		}
		if p.Name != "Vex" {
			t.Errorf("name = %q", p.Name)
		}
		if len(res.Issues) != 0 {
			t.Errorf("issues = %v, want none", res.Issues)
		}
		if res.RequiresModeration {
			t.Error("clean payload flagged for extra moderation attention")
		}
	})

	t.Run("tolerates fences and prose", func(t *testing.T) {
		t.Parallel()
		raw := "Sure! Here is your NPC:\n```json\n{\"name\":\"Vex\",\"persona\":\"An informant.\"}\n```\nLet me know if you need more."
		res := v.Validate(raw, genreq.TypeNPCProfile, KnownIDs{})
		if res.Payload == nil {
			t.Fatalf("payload nil, issues: %v", res.Issues)
		}
	})

	t.Run("missing required field blocks", func(t *testing.T) {
		t.Parallel()
		res := v.Validate(`{"name":"Vex"}`, genreq.TypeNPCProfile, KnownIDs{})

		if res.Payload != nil {
			t.Error("payload returned despite blocking issue")
		}
		if !hasKind(res.Issues, genreq.KindMissingField) {
			t.Errorf("issues = %v, want missing_field", issueKinds(res.Issues))
		}
	})

	t.Run("no JSON at all", func(t *testing.T) {
		t.Parallel()
		res := v.Validate("I am sorry, I cannot help with that.", genreq.TypeNPCProfile, KnownIDs{})

		if res.Payload != nil {
			t.Error("payload returned for unparsable output")
		}
		if len(res.Issues) != 1 || res.Issues[0].Kind != genreq.KindParse {
			t.Errorf("issues = %v, want a single parse issue", res.Issues)
		}
	})

	t.Run("known location reference accepted", func(t *testing.T) {
		t.Parallel()
		res := v.Validate(`{"name":"Vex","persona":"An informant.","location_id":"loc-harbor"}`,
			genreq.TypeNPCProfile, KnownIDs{Locations: []string{"loc-harbor"}})
		if res.Payload == nil || len(res.Issues) != 0 {
			t.Errorf("payload=%v issues=%v", res.Payload, res.Issues)
		}
	})

	t.Run("near-miss reference auto-corrected", func(t *testing.T) {
		t.Parallel()
		res := v.Validate(`{"name":"Vex","persona":"An informant.","location_id":"loc-harbour"}`,
			genreq.TypeNPCProfile, KnownIDs{Locations: []string{"loc-harbor", "loc-citadel"}})

		if res.Payload == nil {
			t.Fatalf("payload nil, issues: %v", res.Issues)
		}
		p := res.Payload.(NPCProfile)
		if p.LocationID != "loc-harbor" {
			t.Errorf("location_id = %q, want auto-corrected loc-harbor", p.LocationID)
		}
		if !hasKind(res.Issues, genreq.KindAutoCorrected) {
			t.Errorf("issues = %v, want auto_corrected", issueKinds(res.Issues))
		}
	})

	t.Run("far-off reference is a warning not a failure", func(t *testing.T) {
		t.Parallel()
		res := v.Validate(`{"name":"Vex","persona":"An informant.","location_id":"the-moon"}`,
			genreq.TypeNPCProfile, KnownIDs{Locations: []string{"loc-harbor"}})

		if res.Payload == nil {
			t.Fatal("unknown reference blocked the payload")
		}
		if !hasKind(res.Issues, genreq.KindUnknownReference) {
			t.Errorf("issues = %v, want unknown_reference", issueKinds(res.Issues))
		}
	})
}

func TestValidator_Quest(t *testing.T) {
	t.Parallel()
	v := NewValidator()

	t.Run("steps required", func(t *testing.T) {
		t.Parallel()
		res := v.Validate(`{"title":"The Debt","synopsis":"Collect what is owed.","steps":[]}`,
			genreq.TypeQuest, KnownIDs{})
		if res.Payload != nil {
			t.Error("quest without steps passed")
		}
		if !hasKind(res.Issues, genreq.KindMissingField) {
			t.Errorf("issues = %v", issueKinds(res.Issues))
		}
	})

	t.Run("step references checked", func(t *testing.T) {
		t.Parallel()
		raw := `{"title":"The Debt","synopsis":"Collect what is owed.",
			"giver_npc_id":"npc-vex",
			"steps":[{"title":"Ask around","goal":"Find the debtor","location_id":"loc-harbr"}]}`
		res := v.Validate(raw, genreq.TypeQuest, KnownIDs{
			Locations: []string{"loc-harbor"},
			NPCs:      []string{"npc-vex"},
		})

		if res.Payload == nil {
			t.Fatalf("payload nil, issues: %v", res.Issues)
		}
		q := res.Payload.(Quest)
		if q.Steps[0].LocationID != "loc-harbor" {
			t.Errorf("step location = %q, want auto-corrected loc-harbor", q.Steps[0].LocationID)
		}
		if q.GiverNPCID != "npc-vex" {
			t.Errorf("giver = %q", q.GiverNPCID)
		}
	})
}

func TestValidator_LocationContent(t *testing.T) {
	t.Parallel()
	v := NewValidator()

	res := v.Validate(`{"name":"The Sunken Quarter","description":"Flooded streets.",
		"residents":[{"name":"Mirl","persona":"A ferryman."},{"name":"","persona":"x"}]}`,
		genreq.TypeLocationContent, KnownIDs{})

	if res.Payload != nil {
		t.Error("resident without a name passed")
	}
	if !hasKind(res.Issues, genreq.KindMissingField) {
		t.Errorf("issues = %v", issueKinds(res.Issues))
	}
}

func TestValidator_FlaggedContent(t *testing.T) {
	t.Parallel()
	v := NewValidator(WithFlagTerms([]string{"ritual sacrifice"}))

	res := v.Validate(`{"name":"Korr","persona":"A priest who survived a ritual sacrifice."}`,
		genreq.TypeNPCProfile, KnownIDs{})

	if res.Payload == nil {
		t.Fatal("flagged content blocked the payload; it should proceed to moderation")
	}
	if !res.RequiresModeration {
		t.Error("RequiresModeration = false")
	}
	if !hasKind(res.Issues, genreq.KindFlaggedContent) {
		t.Errorf("issues = %v, want flagged_content", issueKinds(res.Issues))
	}
}

func TestValidator_UnknownType(t *testing.T) {
	t.Parallel()
	v := NewValidator()

	res := v.Validate(`{"name":"x"}`, genreq.Type("BOGUS"), KnownIDs{})
	if res.Payload != nil || len(res.Issues) == 0 {
		t.Errorf("payload=%v issues=%v", res.Payload, res.Issues)
	}
	if !strings.Contains(res.Issues[0].Message, "BOGUS") {
		t.Errorf("message %q does not name the type", res.Issues[0].Message)
	}
}
