// Package world defines the guild-scoped game entity model and the in-memory
// bookkeeping every domain manager is built on: a per-guild entity cache and a
// dirty/deleted tracker.
//
// Entities are identified by (guild ID, entity ID). A guild never sees another
// guild's entities — every cache and every tracker set is keyed by guild ID,
// and no operation in this package crosses that boundary.
//
// Nothing in this package performs I/O. Persistence lives in
// [github.com/wardstone-rpg/wardstone/internal/world/persist].
package world

// Kind classifies a game entity.
type Kind string

const (
	// KindLocation represents a place in the game world.
	KindLocation Kind = "location"

	// KindNPC represents a non-player character.
	KindNPC Kind = "npc"

	// KindParty represents a group of player characters acting together.
	KindParty Kind = "party"
)

// IsValid reports whether k is a recognised entity kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindLocation, KindNPC, KindParty:
		return true
	}
	return false
}

// Entity is implemented by every cached game entity.
type Entity interface {
	// EntityID returns the entity's identifier, unique within its guild.
	EntityID() string

	// Guild returns the guild the entity belongs to.
	Guild() string

	// EntityKind returns the entity's [Kind].
	EntityKind() Kind
}

// Location is a place players and NPCs can occupy.
type Location struct {
	ID          string   `json:"id"`
	GuildID     string   `json:"guild_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Region      string   `json:"region,omitempty"`
	Exits       []string `json:"exits,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// EntityID implements [Entity].
func (l Location) EntityID() string { return l.ID }

// Guild implements [Entity].
func (l Location) Guild() string { return l.GuildID }

// EntityKind implements [Entity].
func (l Location) EntityKind() Kind { return KindLocation }

// NPC is a non-player character. LocationID is empty when the NPC is not
// physically placed anywhere (e.g. a narrator voice).
type NPC struct {
	ID          string         `json:"id"`
	GuildID     string         `json:"guild_id"`
	Name        string         `json:"name"`
	Persona     string         `json:"persona"`
	LocationID  string         `json:"location_id,omitempty"`
	Disposition string         `json:"disposition,omitempty"`
	Stats       map[string]int `json:"stats,omitempty"`
}

// EntityID implements [Entity].
func (n NPC) EntityID() string { return n.ID }

// Guild implements [Entity].
func (n NPC) Guild() string { return n.GuildID }

// EntityKind implements [Entity].
func (n NPC) EntityKind() Kind { return KindNPC }

// Party is a group of player characters. Hold is non-empty while a content
// generation request created on the party's behalf is awaiting moderation;
// it carries the request ID so the hold can be released when the request
// reaches a terminal state.
type Party struct {
	ID         string   `json:"id"`
	GuildID    string   `json:"guild_id"`
	Name       string   `json:"name"`
	MemberIDs  []string `json:"member_ids,omitempty"`
	LocationID string   `json:"location_id,omitempty"`
	Hold       string   `json:"hold,omitempty"`
}

// EntityID implements [Entity].
func (p Party) EntityID() string { return p.ID }

// Guild implements [Entity].
func (p Party) Guild() string { return p.GuildID }

// EntityKind implements [Entity].
func (p Party) EntityKind() Kind { return KindParty }
