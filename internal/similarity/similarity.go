// Package similarity indexes approved generated content so moderators can
// spot near-duplicates of a pending payload before approving it.
//
// The index is a best-effort aid: failures to embed or index never block the
// generation pipeline, they are logged by the caller and skipped.
package similarity

import (
	"context"
)

// Entry is one piece of approved content in the index.
type Entry struct {
	// RequestID is the generation request that produced the content.
	RequestID string

	// GuildID scopes the entry; searches never cross guilds.
	GuildID string

	// Summary is the short text that was embedded (typically name plus
	// description of the generated entity).
	Summary string
}

// Match is one search result, most similar first.
type Match struct {
	Entry

	// Score is cosine similarity in [-1, 1]; 1 is identical direction.
	Score float64
}

// Index stores embedded summaries of approved content and searches them by
// semantic similarity. Implementations must be safe for concurrent use.
type Index interface {
	// Add embeds and stores the entry. Re-adding the same request ID
	// replaces the stored entry.
	Add(ctx context.Context, e Entry) error

	// Search returns the topK entries in the guild most similar to text.
	Search(ctx context.Context, guildID, text string, topK int) ([]Match, error)
}
