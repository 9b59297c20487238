package world

import (
	"slices"
	"testing"
)

func loc(guildID, id, name string) Location {
	return Location{ID: id, GuildID: guildID, Name: name}
}

func TestCache_PutGet(t *testing.T) {
	t.Parallel()
	c := NewCache[Location]()

	c.Put(loc("g1", "l1", "Harbor"))

	got, ok := c.Get("g1", "l1")
	if !ok {
		t.Fatal("Get returned false for a stored entity")
	}
	if got.Name != "Harbor" {
		t.Errorf("Name = %q, want Harbor", got.Name)
	}

	if _, ok := c.Get("g1", "missing"); ok {
		t.Error("Get returned true for an absent ID")
	}
}

func TestCache_GuildIsolation(t *testing.T) {
	t.Parallel()
	c := NewCache[Location]()

	c.Put(loc("g1", "l1", "Harbor"))
	c.Put(loc("g2", "l1", "Citadel"))

	g1, _ := c.Get("g1", "l1")
	g2, _ := c.Get("g2", "l1")
	if g1.Name == g2.Name {
		t.Fatal("same ID in different guilds collided")
	}

	c.Remove("g1", "l1")
	if _, ok := c.Get("g2", "l1"); !ok {
		t.Error("removing from g1 affected g2")
	}
	if _, ok := c.Get("g1", "l1"); ok {
		t.Error("entity still present after Remove")
	}
}

func TestCache_AllAndLen(t *testing.T) {
	t.Parallel()
	c := NewCache[Location]()

	c.Put(loc("g1", "l1", "Harbor"))
	c.Put(loc("g1", "l2", "Citadel"))
	c.Put(loc("g2", "l3", "Mire"))

	if got := c.Len("g1"); got != 2 {
		t.Errorf("Len(g1) = %d, want 2", got)
	}
	if got := len(c.All("g2")); got != 1 {
		t.Errorf("len(All(g2)) = %d, want 1", got)
	}
	if got := len(c.All("unknown")); got != 0 {
		t.Errorf("len(All(unknown)) = %d, want 0", got)
	}
}

func TestCache_Clear(t *testing.T) {
	t.Parallel()
	c := NewCache[Location]()

	c.Put(loc("g1", "l1", "Harbor"))
	c.Put(loc("g2", "l2", "Citadel"))

	c.Clear("g1")

	if c.Len("g1") != 0 {
		t.Error("Clear left entities behind")
	}
	if c.Len("g2") != 1 {
		t.Error("Clear affected another guild")
	}
}

func TestCache_Guilds(t *testing.T) {
	t.Parallel()
	c := NewCache[Location]()

	c.Put(loc("g1", "l1", "Harbor"))
	c.Put(loc("g2", "l2", "Citadel"))

	got := c.Guilds()
	slices.Sort(got)
	want := []string{"g1", "g2"}
	if !slices.Equal(got, want) {
		t.Errorf("Guilds() = %v, want %v", got, want)
	}
}
