package bookings

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jacentio/innkeeper/store"
)

const maxTagName = 50

// Tag is a label put on guests, such as "late-arrival".
type Tag struct {
	ID   int
	name string
}

// NewTag validates name and returns an unsaved tag.
func NewTag(name string) (*Tag, error) {
	t := &Tag{}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.NewValidationError("Tag", "Name", name, "name is required")
	}
	if utf8.RuneCountInString(name) > maxTagName {
		return nil, store.NewValidationError("Tag", "Name", name, "name is longer than %d characters", maxTagName)
	}
	t.name = name
	return t, nil
}

// Name returns the tag label.
func (t *Tag) Name() string { return t.name }

// GuestTag links a guest to a tag. The pair is the key, so a guest carries
// a tag at most once. Both sides need keys before they can be linked.
type GuestTag struct {
	GuestID uuid.UUID
	TagID   int

	Guest store.Ref[*Guest]
	Tag   store.Ref[*Tag]
}

// NewGuestTag links guest to tag.
func NewGuestTag(guest *Guest, tag *Tag) (*GuestTag, error) {
	if guest.ID == uuid.Nil || tag.ID == 0 {
		return nil, store.NewValidationError("GuestTag", "TagID", tag.ID, "guest and tag must be saved before they are linked")
	}
	gt := &GuestTag{GuestID: guest.ID, TagID: tag.ID}
	gt.Guest.Set(guest)
	gt.Tag.Set(tag)
	return gt, nil
}

func tagKinds() []store.Definition {
	tag := store.Entity[Tag]("Tag").
		Key(store.Prop("ID", func(t *Tag) int { return t.ID }, func(t *Tag, v int) { t.ID = v })).
		Props(store.Prop("Name", (*Tag).Name, func(t *Tag, v string) { t.name = v }).MaxLen(maxTagName)).
		Sequence("tag_seq")

	guestTag := store.Entity[GuestTag]("GuestTag").
		CompositeKey(
			store.Prop("GuestID", func(g *GuestTag) uuid.UUID { return g.GuestID }, func(g *GuestTag, v uuid.UUID) { g.GuestID = v }),
			store.Prop("TagID", func(g *GuestTag) int { return g.TagID }, func(g *GuestTag, v int) { g.TagID = v }),
		).
		References("GuestID", "Guest").
		References("TagID", "Tag").
		HasOne("Guest", "Guest", "GuestID", func(g *GuestTag) store.Navigator { return &g.Guest }).
		HasOne("Tag", "Tag", "TagID", func(g *GuestTag) store.Navigator { return &g.Tag })
	return []store.Definition{tag, guestTag}
}
