// Package checkin decomposes Swarm check-in records into relational tables.
package checkin

import (
	"context"
	"fmt"

	"github.com/elonfeng/swarm2sqlite/internal/store"
)

// Record is one raw check-in as decoded from the API or a saved export.
type Record = map[string]any

// NullPolicy decides how absent optional sections show up in checkins.
type NullPolicy string

const (
	// NullAlways writes an explicit null venue, event, sticker or createdBy.
	NullAlways NullPolicy = "always"
	// NullOmit leaves the field out, so its column only appears once some
	// record populates it.
	NullOmit NullPolicy = "omit"
)

// ParseNullPolicy validates a configured policy. Empty means NullAlways.
func ParseNullPolicy(s string) (NullPolicy, error) {
	switch NullPolicy(s) {
	case "", NullAlways:
		return NullAlways, nil
	case NullOmit:
		return NullOmit, nil
	}
	return "", fmt.Errorf("unknown null policy %q (want %q or %q)", s, NullAlways, NullOmit)
}

// Normalizer writes one check-in at a time into a store.
type Normalizer struct {
	nulls NullPolicy
}

// NewNormalizer creates a normalizer. An empty policy means NullAlways.
func NewNormalizer(nulls NullPolicy) *Normalizer {
	if nulls == "" {
		nulls = NullAlways
	}
	return &Normalizer{nulls: nulls}
}

var (
	checkinForeignKeys = []store.ForeignKey{
		{Column: "venue", OtherTable: "venues", OtherColumn: "id"},
		{Column: "source", OtherTable: "sources", OtherColumn: "id"},
	}
	photoForeignKeys = []store.ForeignKey{
		{Column: "user", OtherTable: "users", OtherColumn: "id"},
		{Column: "source", OtherTable: "sources", OtherColumn: "id"},
	}
	postForeignKeys = []store.ForeignKey{
		{Column: "post_source", OtherTable: "post_sources", OtherColumn: "id"},
		{Column: "checkin", OtherTable: "checkins", OtherColumn: "id"},
	}
)

// Normalize decomposes record into venues, categories, events, stickers,
// sources, users, photos, posts and the checkins row itself. The caller's
// record is left untouched.
//
// The checkins row is written once everything it references exists; links to
// companions, likers, photos and posts are written after it, so a failure
// there leaves the checkin without some of them.
func (n *Normalizer) Normalize(ctx context.Context, st store.Store, record Record) error {
	c := clone(record)
	checkinID, ok := c["id"]
	if !ok || checkinID == nil {
		return malformed("checkin has no id")
	}

	venue, ok, err := popMap(c, "venue")
	if err != nil {
		return err
	}
	if ok {
		id, err := n.saveVenue(ctx, st, venue)
		if err != nil {
			return fmt.Errorf("checkin %v: %w", checkinID, err)
		}
		c["venue"] = id
	} else {
		n.absent(c, "venue")
	}

	if _, ok := c["createdBy"]; !ok {
		n.absent(c, "createdBy")
	}

	event, ok, err := popMap(c, "event")
	if err != nil {
		return err
	}
	if ok {
		id, err := n.saveEvent(ctx, st, event)
		if err != nil {
			return fmt.Errorf("checkin %v: %w", checkinID, err)
		}
		c["event"] = id
	} else {
		n.absent(c, "event")
	}

	sticker, ok, err := popMap(c, "sticker")
	if err != nil {
		return err
	}
	if ok {
		id, err := n.saveSticker(ctx, st, sticker)
		if err != nil {
			return fmt.Errorf("checkin %v: %w", checkinID, err)
		}
		c["sticker"] = id
	} else {
		n.absent(c, "sticker")
	}

	if err := setCreated(c); err != nil {
		return fmt.Errorf("checkin %v: %w", checkinID, err)
	}

	if src, ok, err := popMap(c, "source"); err != nil {
		return err
	} else if ok {
		id, err := st.Lookup(ctx, "sources", store.Row(src))
		if err != nil {
			return fmt.Errorf("checkin %v: source: %w", checkinID, err)
		}
		c["source"] = id
	}

	companions, err := objects(c["with"], "with")
	if err != nil {
		return err
	}
	delete(c, "with")

	likers, err := flattenLikes(c)
	if err != nil {
		return err
	}

	var photos []map[string]any
	if p, ok, err := popMap(c, "photos"); err != nil {
		return err
	} else if ok {
		if photos, err = requireObjects(p, "items", "photos"); err != nil {
			return err
		}
	}

	var posts []map[string]any
	if p, ok, err := popMap(c, "posts"); err != nil {
		return err
	} else if ok {
		if posts, err = objects(p["items"], "posts.items"); err != nil {
			return err
		}
	}

	if cb, ok := c["createdBy"].(map[string]any); ok {
		id, err := saveUser(ctx, st, clone(cb))
		if err != nil {
			return fmt.Errorf("checkin %v: createdBy: %w", checkinID, err)
		}
		c["createdBy"] = id
	}

	if comments, ok, err := popMap(c, "comments"); err != nil {
		return err
	} else if ok {
		count, ok := comments["count"]
		if !ok {
			return malformed("checkin %v: comments has no count", checkinID)
		}
		c["comments_count"] = count
	}

	_, err = st.Insert(ctx, "checkins", store.Row(c), store.InsertOpts{
		PK:          "id",
		ForeignKeys: presentForeignKeys(c, checkinForeignKeys),
		Alter:       true,
		Replace:     true,
	})
	if err != nil {
		return fmt.Errorf("save checkin %v: %w", checkinID, err)
	}

	for _, user := range companions {
		cleanupUser(user)
		if err := st.M2M(ctx, "checkins", checkinID, "users", store.Row(user), store.M2MOpts{JoinTable: "with", PK: "id"}); err != nil {
			return fmt.Errorf("checkin %v: with: %w", checkinID, err)
		}
	}
	for _, user := range likers {
		cleanupUser(user)
		if err := st.M2M(ctx, "checkins", checkinID, "users", store.Row(user), store.M2MOpts{JoinTable: "likes", PK: "id"}); err != nil {
			return fmt.Errorf("checkin %v: likes: %w", checkinID, err)
		}
	}

	for _, photo := range photos {
		if err := savePhoto(ctx, st, photo); err != nil {
			return fmt.Errorf("checkin %v: %w", checkinID, err)
		}
	}
	for _, post := range posts {
		if err := savePost(ctx, st, post, checkinID); err != nil {
			return fmt.Errorf("checkin %v: %w", checkinID, err)
		}
	}
	return nil
}

func (n *Normalizer) absent(c map[string]any, key string) {
	if n.nulls == NullOmit {
		delete(c, key)
		return
	}
	c[key] = nil
}

func (n *Normalizer) saveVenue(ctx context.Context, st store.Store, venue map[string]any) (any, error) {
	if venue["id"] == nil {
		return nil, malformed("venue has no id")
	}
	categories, err := requireObjects(venue, "categories", "venue")
	if err != nil {
		return nil, err
	}
	location, err := requireMap(venue, "location", "venue")
	if err != nil {
		return nil, err
	}
	for k, v := range location {
		venue[k] = v
	}
	delete(venue, "labeledLatLngs")
	rename(venue, "lat", "latitude")
	rename(venue, "lng", "longitude")

	id, err := st.Insert(ctx, "venues", store.Row(venue), store.InsertOpts{PK: "id", Alter: true, Replace: true})
	if err != nil {
		return nil, fmt.Errorf("save venue %v: %w", venue["id"], err)
	}
	if err := linkCategories(ctx, st, "venues", id, categories); err != nil {
		return nil, err
	}
	return id, nil
}

func (n *Normalizer) saveEvent(ctx context.Context, st store.Store, event map[string]any) (any, error) {
	if event["id"] == nil {
		return nil, malformed("event has no id")
	}
	categories, err := requireObjects(event, "categories", "event")
	if err != nil {
		return nil, err
	}
	id, err := st.Insert(ctx, "events", store.Row(event), store.InsertOpts{PK: "id", Alter: true, Replace: true})
	if err != nil {
		return nil, fmt.Errorf("save event %v: %w", event["id"], err)
	}
	if err := linkCategories(ctx, st, "events", id, categories); err != nil {
		return nil, err
	}
	return id, nil
}

func (n *Normalizer) saveSticker(ctx context.Context, st store.Store, sticker map[string]any) (any, error) {
	image, err := requireMap(sticker, "image", "sticker")
	if err != nil {
		return nil, err
	}
	sticker["image_prefix"] = image["prefix"]
	sticker["image_sizes"] = image["sizes"]
	sticker["image_name"] = image["name"]

	id, err := st.Insert(ctx, "stickers", store.Row(sticker), store.InsertOpts{PK: "id", Alter: true, Replace: true})
	if err != nil {
		return nil, fmt.Errorf("save sticker %v: %w", sticker["id"], err)
	}
	return id, nil
}

func linkCategories(ctx context.Context, st store.Store, table string, id any, categories []map[string]any) error {
	for _, category := range categories {
		if err := cleanupCategory(category); err != nil {
			return err
		}
		if err := st.M2M(ctx, table, id, "categories", store.Row(category), store.M2MOpts{PK: "id"}); err != nil {
			return fmt.Errorf("link %s %v to category %v: %w", table, id, category["id"], err)
		}
	}
	return nil
}

// flattenLikes removes the likes section and returns the users of all its
// groups.
func flattenLikes(c map[string]any) ([]map[string]any, error) {
	likes, ok, err := popMap(c, "likes")
	if err != nil || !ok {
		return nil, err
	}
	groups, err := requireObjects(likes, "groups", "likes")
	if err != nil {
		return nil, err
	}
	var users []map[string]any
	for _, group := range groups {
		items, err := requireObjects(group, "items", "likes group")
		if err != nil {
			return nil, err
		}
		users = append(users, items...)
	}
	return users, nil
}

func saveUser(ctx context.Context, st store.Store, user map[string]any) (any, error) {
	if user["id"] == nil {
		return nil, malformed("user has no id")
	}
	cleanupUser(user)
	id, err := st.Insert(ctx, "users", store.Row(user), store.InsertOpts{PK: "id", Alter: true, Replace: true})
	if err != nil {
		return nil, fmt.Errorf("save user %v: %w", user["id"], err)
	}
	return id, nil
}

// savePhoto writes one photo. The photos table does not evolve: a field the
// first photo lacked fails with store.ErrUnknownColumn.
func savePhoto(ctx context.Context, st store.Store, photo map[string]any) error {
	if err := setCreated(photo); err != nil {
		return err
	}
	if src, ok, err := popMap(photo, "source"); err != nil {
		return err
	} else if ok {
		id, err := st.Lookup(ctx, "sources", store.Row(src))
		if err != nil {
			return fmt.Errorf("photo %v: source: %w", photo["id"], err)
		}
		photo["source"] = id
	}
	if user, ok, err := popMap(photo, "user"); err != nil {
		return err
	} else if ok {
		id, err := saveUser(ctx, st, user)
		if err != nil {
			return fmt.Errorf("photo %v: %w", photo["id"], err)
		}
		photo["user"] = id
	}

	_, err := st.Insert(ctx, "photos", store.Row(photo), store.InsertOpts{
		PK:          "id",
		ForeignKeys: presentForeignKeys(photo, photoForeignKeys),
		Replace:     true,
	})
	if err != nil {
		return fmt.Errorf("save photo %v: %w", photo["id"], err)
	}
	return nil
}

// savePost writes one post with its provenance in post_sources. Sources that
// carry their own id are keyed by it; others are deduplicated by content.
func savePost(ctx context.Context, st store.Store, post map[string]any, checkinID any) error {
	if err := setCreated(post); err != nil {
		return err
	}
	if src, ok, err := popMap(post, "source"); err != nil {
		return err
	} else if ok {
		var id any
		if src["id"] != nil {
			id, err = st.Insert(ctx, "post_sources", store.Row(src), store.InsertOpts{PK: "id", Alter: true, Replace: true})
		} else {
			id, err = st.Lookup(ctx, "post_sources", store.Row(src))
		}
		if err != nil {
			return fmt.Errorf("post %v: source: %w", post["id"], err)
		}
		post["post_source"] = id
	}
	post["checkin"] = checkinID

	_, err := st.Insert(ctx, "posts", store.Row(post), store.InsertOpts{
		PK:          "id",
		ForeignKeys: presentForeignKeys(post, postForeignKeys),
		Replace:     true,
	})
	if err != nil {
		return fmt.Errorf("save post %v: %w", post["id"], err)
	}
	return nil
}

// presentForeignKeys keeps the foreign keys whose column the row carries.
func presentForeignKeys(row map[string]any, fks []store.ForeignKey) []store.ForeignKey {
	var out []store.ForeignKey
	for _, fk := range fks {
		if _, ok := row[fk.Column]; ok {
			out = append(out, fk)
		}
	}
	return out
}
