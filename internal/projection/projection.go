// Package projection groups presences into the views dashboards render.
package projection

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/kozaktomas/presence-hub/internal/presence"
)

// Grouping selects how presences are grouped.
type Grouping string

// Grouping values.
const (
	GroupByArea   Grouping = "area"
	GroupByDevice Grouping = "device"
	GroupByPerson Grouping = "person"
)

// ParseGrouping returns the grouping for a query value. Empty means by area.
func ParseGrouping(s string) (Grouping, bool) {
	switch Grouping(s) {
	case "", GroupByArea:
		return GroupByArea, true
	case GroupByDevice:
		return GroupByDevice, true
	case GroupByPerson:
		return GroupByPerson, true
	}
	return "", false
}

// Group is one section of a view, for example everyone currently in the Lobby.
type Group struct {
	Key   string              `json:"key"`
	Label string              `json:"label"`
	Cards []presence.Presence `json:"cards"`
}

// ByArea groups presences by area. A group holds one card per person, the most recent one when
// a person appears more than once in it. Groups are sorted by name with the unassigned group
// last; cards within a group by person.
func ByArea(presences []presence.Presence) []Group {
	return group(presences, func(p presence.Presence) string {
		return p.AreaName()
	}, presence.UnassignedArea)
}

// ByDevice groups presences by device, one card per person within each device.
func ByDevice(presences []presence.Presence) []Group {
	return group(presences, func(p presence.Presence) string {
		return p.DeviceID
	}, "")
}

// ByPerson returns one presence per person sorted by person id.
func ByPerson(presences []presence.Presence) []presence.Presence {
	out := latestPerPerson(presences)
	sortCards(out)
	return out
}

// Project applies a grouping. GroupByPerson yields a single group holding every card.
func Project(g Grouping, presences []presence.Presence) []Group {
	switch g {
	case GroupByDevice:
		return ByDevice(presences)
	case GroupByPerson:
		return []Group{{Key: "all", Label: "Everyone", Cards: ByPerson(presences)}}
	default:
		return ByArea(presences)
	}
}

func latestPerPerson(presences []presence.Presence) []presence.Presence {
	latest := make(map[string]presence.Presence, len(presences))
	for _, p := range presences {
		if cur, ok := latest[p.PersonID]; ok && !p.DetectedAt.After(cur.DetectedAt) {
			continue
		}
		latest[p.PersonID] = p
	}
	out := make([]presence.Presence, 0, len(latest))
	for _, p := range latest {
		out = append(out, p)
	}
	return out
}

func group(presences []presence.Presence, keyOf func(presence.Presence) string, last string) []Group {
	members := make(map[string][]presence.Presence)
	for _, p := range presences {
		key := keyOf(p)
		members[key] = append(members[key], p)
	}
	byKey := make(map[string]*Group, len(members))
	for key, ps := range members {
		byKey[key] = &Group{Key: key, Label: key, Cards: latestPerPerson(ps)}
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	col := collate.New(language.Und, collate.IgnoreCase, collate.Numeric)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == last || keys[j] == last {
			return keys[j] == last && keys[i] != last
		}
		return col.CompareString(keys[i], keys[j]) < 0
	})

	out := make([]Group, 0, len(keys))
	for _, key := range keys {
		g := byKey[key]
		sortCards(g.Cards)
		out = append(out, *g)
	}
	return out
}

func sortCards(cards []presence.Presence) {
	sort.Slice(cards, func(i, j int) bool {
		return cards[i].PersonID < cards[j].PersonID
	})
}
