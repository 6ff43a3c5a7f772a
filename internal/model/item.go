package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Collection names served by the control service.
const (
	CollectionProfiles  = "profiles"
	CollectionSequences = "sequences"
)

// Reserved keys of an item's data object; every other numeric key is a parameter.
const (
	fieldName        = "name"
	fieldDescription = "description"
	fieldIsActive    = "isActive"
	fieldCreated     = "created"
)

// DefaultParams lists the numeric parameters profiles and sequences carry.
var DefaultParams = []string{"wpm", "wpmVariation", "keyDuration", "keyDurationVariation"}

// Item is a profile or a sequence. ID is assigned by the service and is
// independent of the item's position in its collection.
type Item struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
	Created     string
	Params      map[string]float64
}

// Fields flattens the item into the data object sent to the service.
// Created is owned by the service and never sent.
func (it Item) Fields() map[string]any {
	out := make(map[string]any, len(it.Params)+3)
	for k, v := range it.Params {
		out[k] = v
	}
	out[fieldName] = it.Name
	out[fieldIsActive] = it.IsActive
	if it.Description != "" {
		out[fieldDescription] = it.Description
	}
	return out
}

// Clone returns a deep copy so callers can't alias Params.
func (it Item) Clone() Item {
	c := it
	if it.Params != nil {
		c.Params = make(map[string]float64, len(it.Params))
		for k, v := range it.Params {
			c.Params[k] = v
		}
	}
	return c
}

// DecodeItem builds an Item from the wire data object. Unknown non-numeric
// keys are ignored.
func DecodeItem(id string, data json.RawMessage) (Item, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Item{}, fmt.Errorf("decode item %s: %w", id, err)
	}
	it := Item{ID: id, Params: map[string]float64{}}
	for k, v := range raw {
		var err error
		switch k {
		case fieldName:
			err = json.Unmarshal(v, &it.Name)
		case fieldDescription:
			err = json.Unmarshal(v, &it.Description)
		case fieldIsActive:
			err = json.Unmarshal(v, &it.IsActive)
		case fieldCreated:
			err = json.Unmarshal(v, &it.Created)
		default:
			var f float64
			if json.Unmarshal(v, &f) == nil {
				it.Params[k] = f
			}
		}
		if err != nil {
			return Item{}, fmt.Errorf("decode item %s field %s: %w", id, k, err)
		}
	}
	return it, nil
}

// ActiveIDs returns the ids of every active item, in collection order.
func ActiveIDs(items []Item) []string {
	var out []string
	for _, it := range items {
		if it.IsActive {
			out = append(out, it.ID)
		}
	}
	return out
}

// IDs returns the ids of items in order.
func IDs(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

// SortByOrder orders items by the position of their id in order. Items
// missing from order keep their relative order and sort last.
func SortByOrder(items []Item, order []string) {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	rank := func(id string) int {
		if p, ok := pos[id]; ok {
			return p
		}
		return len(order)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return rank(items[i].ID) < rank(items[j].ID)
	})
}
