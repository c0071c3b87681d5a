package anki

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"ankiforge/internal/card"
)

// Snapshots flattens every note in deck into a card.Snapshot. Field values
// keep the model's field order.
func (c *Client) Snapshots(ctx context.Context, deck string) ([]card.Snapshot, error) {
	ids, err := c.FindNotes(ctx, fmt.Sprintf("deck:%q", deck))
	if err != nil {
		return nil, fmt.Errorf("find notes in %s: %w", deck, err)
	}
	if len(ids) == 0 {
		return []card.Snapshot{}, nil
	}

	notes, err := c.NotesInfo(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch notes in %s: %w", deck, err)
	}

	snaps := make([]card.Snapshot, 0, len(notes))
	for _, n := range notes {
		snaps = append(snaps, card.Snapshot{
			ID:      strconv.FormatInt(n.NoteID, 10),
			Content: card.FlattenFields(orderedValues(n.Fields)),
			Deck:    deck,
		})
	}
	return snaps, nil
}

func orderedValues(fields map[string]NoteField) []string {
	type kv struct {
		name string
		NoteField
	}
	list := make([]kv, 0, len(fields))
	for name, f := range fields {
		list = append(list, kv{name, f})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Order != list[j].Order {
			return list[i].Order < list[j].Order
		}
		return list[i].name < list[j].name
	})
	values := make([]string, len(list))
	for i, f := range list {
		values[i] = f.Value
	}
	return values
}
