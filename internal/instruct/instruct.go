package instruct

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNoInstruction is returned when no table key is contained in a path.
var ErrNoInstruction = errors.New("no matching instruction")

// Entry maps a path substring to a natural-language instruction.
type Entry struct {
	Key         string `yaml:"key"`
	Instruction string `yaml:"instruction"`
}

// Table is an ordered, immutable instruction table. Keys are matched
// case-sensitively as plain substrings and the first match in table order wins.
type Table struct {
	entries []Entry
}

// NewTable validates entries and returns a table that keeps their order.
func NewTable(entries ...Entry) (*Table, error) {
	if len(entries) == 0 {
		return nil, errors.New("instruction table is empty")
	}

	seen := make(map[string]struct{}, len(entries))
	owned := make([]Entry, 0, len(entries))
	for i, entry := range entries {
		if entry.Key == "" {
			return nil, fmt.Errorf("entry %d: key is required", i)
		}
		if strings.TrimSpace(entry.Instruction) == "" {
			return nil, fmt.Errorf("entry %d (%q): instruction is required", i, entry.Key)
		}
		if _, ok := seen[entry.Key]; ok {
			return nil, fmt.Errorf("entry %d: duplicate key %q", i, entry.Key)
		}
		seen[entry.Key] = struct{}{}
		owned = append(owned, entry)
	}
	return &Table{entries: owned}, nil
}

// Lookup returns the instruction of the first key that appears in path.
func (t *Table) Lookup(path string) (string, error) {
	for _, entry := range t.entries {
		if strings.Contains(path, entry.Key) {
			return entry.Instruction, nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoInstruction, path)
}

// Keys returns the table keys in match order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for _, entry := range t.entries {
		keys = append(keys, entry.Key)
	}
	return keys
}

func (t *Table) Len() int {
	return len(t.entries)
}

// LoadYAML reads an ordered list of entries:
//
//	- key: pick_butter
//	  instruction: Pick up the butter.
func LoadYAML(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruction table %q: %w", path, err)
	}
	var entries []Entry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse instruction table %q: %w", path, err)
	}
	table, err := NewTable(entries...)
	if err != nil {
		return nil, fmt.Errorf("instruction table %q: %w", path, err)
	}
	return table, nil
}

var defaultTable = sync.OnceValue(func() *Table {
	table, err := NewTable(robosetEntries...)
	if err != nil {
		panic(err)
	}
	return table
})

// Default returns the RoboSet instruction table.
func Default() *Table {
	return defaultTable()
}

var robosetEntries = []Entry{
	// teleop
	{"slide_open_drawer", "Open the drawer."},
	{"pick_butter", "Pick up the butter."},
	{"place_butter", "Place the butter on the board."},
	{"slide_close_drawer", "Close the drawer."},
	{"clean_kitchen_slide_close_drawer", "Close the drawer."},
	{"pick_towel", "Pick up the towel."},
	{"pick_bowl", "Pick up the bowl."},
	{"slide_in_bowl", "Put the bowl in the oven."},
	{"open_oven", "Open the oven."},
	{"close_oven", "Close the oven."},
	{"place_lid", "Place the lid on the board."},
	{"pick_tea", "Get a tea bag."},
	{"place_tea", "Put the tea in the cup."},
	{"pick_lid", "Open the lid of the tea container."},
	{"cap_lid", "Put the lid on the tea container."},
	{"plunge_toaster", "Turn on the toaster."},
	{"pick_toast", "Pick up the toast."},
	{"serve_soup_place_bowl", "Put the bowl on the board."},
	{"pick_cup", "Pick up the cup."},
	{"place_cup", "Place the cup in the drawer."},

	// kinesthetic
	{"pick_banana_place_in_mug", "Pick Banana and place it in mug."},
	{"pick_banana_place_in_strainer", "Pick Banana and place it in strainer."},
	{"pick_banana_from_plate_place_on_table", "Pick banana from plate and place on table."},
	{"pick_banana_from_toaster_place_on_table", "Pick banana from oven and place on table."},
	{"pick_banana_place_on_plate", "Pick banana from table and place on plate."},
	{"pick_banana_place_on_toaster", "Pick banana from table and place on oven."},
	{"pick_ketchup_place_in_strainer", "Pick Ketchup from the table and place it in strainer."},
	{"pick_ketchup_place_in_toaster", "Pick Ketchup from the table and place in oven."},
	{"pick_ketchup_from_strainer_place_on_table", "Pick ketchup from strainer and place it on the table"},
	{"pick_ketchup_from_plate_place_on_table", "Pick ketchup from plate and place it on table."},
	{"pick_ketchup_from_toaster_place_on_table", "Pick Ketchup from oven and place it on table."},
	{"pick_ketchup_place_on_plate", "Pick ketchup from table and place on plate."},
	{"pick_ketchup_place_on_toaster", "Pick ketchup from table and place on oven."},
	{"drag_mug_backward", "Drag mug backwards."},
	{"drag_mug_forward", "Drag mug forwards."},
	{"drag_mug_from_left_to_right", "Drag mug left to right."},
	{"drag_mug_from_right_to_left", "Drag mug right to left."},
	{"drag_strainer_backward", "Drag strainer backwards."},
	{"drag_strainer_forward", "Drag strainer forwards."},
	{"drag_strainer_left_to_right", "Drag strainer left to right."},
	{"drag_strainer_right_to_left", "Drag strainer right to left."},
	{"flap_open_toaster_oven", "Flap open oven."},
	{"flap_close_toaster_oven", "Flap close oven."},
}
