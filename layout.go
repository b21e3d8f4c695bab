package main

import (
	"image"
	"math"
)

//---------------- Layout Presets ----------------

// LayoutSlot is one logical region inside a layout grid. Colspan and Rowspan
// are spans over grid cells, not pixels; a slot covering the whole layout uses
// the same values as the preset's column and row counts.
type LayoutSlot struct {
	Key     string
	Colspan int
	Rowspan int
}

// LayoutPreset is a declarative layout option a provider can render. Slots are
// ordered: declaration order is the placement priority during packing. The
// Compact flag marks denser presets meant for smaller panels.
type LayoutPreset struct {
	Name        string
	Columns     int
	Rows        int
	Slots       []LayoutSlot
	Description string
	Compact     bool
}

// DefaultLayouts are the stock presets providers can pick from by name.
var DefaultLayouts = []LayoutPreset{
	{
		Name:        "full",
		Columns:     4,
		Rows:        2,
		Slots:       []LayoutSlot{{Key: "main", Colspan: 4, Rowspan: 2}},
		Description: "Single canvas taking the full display area.",
	},
	{
		Name:    "wide_left",
		Columns: 4,
		Rows:    2,
		Slots: []LayoutSlot{
			{Key: "primary", Colspan: 3, Rowspan: 2},
			{Key: "secondary", Colspan: 1, Rowspan: 2},
		},
		Description: "Large area on the left with a tall sidebar on the right.",
	},
	{
		Name:    "wide_right",
		Columns: 4,
		Rows:    2,
		Slots: []LayoutSlot{
			{Key: "primary", Colspan: 3, Rowspan: 2},
			{Key: "secondary", Colspan: 1, Rowspan: 1},
			{Key: "tertiary", Colspan: 1, Rowspan: 1},
		},
		Description: "Large area on the right with two stacked panels on the left.",
	},
	{
		Name:    "three_column",
		Columns: 3,
		Rows:    2,
		Slots: []LayoutSlot{
			{Key: "a", Colspan: 1, Rowspan: 2},
			{Key: "b", Colspan: 1, Rowspan: 1},
			{Key: "c", Colspan: 1, Rowspan: 1},
			{Key: "d", Colspan: 1, Rowspan: 1},
			{Key: "e", Colspan: 1, Rowspan: 1},
		},
		Description: "Three columns with mixed tall and short cards.",
	},
	{
		Name:    "quads",
		Columns: 2,
		Rows:    2,
		Slots: []LayoutSlot{
			{Key: "top_left", Colspan: 1, Rowspan: 1},
			{Key: "top_right", Colspan: 1, Rowspan: 1},
			{Key: "bottom_left", Colspan: 1, Rowspan: 1},
			{Key: "bottom_right", Colspan: 1, Rowspan: 1},
		},
		Description: "Four even quadrants for equally weighted content.",
	},
	{
		Name:    "compact_quads",
		Columns: 2,
		Rows:    3,
		Slots: []LayoutSlot{
			{Key: "main", Colspan: 2, Rowspan: 1},
			{Key: "bottom_left", Colspan: 1, Rowspan: 1},
			{Key: "bottom_right", Colspan: 1, Rowspan: 1},
			{Key: "footer_left", Colspan: 1, Rowspan: 1},
			{Key: "footer_right", Colspan: 1, Rowspan: 1},
		},
		Description: "Narrow header with stacked compact cards beneath.",
		Compact:     true,
	},
	{
		Name:    "striped_rows",
		Columns: 3,
		Rows:    2,
		Slots: []LayoutSlot{
			{Key: "row1_left", Colspan: 2, Rowspan: 1},
			{Key: "row1_right", Colspan: 1, Rowspan: 1},
			{Key: "row2_left", Colspan: 1, Rowspan: 1},
			{Key: "row2_center", Colspan: 1, Rowspan: 1},
			{Key: "row2_right", Colspan: 1, Rowspan: 1},
		},
		Description: "Mixed stripes with a wide header row and smaller tiles below.",
		Compact:     true,
	},
}

// PresetByName looks a preset up in DefaultLayouts.
func PresetByName(name string) (LayoutPreset, bool) {
	for _, p := range DefaultLayouts {
		if p.Name == name {
			return p, true
		}
	}
	return LayoutPreset{}, false
}

//---------------- Slot Resolution ----------------

// ResolveSlots maps each slot of the preset to a pixel rectangle. Cells are
// fractional (width/columns, height/rows) and slots are packed first-fit in
// declaration order, scanning the grid row-major. A slot whose footprint fits
// nowhere is dropped from the result; callers fall back to the full canvas for
// missing keys. The function is pure: identical inputs yield identical output.
func ResolveSlots(preset LayoutPreset, width, height int) map[string]image.Rectangle {
	placed := make(map[string]image.Rectangle, len(preset.Slots))
	if preset.Columns <= 0 || preset.Rows <= 0 {
		return placed
	}

	cellW := float64(width) / float64(preset.Columns)
	cellH := float64(height) / float64(preset.Rows)
	occupied := make([]bool, preset.Columns*preset.Rows)

	for _, slot := range preset.Slots {
		colspan := slot.Colspan
		rowspan := slot.Rowspan
		if colspan < 1 {
			colspan = 1
		}
		if rowspan < 1 {
			rowspan = 1
		}

		col, row, ok := firstFit(occupied, preset.Columns, preset.Rows, colspan, rowspan)
		if !ok {
			continue // slot dropped, recoverable
		}
		for r := row; r < row+rowspan; r++ {
			for c := col; c < col+colspan; c++ {
				occupied[r*preset.Columns+c] = true
			}
		}

		x0 := int(math.Round(float64(col) * cellW))
		y0 := int(math.Round(float64(row) * cellH))
		x1 := int(math.Round(float64(col+colspan) * cellW))
		y1 := int(math.Round(float64(row+rowspan) * cellH))
		placed[slot.Key] = image.Rect(x0, y0, x1, y1)
	}
	return placed
}

// firstFit scans the occupancy grid top-to-bottom, left-to-right and returns
// the first cell where a colspan x rowspan footprint is entirely free.
func firstFit(occupied []bool, columns, rows, colspan, rowspan int) (int, int, bool) {
	if colspan > columns || rowspan > rows {
		return 0, 0, false
	}
	for row := 0; row+rowspan <= rows; row++ {
		for col := 0; col+colspan <= columns; col++ {
			if footprintFree(occupied, columns, col, row, colspan, rowspan) {
				return col, row, true
			}
		}
	}
	return 0, 0, false
}

func footprintFree(occupied []bool, columns, col, row, colspan, rowspan int) bool {
	for r := row; r < row+rowspan; r++ {
		for c := col; c < col+colspan; c++ {
			if occupied[r*columns+c] {
				return false
			}
		}
	}
	return true
}

// slotRect returns the resolved rectangle for key, or the full canvas when the
// slot was dropped during packing.
func slotRect(regions map[string]image.Rectangle, key string, width, height int) image.Rectangle {
	if r, ok := regions[key]; ok {
		return r
	}
	return image.Rect(0, 0, width, height)
}
