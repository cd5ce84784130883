package model

import (
	"encoding/json"
	"fmt"
)

// CategoryKind decides how the expansion policy treats events of a category.
type CategoryKind int

const (
	// KindManual categories are picked by the user and never expand.
	KindManual CategoryKind = iota
	// KindAutoManaged categories expand into the logistics cascade.
	KindAutoManaged
	// KindSystemGenerated categories tag dependents only.
	KindSystemGenerated
)

func (k CategoryKind) String() string {
	switch k {
	case KindManual:
		return "manual"
	case KindAutoManaged:
		return "auto_managed"
	case KindSystemGenerated:
		return "system"
	}
	return fmt.Sprintf("CategoryKind(%d)", int(k))
}

type Category struct {
	ID    string
	Label string
	Color string
	Icon  string
	Kind  CategoryKind
}

// categoryJSON is the stored shape, which keeps the two flags used by
// existing backups.
type categoryJSON struct {
	ID                string `json:"id"`
	Label             string `json:"label"`
	Color             string `json:"color"`
	Icon              string `json:"icon"`
	HasAutoManagement bool   `json:"hasAutoManagement"`
	IsSystem          bool   `json:"isSystem,omitempty"`
}

func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(categoryJSON{
		ID:                c.ID,
		Label:             c.Label,
		Color:             c.Color,
		Icon:              c.Icon,
		HasAutoManagement: c.Kind == KindAutoManaged,
		IsSystem:          c.Kind == KindSystemGenerated,
	})
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var raw categoryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID = raw.ID
	c.Label = raw.Label
	c.Color = raw.Color
	c.Icon = raw.Icon
	switch {
	case raw.IsSystem:
		c.Kind = KindSystemGenerated
	case raw.HasAutoManagement:
		c.Kind = KindAutoManaged
	default:
		c.Kind = KindManual
	}
	return nil
}

// IsSystem reports whether the category is reserved for dependents.
func (c Category) IsSystem() bool {
	return c.Kind == KindSystemGenerated
}

// DefaultColor is used for events whose type matches no category.
const DefaultColor = "bg-slate-400"

// DefaultCategories is the catalog used on first run.
func DefaultCategories() []Category {
	return []Category{
		{ID: TypeDiningService, Label: "SERVICIO DE COMEDOR", Color: "bg-emerald-500", Icon: "🍽️", Kind: KindAutoManaged},
		{ID: TypePreElaboration, Label: "PREELABORACIÓN", Color: "bg-slate-500", Icon: "🔪", Kind: KindManual},
		{ID: TypeExam, Label: "EXAMEN", Color: "bg-rose-500", Icon: "📝", Kind: KindManual},
		{ID: TypeTheory, Label: "TEORÍA", Color: "bg-sky-500", Icon: "📘", Kind: KindManual},
		{ID: TypeLogistics, Label: "ACCIÓN LOGÍSTICA", Color: "bg-amber-400", Icon: "🟡", Kind: KindManual},
		{ID: TypeAutoPrep, Label: "Preparación de Pedido", Color: "bg-indigo-400", Icon: "📦", Kind: KindSystemGenerated},
		{ID: TypeAutoAlarm, Label: "Elaborar Pedido", Color: "bg-orange-500", Icon: "⚠️", Kind: KindSystemGenerated},
		{ID: TypeAutoCritical, Label: "HACER PEDIDO", Color: "bg-red-600", Icon: "🚨", Kind: KindSystemGenerated},
		{ID: TypeAutoMenuPrep, Label: "Preparación Recetario", Color: "bg-purple-400", Icon: "📖", Kind: KindSystemGenerated},
		{ID: TypeReminder, Label: "Recordatorio", Color: "bg-cyan-500", Icon: "🔔", Kind: KindSystemGenerated},
	}
}

// AvailableColors lists the palette offered when creating a category.
var AvailableColors = []string{
	"bg-emerald-500", "bg-sky-500", "bg-rose-500", "bg-amber-400",
	"bg-purple-500", "bg-pink-500", "bg-indigo-500", "bg-orange-500",
	"bg-teal-500", "bg-lime-500", "bg-slate-500", "bg-cyan-500",
}
