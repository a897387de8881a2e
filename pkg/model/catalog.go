package model

// Material is one input line of a blueprint's bill of materials.
type Material struct {
	TypeID   int64  `json:"type_id"`
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

// SkillRequirement is a skill the producing character must hold at or above Level.
type SkillRequirement struct {
	SkillID int64 `json:"skill_id"`
	Level   int   `json:"level"`
}

// CatalogItem describes one producible good from the static reference
// catalog: the item itself, the blueprint that produces it, and what the
// blueprint consumes. Immutable once loaded.
type CatalogItem struct {
	BlueprintID int64              `json:"blueprint_id"`
	TypeID      int64              `json:"type_id"`
	Name        string             `json:"name"`
	Materials   []Material         `json:"materials"`
	Skills      []SkillRequirement `json:"skills"`
}
