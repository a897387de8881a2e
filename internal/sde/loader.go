package sde

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/pkg/model"
)

const maxLineBytes = 4 * 1024 * 1024

// Loader parses the static reference datasets into the in-memory catalog of
// producible items. The datasets do not change within a process lifetime, so
// the parse runs at most once and the result is shared.
type Loader struct {
	logger         *zap.Logger
	typesPath      string
	blueprintsPath string

	once    sync.Once
	catalog []model.CatalogItem
	names   map[int64]string
	err     error
}

// NewLoader constructs a loader over the two line-delimited dataset files.
func NewLoader(logger *zap.Logger, typesPath, blueprintsPath string) *Loader {
	return &Loader{
		logger:         logger,
		typesPath:      typesPath,
		blueprintsPath: blueprintsPath,
	}
}

type typeLine struct {
	Key  int64 `json:"_key"`
	Name struct {
		En string `json:"en"`
	} `json:"name"`
}

type typeRef struct {
	TypeID   int64 `json:"typeID"`
	Quantity int64 `json:"quantity"`
}

type skillRef struct {
	TypeID int64 `json:"typeID"`
	Level  int   `json:"level"`
}

type manufacturing struct {
	Products  []typeRef  `json:"products"`
	Materials []typeRef  `json:"materials"`
	Skills    []skillRef `json:"skills"`
}

type blueprintLine struct {
	BlueprintTypeID int64 `json:"blueprintTypeID"`
	Activities      struct {
		Manufacturing *manufacturing `json:"manufacturing"`
	} `json:"activities"`
}

// Catalog returns the parsed catalog, loading it on first call.
func (l *Loader) Catalog() ([]model.CatalogItem, error) {
	l.once.Do(l.load)
	return l.catalog, l.err
}

// TypeName resolves a type id to its display name, falling back to the
// numeric id for unknown types.
func (l *Loader) TypeName(typeID int64) string {
	l.once.Do(l.load)
	if name, ok := l.names[typeID]; ok {
		return name
	}
	return strconv.FormatInt(typeID, 10)
}

func (l *Loader) load() {
	names, err := l.loadNames()
	if err != nil {
		l.err = err
		return
	}
	l.names = names

	catalog, err := l.loadBlueprints(names)
	if err != nil {
		l.err = err
		return
	}
	l.catalog = catalog

	l.logger.Info("sde.catalog_loaded",
		zap.Int("types", len(names)),
		zap.Int("items", len(catalog)))
}

func (l *Loader) loadNames() (map[int64]string, error) {
	names := make(map[int64]string)
	err := l.scanLines(l.typesPath, func(line []byte) {
		var t typeLine
		if err := json.Unmarshal(line, &t); err != nil {
			l.logger.Warn("sde.type_line_skipped", zap.Error(err))
			return
		}
		if t.Key == 0 || t.Name.En == "" {
			return
		}
		names[t.Key] = t.Name.En
	})
	if err != nil {
		return nil, fmt.Errorf("load type names: %w", err)
	}
	return names, nil
}

func (l *Loader) loadBlueprints(names map[int64]string) ([]model.CatalogItem, error) {
	var items []model.CatalogItem
	err := l.scanLines(l.blueprintsPath, func(line []byte) {
		var bp blueprintLine
		if err := json.Unmarshal(line, &bp); err != nil {
			l.logger.Warn("sde.blueprint_line_skipped", zap.Error(err))
			return
		}
		if item, ok := buildItem(bp, names); ok {
			items = append(items, item)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("load blueprints: %w", err)
	}
	return items, nil
}

// buildItem applies the inclusion rules: exactly one manufacturing product
// with a resolvable name; unresolvable material and skill references are
// dropped per-reference, and the item itself is dropped only when a
// non-empty source list filters down to nothing.
func buildItem(bp blueprintLine, names map[int64]string) (model.CatalogItem, bool) {
	mfg := bp.Activities.Manufacturing
	if mfg == nil || len(mfg.Products) != 1 {
		return model.CatalogItem{}, false
	}

	productID := mfg.Products[0].TypeID
	name, ok := names[productID]
	if !ok {
		return model.CatalogItem{}, false
	}

	materials := make([]model.Material, 0, len(mfg.Materials))
	for _, mat := range mfg.Materials {
		matName, ok := names[mat.TypeID]
		if !ok {
			continue
		}
		materials = append(materials, model.Material{
			TypeID:   mat.TypeID,
			Name:     matName,
			Quantity: mat.Quantity,
		})
	}
	if len(mfg.Materials) > 0 && len(materials) == 0 {
		return model.CatalogItem{}, false
	}

	skills := make([]model.SkillRequirement, 0, len(mfg.Skills))
	for _, sk := range mfg.Skills {
		if _, ok := names[sk.TypeID]; !ok {
			continue
		}
		skills = append(skills, model.SkillRequirement{
			SkillID: sk.TypeID,
			Level:   sk.Level,
		})
	}
	if len(mfg.Skills) > 0 && len(skills) == 0 {
		return model.CatalogItem{}, false
	}

	return model.CatalogItem{
		BlueprintID: bp.BlueprintTypeID,
		TypeID:      productID,
		Name:        name,
		Materials:   materials,
		Skills:      skills,
	}, true
}

func (l *Loader) scanLines(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	return scanner.Err()
}
