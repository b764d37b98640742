package robot

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogEntry represents one robot in the YAML catalog.
type CatalogEntry struct {
	ID         string                 `yaml:"id"`
	Name       string                 `yaml:"name"`
	Symbol     string                 `yaml:"symbol"`
	Timeframe  string                 `yaml:"timeframe"`
	Parameters map[string]interface{} `yaml:"parameters"`
	IsActive   bool                   `yaml:"is_active"`
}

// CatalogFile represents the top-level YAML structure.
type CatalogFile struct {
	Robots []CatalogEntry `yaml:"robots"`
}

// LoadCatalog reads robot definitions from a YAML file.
func LoadCatalog(path string) ([]CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	return file.Robots, nil
}

// SyncCatalogToDB upserts catalog entries into the robots table.
func SyncCatalogToDB(db *sql.DB, entries []CatalogEntry) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO robots (id, name, symbol, timeframe, parameters, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			timeframe = excluded.timeframe,
			parameters = excluded.parameters,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		paramsJSON, err := json.Marshal(e.Parameters)
		if err != nil {
			return fmt.Errorf("failed to marshal parameters for robot %s: %w", e.Name, err)
		}

		_, err = stmt.Exec(
			e.ID,
			e.Name,
			e.Symbol,
			e.Timeframe,
			string(paramsJSON),
			e.IsActive,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert robot %s: %w", e.Name, err)
		}
	}

	return tx.Commit()
}
