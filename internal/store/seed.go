package store

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"pairquiz-backend/api"
)

//go:embed questions.json
var seedCatalog []byte

func defaultCatalog() ([]api.Question, error) {
	var catalog []api.Question
	if err := json.Unmarshal(seedCatalog, &catalog); err != nil {
		return nil, fmt.Errorf("decode embedded catalog: %w", err)
	}
	return catalog, nil
}
