package europepmc

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadAccessionTypes reads a JSON array of accession type names
func LoadAccessionTypes(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accession types: %w", err)
	}

	var types []string
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, fmt.Errorf("failed to parse accession types %s: %w", path, err)
	}

	cleaned := types[:0]
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("accession types file %s lists no types", path)
	}

	return cleaned, nil
}

// AccessionQuery builds the search query matching any of the accession types,
// e.g. (ACCESSION_TYPE:pdb OR ACCESSION_TYPE:uniprot).
func AccessionQuery(types []string) string {
	terms := make([]string, len(types))
	for i, t := range types {
		terms[i] = "ACCESSION_TYPE:" + t
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

// Project keeps only the given fields of a record, in the given order.
// Fields the record lacks are skipped.
func Project(record Record, fields []string) ProjectedRecord {
	out := make(ProjectedRecord, 0, len(fields))
	for _, key := range fields {
		if v, ok := record[key]; ok {
			out = append(out, Field{Key: key, Value: v})
		}
	}
	return out
}

// ProjectAll applies Project to each record
func ProjectAll(records []Record, fields []string) []ProjectedRecord {
	out := make([]ProjectedRecord, len(records))
	for i, r := range records {
		out[i] = Project(r, fields)
	}
	return out
}
