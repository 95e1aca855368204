package core

// parsers.go turns decrypted import text into candidates.
//
// Parsers are tried in order and the first one that yields at least one
// candidate wins:
//
//	json    array of objects, or {"items"|"records"|"links": [...]}
//	report  numbered record blocks with labeled lines
//	labels  labeled lines anywhere, paired code+target
//	csv     header row naming code and target, comma or tab separated
//
// A parser never fails: input it does not understand is "no match".

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
)

type parser struct {
	name  string
	parse func(text string) ([]ImportCandidate, bool)
}

var parserChain = []parser{
	{name: "json", parse: parseJSON},
	{name: "report", parse: parseReport},
	{name: "labels", parse: parseLabels},
	{name: "csv", parse: parseDelimited},
}

// ParseCandidates runs the parser chain and returns the candidates with the
// name of the parser that produced them.
func ParseCandidates(text string) ([]ImportCandidate, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("%w: empty payload", ErrNoRecognizedFormat)
	}
	for _, p := range parserChain {
		if cands, ok := p.parse(text); ok {
			return cands, p.name, nil
		}
	}
	return nil, "", ErrNoRecognizedFormat
}

// JSON

var (
	jsonCodeKeys      = []string{"code", "shortCode", "short_code"}
	jsonTargetKeys    = []string{"target", "url", "originalUrl", "original_url"}
	jsonOwnerIDKeys   = []string{"ownerId", "owner_id"}
	jsonOwnerNameKeys = []string{"ownerName", "owner_name", "owner"}
	jsonListKeys      = []string{"items", "records", "links", "data"}
)

func parseJSON(text string) ([]ImportCandidate, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '[' && trimmed[0] != '{') {
		return nil, false
	}

	var items []map[string]any
	if trimmed[0] == '[' {
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, false
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, false
		}
		for _, key := range jsonListKeys {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(raw, &items); err == nil {
				break
			}
		}
	}

	cands := make([]ImportCandidate, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		cands = append(cands, ImportCandidate{
			Code:      jsonField(item, jsonCodeKeys),
			Target:    jsonField(item, jsonTargetKeys),
			OwnerID:   jsonField(item, jsonOwnerIDKeys),
			OwnerName: jsonField(item, jsonOwnerNameKeys),
		})
	}
	return cands, len(cands) > 0
}

// jsonField returns the first present key as a string. Numbers and bools
// are formatted so that a numeric code still reaches validation.
func jsonField(item map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := item[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case float64, bool:
			return fmt.Sprint(t)
		}
	}
	return ""
}

// Labeled text

// fieldSet accumulates labeled values for one record.
type fieldSet struct {
	code, target, ownerID, ownerName string
}

func (f *fieldSet) set(field, value string) {
	switch field {
	case fieldCode:
		f.code = value
	case fieldTarget:
		f.target = value
	case fieldOwnerID:
		f.ownerID = value
	case fieldOwnerName:
		f.ownerName = value
	}
}

func (f *fieldSet) empty() bool {
	return f.code == "" && f.target == ""
}

func (f *fieldSet) complete() bool {
	return f.code != "" && f.target != ""
}

func (f *fieldSet) candidate() ImportCandidate {
	return ImportCandidate{Code: f.code, Target: f.target, OwnerID: f.ownerID, OwnerName: f.ownerName}
}

// labeledValue parses one "label: value" line into a field key.
func labeledValue(line string) (field, value string, ok bool) {
	label, value, ok := splitLabel(line)
	if !ok {
		return "", "", false
	}
	field, ok = labelField(label)
	if !ok || field == fieldIgnored {
		return "", "", false
	}
	return field, value, true
}

func parseReport(text string) ([]ImportCandidate, bool) {
	var (
		cands   []ImportCandidate
		current *fieldSet
	)
	flush := func() {
		if current != nil && !current.empty() {
			cands = append(cands, current.candidate())
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if recordHeader.MatchString(line) {
			flush()
			current = &fieldSet{}
			continue
		}
		if current == nil {
			continue
		}
		if field, value, ok := labeledValue(line); ok {
			current.set(field, value)
		}
	}
	flush()

	return cands, len(cands) > 0
}

func parseLabels(text string) ([]ImportCandidate, bool) {
	var (
		cands   []ImportCandidate
		current fieldSet
	)

	for _, line := range strings.Split(text, "\n") {
		field, value, ok := labeledValue(line)
		if !ok {
			continue
		}
		// A second code or target after a complete pair starts a new record;
		// owner lines that follow the pair still belong to it.
		if current.complete() && (field == fieldCode || field == fieldTarget) {
			cands = append(cands, current.candidate())
			current = fieldSet{}
		}
		current.set(field, value)
	}
	if current.complete() {
		cands = append(cands, current.candidate())
	}

	return cands, len(cands) > 0
}

// CSV / TSV

var (
	csvCodeColumns      = []string{"code", "short_code", "shortcode"}
	csvTargetColumns    = []string{"target", "url", "original_url"}
	csvOwnerIDColumns   = []string{"owner_id", "ownerid"}
	csvOwnerNameColumns = []string{"owner_name", "ownername", "owner"}
)

func parseDelimited(text string) ([]ImportCandidate, bool) {
	text = strings.TrimLeft(text, "\n")
	headerLine, _, _ := strings.Cut(text, "\n")
	if strings.TrimSpace(headerLine) == "" {
		return nil, false
	}

	r := csv.NewReader(bytes.NewReader([]byte(text)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	if strings.Contains(headerLine, "\t") {
		r.Comma = '\t'
	}

	records, err := r.ReadAll()
	if err != nil || len(records) < 2 {
		return nil, false
	}

	cols := indexHeader(records[0])
	codeIdx := cols.find(csvCodeColumns)
	targetIdx := cols.find(csvTargetColumns)
	if codeIdx < 0 || targetIdx < 0 {
		return nil, false
	}
	ownerIDIdx := cols.find(csvOwnerIDColumns)
	ownerNameIdx := cols.find(csvOwnerNameColumns)

	var cands []ImportCandidate
	for _, row := range records[1:] {
		if isEmptyRow(row) {
			continue
		}
		cands = append(cands, ImportCandidate{
			Code:      cell(row, codeIdx),
			Target:    cell(row, targetIdx),
			OwnerID:   cell(row, ownerIDIdx),
			OwnerName: cell(row, ownerNameIdx),
		})
	}
	return cands, len(cands) > 0
}

// headerIndex maps a lowercased column name to its position.
type headerIndex map[string]int

func indexHeader(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, seen := idx[name]; !seen {
			idx[name] = i
		}
	}
	return idx
}

func (h headerIndex) find(names []string) int {
	for _, n := range names {
		if i, ok := h[n]; ok {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
