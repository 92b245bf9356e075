// Package classifier pre-labels unreviewed alarms by comparing the nursing
// documentation around each alarm against a curated table of patterns known
// to accompany real alarms.
package classifier

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
)

// ReferenceKey is the normalized 5-tuple a nursing record is matched on.
type ReferenceKey struct {
	DiagnosisProtocol string
	Intervention      string
	Activity          string
	AttributeCode     string
	AttributeValue    string
}

// ReferenceTable is the set of documentation patterns that mark an alarm
// as true. Loaded once at startup and immutable afterwards. Lookups are
// exact matches over normalized keys.
type ReferenceTable struct {
	rows map[ReferenceKey]struct{}
}

// NewReferenceTable builds a table from raw rows of at least five columns.
func NewReferenceTable(rows [][]string) *ReferenceTable {
	t := &ReferenceTable{rows: make(map[ReferenceKey]struct{}, len(rows))}
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		key := ReferenceKey{
			DiagnosisProtocol: Normalize(row[0]),
			Intervention:      Normalize(row[1]),
			Activity:          Normalize(row[2]),
			AttributeCode:     Normalize(row[3]),
			AttributeValue:    Normalize(row[4]),
		}
		if key == (ReferenceKey{}) {
			continue
		}
		t.rows[key] = struct{}{}
	}
	return t
}

// LoadReferenceTable reads a reference table from a .tsv or .xlsx file. A
// missing file degrades to an empty table rather than failing startup.
func LoadReferenceTable(path string) (*ReferenceTable, error) {
	if path == "" {
		return NewReferenceTable(nil), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewReferenceTable(nil), nil
	}
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return loadXLSX(path)
	}
	return loadTSV(path)
}

func loadTSV(path string) (*ReferenceTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference table %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse reference table %s: %w", path, err)
	}
	return NewReferenceTable(skipHeader(records)), nil
}

func loadXLSX(path string) (*ReferenceTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference table %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return NewReferenceTable(nil), nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read reference table %s: %w", path, err)
	}
	return NewReferenceTable(skipHeader(rows)), nil
}

// skipHeader drops a leading header row. Data rows always carry a coded
// attribute column, so a row whose fields normalize to nothing is treated
// as decoration either way.
func skipHeader(rows [][]string) [][]string {
	if len(rows) > 0 {
		return rows[1:]
	}
	return rows
}

// Len reports the number of distinct reference patterns.
func (t *ReferenceTable) Len() int { return len(t.rows) }

// Matches reports whether the nursing record's five normalized fields
// equal any reference row.
func (t *ReferenceTable) Matches(rec model.NursingRecord) bool {
	if len(t.rows) == 0 {
		return false
	}
	key := ReferenceKey{
		DiagnosisProtocol: Normalize(rec.DiagnosisProtocol),
		Intervention:      Normalize(rec.Intervention),
		Activity:          Normalize(rec.Activity),
		AttributeCode:     Normalize(rec.AttributeCode),
		AttributeValue:    Normalize(rec.AttributeValue),
	}
	_, ok := t.rows[key]
	return ok
}

// Normalize folds a documentation field for exact comparison: lowercase,
// parenthesis characters removed, all whitespace stripped. "Dx A (code1)"
// and " dx a(code1) " normalize identically.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("(", "", ")", "").Replace(s)
	return strings.Join(strings.Fields(s), "")
}
