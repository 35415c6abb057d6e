package loader

import (
	"context"
	"encoding/csv"
	"os"
	"strings"
)

// CSV loads comma-separated files as text: one line per record, cells joined
// with ", ". The header row is kept so column names stay retrievable.
type CSV struct{}

// Extensions returns the extensions handled by the CSV loader.
func (CSV) Extensions() []string { return []string{".csv"} }

// Load parses the file and renders records as text lines.
func (CSV) Load(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // Tolerate ragged rows

	records, err := r.ReadAll()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, record := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(record, ", "))
	}
	return b.String(), nil
}
