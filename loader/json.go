package loader

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hupe1980/raggo/codec"
)

// JSON loads JSON files by flattening them into "path: value" text lines,
// which keeps keys searchable alongside their values.
type JSON struct{}

// Extensions returns the extensions handled by the JSON loader.
func (JSON) Extensions() []string { return []string{".json"} }

// Load decodes the file and renders scalar leaves as text lines.
func (JSON) Load(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var v any
	if err := codec.Default.Unmarshal(data, &v); err != nil {
		return "", err
	}

	var lines []string
	flattenJSON("", v, &lines)
	return strings.Join(lines, "\n"), nil
}

func flattenJSON(prefix string, v any, lines *[]string) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(joinPath(prefix, k), val[k], lines)
		}
	case []any:
		for i, item := range val {
			flattenJSON(fmt.Sprintf("%s[%d]", prefix, i), item, lines)
		}
	case nil:
		// Skip nulls; they carry no retrievable text.
	default:
		*lines = append(*lines, fmt.Sprintf("%s: %v", prefix, val))
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
