package loader

import (
	"context"
	"os"
)

// Text loads plain-text and markdown files verbatim.
type Text struct{}

// Extensions returns the extensions handled by the text loader.
func (Text) Extensions() []string { return []string{".txt", ".md"} }

// Load reads the whole file as UTF-8 text.
func (Text) Load(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
