package fieldmap

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
)

type file struct {
	Columns map[string]string `yaml:"columns"`
}

// Load returns the built-in column layout overridden by the YAML file at
// path. An empty path yields the built-in layout.
func Load(path string) (domain.FieldMap, error) {
	if strings.TrimSpace(path) == "" {
		return domain.DefaultFieldMap(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field map %s: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (domain.FieldMap, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode field map: %w", err)
	}

	out := domain.DefaultFieldMap()
	for rawKey, semantic := range f.Columns {
		rawKey = strings.TrimSpace(rawKey)
		semantic = strings.TrimSpace(semantic)
		if rawKey == "" || semantic == "" {
			return nil, fmt.Errorf("field map: empty column or semantic name for %q", rawKey)
		}
		out[rawKey] = semantic
	}
	return out, nil
}
