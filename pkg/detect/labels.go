package detect

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadLabels reads a model label list from a YAML file with a `names`
// map of class index to label, the layout dataset configs use.
func LoadLabels(path string) (map[int]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect: read label file: %w", err)
	}
	return ParseLabels(b)
}

func ParseLabels(b []byte) (map[int]string, error) {
	var doc struct {
		Names map[int]string `yaml:"names"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("detect: parse label file: %w", err)
	}
	if len(doc.Names) == 0 {
		return nil, fmt.Errorf("detect: label file has no names")
	}
	return doc.Names, nil
}
