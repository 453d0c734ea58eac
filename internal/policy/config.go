package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads a JSON policy file. Keys missing from the file keep their
// Default values.
func Load(path string) (Policy, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return p, nil
}
