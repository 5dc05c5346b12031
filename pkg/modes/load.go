package modes

import (
	"fmt"
	"strings"

	"chronicles/pkg/utils"
)

type presetFile struct {
	Modes []Mode `json:"modes" yaml:"modes"`
}

// LoadFile registers every preset found in a YAML or JSON file.
// Presets with an existing id replace the built-in one.
func (r *Registry) LoadFile(path string) (int, error) {
	file, err := utils.Load[presetFile](path)
	if err != nil {
		return 0, fmt.Errorf("loading modes from %s: %w", path, err)
	}

	for i, m := range file.Modes {
		if strings.TrimSpace(m.ID) == "" {
			return 0, fmt.Errorf("mode #%d in %s has no id", i+1, path)
		}
		if strings.TrimSpace(m.SystemPrompt) == "" {
			return 0, fmt.Errorf("mode %q in %s has no system_prompt", m.ID, path)
		}
	}
	for _, m := range file.Modes {
		r.Register(m)
	}
	return len(file.Modes), nil
}
