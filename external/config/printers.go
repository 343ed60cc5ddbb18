package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pcider/printbot/internal/printer"
)

type printersFile struct {
	Printers []printer.Config `yaml:"printers"`
}

// LoadPrinters reads the static printer list. Printers are numbered by their
// position in the file.
func LoadPrinters(path string) ([]printer.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read printers file: %w", err)
	}
	var f printersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("printers file %s is invalid: %w", path, err)
	}
	for i := range f.Printers {
		if f.Printers[i].Name == "" {
			f.Printers[i].Name = fmt.Sprintf("Printer %d", i+1)
		}
	}
	return f.Printers, nil
}
