package tasks

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"ctf-bot/internal/models"
)

// File is the YAML layout accepted by `ctf-bot tasks import`.
type File struct {
	Tasks []models.TaskSpec `yaml:"tasks"`
}

func LoadFile(path string) ([]models.TaskSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening task file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads and validates every task of a file; one bad entry rejects
// the whole file so an import is never half applied.
func Decode(r io.Reader) ([]models.TaskSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing task file: %w", err)
	}
	out := make([]models.TaskSpec, 0, len(file.Tasks))
	for i, spec := range file.Tasks {
		spec = Normalize(spec)
		if err := Validate(spec); err != nil {
			return nil, fmt.Errorf("task #%d (%q): %w", i+1, spec.Name, err)
		}
		out = append(out, spec)
	}
	return out, nil
}
