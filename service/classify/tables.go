package classify

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed known_wallets.yaml
var knownWalletsYAML []byte

// Tables holds the static lookup data used by the classifier.
// A Tables value must not be mutated once handed to New.
type Tables struct {
	Programs        map[string]string `yaml:"programs"`
	Exchanges       map[string]string `yaml:"exchanges"`
	ProgramPrefixes []string          `yaml:"program_prefixes"`
}

// DefaultTables decodes the embedded program and exchange tables.
func DefaultTables() (Tables, error) {
	return ParseTables(knownWalletsYAML)
}

// ParseTables decodes a YAML document of classification tables.
func ParseTables(data []byte) (Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tables{}, fmt.Errorf("failed to parse classification tables: %w", err)
	}
	if t.Programs == nil {
		t.Programs = map[string]string{}
	}
	if t.Exchanges == nil {
		t.Exchanges = map[string]string{}
	}
	return t, nil
}

// LoadTables returns the embedded tables extended with the entries in path.
// An empty path returns the embedded tables unchanged. Override entries win
// on address collisions; override prefixes are appended.
func LoadTables(path string) (Tables, error) {
	base, err := DefaultTables()
	if err != nil {
		return Tables{}, err
	}
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("failed to read classification tables %s: %w", path, err)
	}
	extra, err := ParseTables(data)
	if err != nil {
		return Tables{}, err
	}
	return base.Merge(extra), nil
}

// Merge returns a new Tables with other layered on top of t.
func (t Tables) Merge(other Tables) Tables {
	out := Tables{
		Programs:        make(map[string]string, len(t.Programs)+len(other.Programs)),
		Exchanges:       make(map[string]string, len(t.Exchanges)+len(other.Exchanges)),
		ProgramPrefixes: append(append([]string{}, t.ProgramPrefixes...), other.ProgramPrefixes...),
	}
	for k, v := range t.Programs {
		out.Programs[k] = v
	}
	for k, v := range other.Programs {
		out.Programs[k] = v
	}
	for k, v := range t.Exchanges {
		out.Exchanges[k] = v
	}
	for k, v := range other.Exchanges {
		out.Exchanges[k] = v
	}
	return out
}
