package command

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ConserveLee/scroll-idle/internal/constants"
)

//go:embed book.schema.json
var bookSchemaJSON string

var bookSchema = jsonschema.MustCompileString("book.schema.json", bookSchemaJSON)

// Exclusion forbids a cast within Window of another command's last cast.
type Exclusion struct {
	ID     string        `yaml:"id"`
	Window time.Duration `yaml:"window"`
}

// Spec is the static description of one command.
type Spec struct {
	ID        string        `yaml:"id"`
	Key       string        `yaml:"key,omitempty"`
	Keys      []string      `yaml:"keys,omitempty"`
	Cooldown  time.Duration `yaml:"cooldown,omitempty"`
	Precast   time.Duration `yaml:"precast,omitempty"`
	Backswing time.Duration `yaml:"backswing,omitempty"`
	Charges   int           `yaml:"charges,omitempty"`
	Toggle    string        `yaml:"toggle,omitempty"`
	NotWithin []Exclusion   `yaml:"not_within,omitempty"`
}

// Sequence is the ordered list of keys the command taps.
func (s Spec) Sequence() []string {
	if len(s.Keys) > 0 {
		return s.Keys
	}
	if s.Key == "" {
		return nil
	}
	return []string{s.Key}
}

// Tier is a movement command usable for gaps up to Range (normalized units).
type Tier struct {
	ID    string  `yaml:"id"`
	Range float64 `yaml:"range"`
}

// Movement groups tiers by direction.
type Movement struct {
	Up         []Tier `yaml:"up"`
	Down       []Tier `yaml:"down"`
	Horizontal []Tier `yaml:"horizontal"`
}

// Book is a per-build command table.
type Book struct {
	Name     string              `yaml:"name"`
	Commands []Spec              `yaml:"commands"`
	Lists    map[string][]string `yaml:"lists"`
	Movement Movement            `yaml:"movement"`
}

// LoadBook reads and validates a command book file.
func LoadBook(path string) (*Book, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := ParseBook(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// ParseBook validates raw YAML against the book schema, then decodes it.
func ParseBook(raw []byte) (*Book, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	// Round-trip through JSON so the validator sees JSON types.
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("command book is not JSON-compatible: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := bookSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	var b Book
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	if err := b.check(raw); err != nil {
		return nil, err
	}
	return &b, nil
}

// check enforces references the schema cannot express.
func (b *Book) check(raw []byte) error {
	var errs []string
	ids := map[string]bool{}
	for i := range b.Commands {
		s := &b.Commands[i]
		if ids[s.ID] {
			errs = append(errs, fmt.Sprintf("duplicate command %q", s.ID))
		}
		ids[s.ID] = true
	}
	for i := range b.Commands {
		s := &b.Commands[i]
		for _, ex := range s.NotWithin {
			if !ids[ex.ID] {
				errs = append(errs, fmt.Sprintf("%s: not_within references unknown command %q", s.ID, ex.ID))
			}
		}
	}
	for name, members := range b.Lists {
		for _, id := range members {
			if !ids[id] {
				errs = append(errs, fmt.Sprintf("list %s: unknown command %q", name, id))
			}
		}
	}
	for dir, tiers := range map[string][]Tier{"up": b.Movement.Up, "down": b.Movement.Down, "horizontal": b.Movement.Horizontal} {
		for _, t := range tiers {
			if !ids[t.ID] {
				errs = append(errs, fmt.Sprintf("movement %s: unknown command %q", dir, t.ID))
			}
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	b.applyDefaults(raw)
	return nil
}

// applyDefaults gives commands without an explicit backswing the default one.
func (b *Book) applyDefaults(raw []byte) {
	var doc struct {
		Commands []map[string]interface{} `yaml:"commands"`
	}
	_ = yaml.Unmarshal(raw, &doc)
	for i := range b.Commands {
		if i < len(doc.Commands) {
			if _, ok := doc.Commands[i]["backswing"]; ok {
				continue
			}
		}
		b.Commands[i].Backswing = constants.DefaultBackswing
	}
}
