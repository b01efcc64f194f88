package desk

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed options.yaml
var defaultCatalogYAML []byte

// Option is one selectable dropdown value. A non-empty Tooltip adds an info affordance.
type Option struct {
	Value   string `yaml:"value"`
	Label   string `yaml:"label"`
	Tooltip string `yaml:"tooltip,omitempty"`
}

// Selector describes one filter dropdown.
type Selector struct {
	Field       string `yaml:"field"`
	Placeholder string `yaml:"placeholder"`
}

// Catalog configures the filter dropdowns. Every selector offers the same options.
type Catalog struct {
	Selectors []Selector `yaml:"selectors"`
	Options   []Option   `yaml:"options"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() Catalog {
	catalog, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("desk: embedded option catalog: %v", err))
	}
	return catalog
}

// LoadCatalog reads a catalog file. An empty path yields the built-in catalog.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("desk: read option catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("desk: decode option catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

// Validate checks selector fields and option values for duplicates and gaps.
func (c Catalog) Validate() error {
	var errs []error
	if len(c.Selectors) == 0 {
		errs = append(errs, errors.New("at least one selector is required"))
	}
	seenFields := make(map[string]bool, len(c.Selectors))
	for i, sel := range c.Selectors {
		switch {
		case !isDropdownField(sel.Field):
			errs = append(errs, fmt.Errorf("selector %d: unsupported field %q", i, sel.Field))
		case seenFields[sel.Field]:
			errs = append(errs, fmt.Errorf("selector %d: duplicate field %q", i, sel.Field))
		}
		seenFields[sel.Field] = true
		if strings.TrimSpace(sel.Placeholder) == "" {
			errs = append(errs, fmt.Errorf("selector %d: placeholder required", i))
		}
	}
	if len(c.Options) == 0 {
		errs = append(errs, errors.New("at least one option is required"))
	}
	seenValues := make(map[string]bool, len(c.Options))
	for i, opt := range c.Options {
		value := strings.TrimSpace(opt.Value)
		switch {
		case value == "":
			errs = append(errs, fmt.Errorf("option %d: value required", i))
		case strings.ContainsAny(value, " \t"):
			errs = append(errs, fmt.Errorf("option %d: value %q must not contain spaces", i, opt.Value))
		case seenValues[value]:
			errs = append(errs, fmt.Errorf("option %d: duplicate value %q", i, opt.Value))
		}
		seenValues[value] = true
		if strings.TrimSpace(opt.Label) == "" {
			errs = append(errs, fmt.Errorf("option %d: label required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("desk: invalid option catalog: %w", errors.Join(errs...))
	}
	return nil
}

// Values lists the option values in catalog order.
func (c Catalog) Values() []string {
	values := make([]string, 0, len(c.Options))
	for _, opt := range c.Options {
		values = append(values, opt.Value)
	}
	return values
}

// Tooltip returns the info text for an option value.
func (c Catalog) Tooltip(value string) (string, bool) {
	for _, opt := range c.Options {
		if opt.Value == value && opt.Tooltip != "" {
			return opt.Tooltip, true
		}
	}
	return "", false
}
