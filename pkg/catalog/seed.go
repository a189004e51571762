package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Seed is the YAML-mappable starter menu used to populate an empty store.
type Seed struct {
	Menu []SeedItem `yaml:"menu"`
	FAQs []FAQ      `yaml:"faqs"`
}

// SeedItem is one menu entry as written in a seed file. Price is kept as
// text so that "12.90" survives without float rounding.
type SeedItem struct {
	Name        string `yaml:"name"`
	Price       string `yaml:"price"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %q: %w", path, err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	for i, item := range s.Menu {
		if strings.TrimSpace(item.Name) == "" {
			return nil, fmt.Errorf("menu item %d: name is required", i)
		}
		if _, err := item.price(); err != nil {
			return nil, fmt.Errorf("menu item %q: %w", item.Name, err)
		}
	}
	return &s, nil
}

// Items converts the seed menu to catalog items.
func (s *Seed) Items() []MenuItem {
	items := make([]MenuItem, 0, len(s.Menu))
	for _, si := range s.Menu {
		price, _ := si.price()
		items = append(items, MenuItem{
			Name:        strings.TrimSpace(si.Name),
			Price:       price,
			Category:    ParseCategory(si.Category),
			Description: si.Description,
		})
	}
	return items
}

func (si SeedItem) price() (decimal.Decimal, error) {
	p, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(si.Price), "$"))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q", si.Price)
	}
	if p.IsNegative() {
		return decimal.Zero, fmt.Errorf("price %s is negative", p)
	}
	if !p.Equal(p.Round(2)) {
		return decimal.Zero, fmt.Errorf("price %s has more than two decimal places", p)
	}
	return p, nil
}
