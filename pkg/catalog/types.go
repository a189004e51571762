package catalog

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Category is one of the fixed menu sections.
type Category string

const (
	CategoryAppetizers Category = "appetizers"
	CategoryMains      Category = "mains"
	CategoryBurgers    Category = "burgers"
	CategoryPizza      Category = "pizza"
	CategoryPasta      Category = "pasta"
	CategorySalads     Category = "salads"
	CategorySides      Category = "sides"
	CategoryDesserts   Category = "desserts"
	CategoryDrinks     Category = "drinks"
	CategorySpecials   Category = "specials"
	CategoryOther      Category = "other"
)

// Categories lists every category in menu reading order.
var Categories = []Category{
	CategoryAppetizers, CategoryMains, CategoryBurgers, CategoryPizza, CategoryPasta,
	CategorySalads, CategorySides, CategoryDesserts, CategoryDrinks, CategorySpecials,
	CategoryOther,
}

// ParseCategory maps free text onto a Category. Unknown values map to CategoryOther.
func ParseCategory(s string) Category {
	if c, ok := LookupCategory(s); ok {
		return c
	}
	return CategoryOther
}

// LookupCategory matches s against the known categories, accepting
// singular forms. It reports false when nothing matches.
func LookupCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	// Singular forms as typed by staff in the admin UI.
	for _, c := range Categories {
		if strings.TrimSuffix(string(c), "s") == s {
			return c, true
		}
	}
	return "", false
}

// Title returns the display name of the category.
func (c Category) Title() string {
	if c == "" {
		return "Other"
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// MenuItem is immutable reference data for one orderable dish.
type MenuItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Category    Category        `json:"category"`
	Description string          `json:"description,omitempty"`
}

// FAQ is a question with its canned answer.
type FAQ struct {
	ID       string `yaml:"id"       json:"id"`
	Question string `yaml:"question" json:"question"`
	Answer   string `yaml:"answer"   json:"answer"`
}
