package catalog

import (
	"fmt"
	"strings"
	"sync"
)

// Catalog holds the current menu snapshot. Reads are safe from many
// sessions at once; Replace swaps the whole snapshot.
type Catalog struct {
	mu    sync.RWMutex
	items []MenuItem
}

// New creates a catalog seeded with items, kept in the given order.
func New(items []MenuItem) *Catalog {
	c := &Catalog{}
	c.Replace(items)
	return c
}

// Replace installs a new menu snapshot.
func (c *Catalog) Replace(items []MenuItem) {
	cp := make([]MenuItem, len(items))
	copy(cp, items)
	c.mu.Lock()
	c.items = cp
	c.mu.Unlock()
}

// Items returns a copy of the menu in catalog order.
func (c *Catalog) Items() []MenuItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]MenuItem, len(c.items))
	copy(cp, c.items)
	return cp
}

// Resolve returns the first item whose name contains fragment,
// ignoring case. Spoken input is imprecise, so no ranking is attempted.
func (c *Catalog) Resolve(fragment string) (MenuItem, error) {
	needle := strings.ToLower(strings.TrimSpace(fragment))
	if needle == "" {
		return MenuItem{}, fmt.Errorf("resolve %q: %w", fragment, ErrNotFound)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, item := range c.items {
		if strings.Contains(strings.ToLower(item.Name), needle) {
			return item, nil
		}
	}
	return MenuItem{}, fmt.Errorf("resolve %q: %w", fragment, ErrNotFound)
}

// Summary renders the menu as speakable text grouped by category, e.g.
// "Burgers: Cheeseburger - $12.99, Veggie Burger - $11.50." An empty
// category lists everything.
func (c *Catalog) Summary(category Category) string {
	groups := make(map[Category][]string)
	for _, item := range c.Items() {
		if category != "" && item.Category != category {
			continue
		}
		cat := item.Category
		if cat == "" {
			cat = CategoryOther
		}
		groups[cat] = append(groups[cat], fmt.Sprintf("%s - $%s", item.Name, item.Price.StringFixed(2)))
	}

	var parts []string
	for _, cat := range Categories {
		names, ok := groups[cat]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s.", cat.Title(), strings.Join(names, ", ")))
	}
	return strings.Join(parts, " ")
}
