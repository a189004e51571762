package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tablecall/tablecall/pkg/catalog"
)

// CatalogSource lists the persisted menu and FAQs.
type CatalogSource interface {
	ListMenuItems(ctx context.Context, onlyAvailable bool) ([]MenuItem, error)
	ListFAQs(ctx context.Context) ([]FAQ, error)
}

// CatalogSync keeps the in-memory catalog and FAQ index in step with the
// database.
type CatalogSync struct {
	source CatalogSource
	menu   *catalog.Catalog
	faqs   *catalog.FAQIndex
}

// NewCatalogSync creates a sync that refreshes menu and faqs from source.
func NewCatalogSync(source CatalogSource, menu *catalog.Catalog, faqs *catalog.FAQIndex) *CatalogSync {
	return &CatalogSync{source: source, menu: menu, faqs: faqs}
}

// Refresh reloads both snapshots. On error the previous snapshots stay.
func (s *CatalogSync) Refresh(ctx context.Context) error {
	items, err := s.source.ListMenuItems(ctx, true)
	if err != nil {
		return fmt.Errorf("list menu items: %w", err)
	}
	faqs, err := s.source.ListFAQs(ctx)
	if err != nil {
		return fmt.Errorf("list faqs: %w", err)
	}
	s.menu.Replace(MenuToCatalog(items))
	s.faqs.Replace(FAQsToCatalog(faqs))
	slog.InfoContext(ctx, "catalog refreshed", slog.Int("menu_items", len(items)), slog.Int("faqs", len(faqs)))
	return nil
}

// MenuToCatalog converts persisted menu rows to catalog entries.
func MenuToCatalog(rows []MenuItem) []catalog.MenuItem {
	out := make([]catalog.MenuItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, catalog.MenuItem{
			ID:          r.ID,
			Name:        r.Name,
			Price:       r.Price,
			Category:    catalog.ParseCategory(r.Category),
			Description: r.Description,
		})
	}
	return out
}

// FAQsToCatalog converts persisted FAQ rows to catalog entries.
func FAQsToCatalog(rows []FAQ) []catalog.FAQ {
	out := make([]catalog.FAQ, 0, len(rows))
	for _, r := range rows {
		out = append(out, catalog.FAQ{ID: r.ID, Question: r.Question, Answer: r.Answer})
	}
	return out
}

// Seeder is the write surface used to populate an empty catalog.
type Seeder interface {
	CatalogSource
	CreateMenuItem(ctx context.Context, item *MenuItem) error
	CreateFAQ(ctx context.Context, f *FAQ) error
}

// SeedIfEmpty writes the seed menu and FAQs when the respective tables are
// empty. It reports whether anything was written.
func SeedIfEmpty(ctx context.Context, db Seeder, seed *catalog.Seed) (bool, error) {
	wrote := false

	items, err := db.ListMenuItems(ctx, false)
	if err != nil {
		return false, fmt.Errorf("list menu items: %w", err)
	}
	if len(items) == 0 {
		for i, it := range seed.Items() {
			row := &MenuItem{
				Name:        it.Name,
				Price:       it.Price,
				Category:    string(it.Category),
				Description: it.Description,
				Available:   true,
				Position:    i,
			}
			if err := db.CreateMenuItem(ctx, row); err != nil {
				return wrote, fmt.Errorf("seed menu item %q: %w", it.Name, err)
			}
			wrote = true
		}
	}

	faqs, err := db.ListFAQs(ctx)
	if err != nil {
		return wrote, fmt.Errorf("list faqs: %w", err)
	}
	if len(faqs) == 0 {
		for i, f := range seed.FAQs {
			if err := db.CreateFAQ(ctx, &FAQ{Question: f.Question, Answer: f.Answer, Position: i}); err != nil {
				return wrote, fmt.Errorf("seed faq: %w", err)
			}
			wrote = true
		}
	}
	return wrote, nil
}
