package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/engezna/engezna-agent/internal/domain"
	"github.com/engezna/engezna-agent/internal/memory"
	"github.com/engezna/engezna-agent/internal/storage"
	"github.com/engezna/engezna-agent/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore serves canned keyword results and stored vectors.
type fakeStore struct {
	keywordResults []domain.MenuItem
	searchErr      error
	items          map[uuid.UUID]*domain.MenuItem
	vectors        []domain.ItemEmbedding
	vectorsErr     error
}

func (f *fakeStore) Merchants() domain.MerchantStore   { return nil }
func (f *fakeStore) MenuItems() domain.MenuItemStore   { return (*fakeItems)(f) }
func (f *fakeStore) Orders() domain.OrderStore         { return nil }
func (f *fakeStore) Addresses() domain.AddressStore    { return nil }
func (f *fakeStore) Embeddings() domain.EmbeddingStore { return (*fakeVectors)(f) }
func (f *fakeStore) Memories() memory.Store            { return nil }
func (f *fakeStore) Migrate(context.Context) error     { return nil }
func (f *fakeStore) Close() error                      { return nil }
func (f *fakeStore) Driver() string                    { return "fake" }

type fakeItems fakeStore

func (f *fakeItems) Get(_ context.Context, id uuid.UUID) (*domain.MenuItem, error) {
	if it, ok := f.items[id]; ok {
		return it, nil
	}
	return nil, fmt.Errorf("menu item %s: %w", id, storage.ErrNotFound)
}
func (f *fakeItems) Search(_ context.Context, _, _, _ string, limit int) ([]domain.MenuItem, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.keywordResults) > limit {
		return f.keywordResults[:limit], nil
	}
	return f.keywordResults, nil
}
func (f *fakeItems) ListByMerchant(context.Context, uuid.UUID) ([]domain.MenuItem, error) {
	return nil, nil
}

type fakeVectors fakeStore

func (f *fakeVectors) Upsert(context.Context, *domain.ItemEmbedding) error { return nil }
func (f *fakeVectors) All(context.Context) ([]domain.ItemEmbedding, error) {
	return f.vectors, f.vectorsErr
}

// fakeEmbedder returns a fixed query vector.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

func item(name string, price float64) domain.MenuItem {
	return domain.MenuItem{
		ID:         uuid.New(),
		MerchantID: uuid.New(),
		Name:       name,
		Price:      price,
		Available:  true,
	}
}

func TestSearch_KeywordResults(t *testing.T) {
	store := &fakeStore{keywordResults: []domain.MenuItem{
		item("Margherita Pizza", 120),
		item("Pepperoni Pizza", 140),
	}}
	tool := NewTool(discardLogger())

	res := tool.Execute(context.Background(), map[string]any{"query": "pizza"},
		&tools.ToolContext{CustomerID: "c1", City: "Cairo", Store: store})
	if !res.Ok() {
		t.Fatalf("expected success, got %s", res.Message)
	}
	items := res.Data["items"].([]map[string]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0]["name"] != "Margherita Pizza" {
		t.Errorf("unexpected first item: %v", items[0])
	}
}

func TestSearch_EmptyResultCarriesNote(t *testing.T) {
	tool := NewTool(discardLogger())
	res := tool.Execute(context.Background(), map[string]any{"query": "sushi"},
		&tools.ToolContext{City: "Cairo", Store: &fakeStore{}})
	if !res.Ok() {
		t.Fatalf("empty search is a success, got %s", res.Error)
	}
	if res.Data["note"] == nil {
		t.Error("empty result must tell the model nothing matched")
	}
}

func TestSearch_StoreFailure(t *testing.T) {
	tool := NewTool(discardLogger())
	res := tool.Execute(context.Background(), map[string]any{"query": "pizza"},
		&tools.ToolContext{City: "Cairo", Store: &fakeStore{searchErr: errors.New("db down")}})
	if res.Error != tools.ErrUpstreamFailure {
		t.Fatalf("expected upstream_failure, got %s", res.Error)
	}
}

func TestSearch_SemanticWidening(t *testing.T) {
	hidden := item("Koshary El Tahrir Special", 45)
	far := item("Grilled Chicken", 90)

	store := &fakeStore{
		items: map[uuid.UUID]*domain.MenuItem{
			hidden.ID: &hidden,
			far.ID:    &far,
		},
		vectors: []domain.ItemEmbedding{
			{MenuItemID: hidden.ID, Vector: []float32{1, 0, 0}}, // cosine 1.0
			{MenuItemID: far.ID, Vector: []float32{0, 1, 0}},    // cosine 0.0
		},
	}
	tool := NewTool(discardLogger())

	res := tool.Execute(context.Background(), map[string]any{"query": "كشري"},
		&tools.ToolContext{
			City:     "Cairo",
			Store:    store,
			Embedder: &fakeEmbedder{vec: []float32{1, 0, 0}},
		})
	if !res.Ok() {
		t.Fatalf("expected success, got %s", res.Message)
	}
	items := res.Data["items"].([]map[string]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 semantic match above threshold, got %d", len(items))
	}
	if items[0]["item_id"] != hidden.ID.String() {
		t.Errorf("expected the similar item, got %v", items[0])
	}
}

func TestSearch_SemanticSkipsUnavailableAndSeen(t *testing.T) {
	seen := item("Margherita Pizza", 120)
	gone := item("Discontinued Pizza", 100)
	gone.Available = false

	store := &fakeStore{
		keywordResults: []domain.MenuItem{seen},
		items: map[uuid.UUID]*domain.MenuItem{
			seen.ID: &seen,
			gone.ID: &gone,
		},
		vectors: []domain.ItemEmbedding{
			{MenuItemID: seen.ID, Vector: []float32{1, 0, 0}},
			{MenuItemID: gone.ID, Vector: []float32{1, 0, 0}},
		},
	}
	tool := NewTool(discardLogger())

	res := tool.Execute(context.Background(), map[string]any{"query": "pizza"},
		&tools.ToolContext{
			City:     "Cairo",
			Store:    store,
			Embedder: &fakeEmbedder{vec: []float32{1, 0, 0}},
		})
	items := res.Data["items"].([]map[string]any)
	if len(items) != 1 {
		t.Fatalf("keyword hit must not be duplicated and unavailable items skipped, got %d items", len(items))
	}
}

func TestSearch_EmbedderFailureKeepsKeywordResults(t *testing.T) {
	store := &fakeStore{keywordResults: []domain.MenuItem{item("Margherita Pizza", 120)}}
	tool := NewTool(discardLogger())

	res := tool.Execute(context.Background(), map[string]any{"query": "pizza"},
		&tools.ToolContext{
			City:     "Cairo",
			Store:    store,
			Embedder: &fakeEmbedder{err: errors.New("embedding service down")},
		})
	if !res.Ok() {
		t.Fatalf("keyword results must survive embedder failure, got %s", res.Error)
	}
	if len(res.Data["items"].([]map[string]any)) != 1 {
		t.Error("expected the keyword result")
	}
}

func TestSearch_ArabicLocaleFields(t *testing.T) {
	it := item("Koshary", 40)
	it.NameAr = "كشري"
	it.DescriptionAr = "كشري مصري أصلي"
	store := &fakeStore{keywordResults: []domain.MenuItem{it}}
	tool := NewTool(discardLogger())

	res := tool.Execute(context.Background(), map[string]any{"query": "كشري"},
		&tools.ToolContext{City: "Cairo", Locale: "ar", Store: store})
	items := res.Data["items"].([]map[string]any)
	if items[0]["name"] != "كشري" || items[0]["description"] != "كشري مصري أصلي" {
		t.Errorf("arabic locale must use arabic fields, got %v", items[0])
	}
}

func TestSearch_UnavailableOutsideServiceArea(t *testing.T) {
	tool := NewTool(discardLogger())
	if tool.Available(&tools.ToolContext{}) {
		t.Error("search must be withheld without a geo scope")
	}
	if !tool.Available(&tools.ToolContext{Governorate: "Giza"}) {
		t.Error("search must be offered inside the service area")
	}
}
