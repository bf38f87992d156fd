package merchant

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/engezna/engezna-agent/internal/domain"
	"github.com/engezna/engezna-agent/internal/memory"
	"github.com/engezna/engezna-agent/internal/storage"
	"github.com/engezna/engezna-agent/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	merchants map[uuid.UUID]*domain.Merchant
}

func (f *fakeStore) Merchants() domain.MerchantStore   { return (*fakeMerchants)(f) }
func (f *fakeStore) MenuItems() domain.MenuItemStore   { return nil }
func (f *fakeStore) Orders() domain.OrderStore         { return nil }
func (f *fakeStore) Addresses() domain.AddressStore    { return nil }
func (f *fakeStore) Embeddings() domain.EmbeddingStore { return nil }
func (f *fakeStore) Memories() memory.Store            { return nil }
func (f *fakeStore) Migrate(context.Context) error     { return nil }
func (f *fakeStore) Close() error                      { return nil }
func (f *fakeStore) Driver() string                    { return "fake" }

type fakeMerchants fakeStore

func (f *fakeMerchants) Get(_ context.Context, id uuid.UUID) (*domain.Merchant, error) {
	if m, ok := f.merchants[id]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("merchant %s: %w", id, storage.ErrNotFound)
}
func (f *fakeMerchants) Search(context.Context, string, string, string) ([]domain.Merchant, error) {
	return nil, nil
}

func atClock(tool *HoursTool, hhmm string) {
	tool.now = func() time.Time {
		parsed, _ := time.Parse("15:04", hhmm)
		return parsed
	}
}

func TestCheckHours_OpenAndAccepting(t *testing.T) {
	m := &domain.Merchant{
		ID:              uuid.New(),
		Name:            "Mario Pizza",
		OpensAt:         "10:00",
		ClosesAt:        "23:00",
		AcceptingOrders: true,
	}
	store := &fakeStore{merchants: map[uuid.UUID]*domain.Merchant{m.ID: m}}

	tool := NewHoursTool(discardLogger())
	atClock(tool, "14:00")

	res := tool.Execute(context.Background(), map[string]any{"merchant_id": m.ID.String()},
		&tools.ToolContext{CustomerID: "c1", Locale: "en", Store: store})
	if !res.Ok() {
		t.Fatalf("expected success, got %s", res.Message)
	}
	if res.Data["open_now"] != true || res.Data["can_order"] != true {
		t.Errorf("expected open and orderable, got %v", res.Data)
	}
}

func TestCheckHours_ClosedOverridesAccepting(t *testing.T) {
	m := &domain.Merchant{
		ID:              uuid.New(),
		Name:            "Mario Pizza",
		OpensAt:         "10:00",
		ClosesAt:        "23:00",
		AcceptingOrders: true,
	}
	store := &fakeStore{merchants: map[uuid.UUID]*domain.Merchant{m.ID: m}}

	tool := NewHoursTool(discardLogger())
	atClock(tool, "03:00")

	res := tool.Execute(context.Background(), map[string]any{"merchant_id": m.ID.String()},
		&tools.ToolContext{Store: store})
	if res.Data["open_now"] != false || res.Data["can_order"] != false {
		t.Errorf("closed merchant cannot take orders, got %v", res.Data)
	}
	if res.Data["accepting_orders"] != true {
		t.Errorf("the accepting toggle is reported independently, got %v", res.Data)
	}
}

func TestCheckHours_OvernightWindow(t *testing.T) {
	m := &domain.Merchant{
		ID:              uuid.New(),
		Name:            "Late Night Grill",
		OpensAt:         "18:00",
		ClosesAt:        "02:00",
		AcceptingOrders: true,
	}
	store := &fakeStore{merchants: map[uuid.UUID]*domain.Merchant{m.ID: m}}
	tool := NewHoursTool(discardLogger())

	atClock(tool, "01:00")
	res := tool.Execute(context.Background(), map[string]any{"merchant_id": m.ID.String()},
		&tools.ToolContext{Store: store})
	if res.Data["open_now"] != true {
		t.Error("01:00 falls inside an 18:00-02:00 window")
	}

	atClock(tool, "10:00")
	res = tool.Execute(context.Background(), map[string]any{"merchant_id": m.ID.String()},
		&tools.ToolContext{Store: store})
	if res.Data["open_now"] != false {
		t.Error("10:00 falls outside an 18:00-02:00 window")
	}
}

func TestCheckHours_ArabicName(t *testing.T) {
	m := &domain.Merchant{
		ID:     uuid.New(),
		Name:   "Koshary El Tahrir",
		NameAr: "كشري التحرير",
	}
	store := &fakeStore{merchants: map[uuid.UUID]*domain.Merchant{m.ID: m}}
	tool := NewHoursTool(discardLogger())

	res := tool.Execute(context.Background(), map[string]any{"merchant_id": m.ID.String()},
		&tools.ToolContext{Locale: "ar", Store: store})
	if res.Data["name"] != "كشري التحرير" {
		t.Errorf("arabic locale must use the arabic name, got %v", res.Data["name"])
	}
}

func TestCheckHours_NotFound(t *testing.T) {
	tool := NewHoursTool(discardLogger())
	res := tool.Execute(context.Background(), map[string]any{"merchant_id": uuid.NewString()},
		&tools.ToolContext{Store: &fakeStore{merchants: map[uuid.UUID]*domain.Merchant{}}})
	if res.Error != tools.ErrNotFound {
		t.Fatalf("expected not_found, got %s", res.Error)
	}
}
