package address

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/engezna/engezna-agent/internal/domain"
	"github.com/engezna/engezna-agent/internal/memory"
	"github.com/engezna/engezna-agent/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	addresses []domain.Address
	listErr   error
}

func (f *fakeStore) Merchants() domain.MerchantStore   { return nil }
func (f *fakeStore) MenuItems() domain.MenuItemStore   { return nil }
func (f *fakeStore) Orders() domain.OrderStore         { return nil }
func (f *fakeStore) Addresses() domain.AddressStore    { return (*fakeAddresses)(f) }
func (f *fakeStore) Embeddings() domain.EmbeddingStore { return nil }
func (f *fakeStore) Memories() memory.Store            { return nil }
func (f *fakeStore) Migrate(context.Context) error     { return nil }
func (f *fakeStore) Close() error                      { return nil }
func (f *fakeStore) Driver() string                    { return "fake" }

type fakeAddresses fakeStore

func (f *fakeAddresses) ListByCustomer(_ context.Context, customerID string) ([]domain.Address, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Address
	for _, a := range f.addresses {
		if a.CustomerID == customerID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeAddresses) Get(context.Context, uuid.UUID) (*domain.Address, error) {
	return nil, nil
}

func TestListAddresses(t *testing.T) {
	store := &fakeStore{addresses: []domain.Address{
		{ID: uuid.New(), CustomerID: "cust-1", Label: "home", Street: "12 Tahrir St", City: "Cairo", Building: "4B", IsDefault: true},
		{ID: uuid.New(), CustomerID: "cust-1", Label: "work", Street: "Smart Village", City: "Giza"},
		{ID: uuid.New(), CustomerID: "someone-else", Label: "home", City: "Alexandria"},
	}}

	tool := NewTool(discardLogger())
	res := tool.Execute(context.Background(), nil, &tools.ToolContext{CustomerID: "cust-1", Store: store})
	if !res.Ok() {
		t.Fatalf("expected success, got %s", res.Message)
	}

	addresses := res.Data["addresses"].([]map[string]any)
	if len(addresses) != 2 {
		t.Fatalf("expected only this customer's addresses, got %d", len(addresses))
	}
	if addresses[0]["label"] != "home" || addresses[0]["is_default"] != true {
		t.Errorf("unexpected first entry: %v", addresses[0])
	}
	if addresses[0]["building"] != "4B" {
		t.Errorf("building missing: %v", addresses[0])
	}
	if _, present := addresses[1]["building"]; present {
		t.Error("blank building must be omitted")
	}
}

func TestListAddresses_EmptyCarriesNote(t *testing.T) {
	tool := NewTool(discardLogger())
	res := tool.Execute(context.Background(), nil, &tools.ToolContext{CustomerID: "cust-1", Store: &fakeStore{}})
	if !res.Ok() {
		t.Fatalf("no addresses is still a success, got %s", res.Error)
	}
	if res.Data["note"] == nil {
		t.Error("the model needs to know the customer must add an address first")
	}
}

func TestListAddresses_StoreFailure(t *testing.T) {
	tool := NewTool(discardLogger())
	res := tool.Execute(context.Background(), nil, &tools.ToolContext{
		CustomerID: "cust-1",
		Store:      &fakeStore{listErr: errors.New("db down")},
	})
	if res.Error != tools.ErrUpstreamFailure {
		t.Fatalf("expected upstream_failure, got %s", res.Error)
	}
}
