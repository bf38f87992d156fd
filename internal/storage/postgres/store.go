package postgres

import (
	"context"
	"sync"

	"github.com/engezna/engezna-agent/internal/domain"
	"github.com/engezna/engezna-agent/internal/memory"
	"github.com/engezna/engezna-agent/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
// Sub-store repositories are created lazily and cached.
type Store struct {
	pgDB *DB

	mu         sync.Mutex
	merchants  domain.MerchantStore
	menuItems  domain.MenuItemStore
	orders     domain.OrderStore
	addresses  domain.AddressStore
	embeddings domain.EmbeddingStore
	memories   memory.Store
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Merchants() domain.MerchantStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.merchants == nil {
		s.merchants = NewMerchantRepository(s.pgDB.GormDB())
	}
	return s.merchants
}

func (s *Store) MenuItems() domain.MenuItemStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.menuItems == nil {
		s.menuItems = NewMenuItemRepository(s.pgDB.GormDB())
	}
	return s.menuItems
}

func (s *Store) Orders() domain.OrderStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders == nil {
		s.orders = NewOrderRepository(s.pgDB.GormDB())
	}
	return s.orders
}

func (s *Store) Addresses() domain.AddressStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addresses == nil {
		s.addresses = NewAddressRepository(s.pgDB.GormDB())
	}
	return s.addresses
}

func (s *Store) Embeddings() domain.EmbeddingStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.embeddings == nil {
		s.embeddings = NewEmbeddingRepository(s.pgDB.GormDB())
	}
	return s.embeddings
}

func (s *Store) Memories() memory.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memories == nil {
		s.memories = NewMemoryRepository(s.pgDB.GormDB(), true)
	}
	return s.memories
}

// Migrate runs GORM AutoMigrate for all models.
func (s *Store) Migrate(_ context.Context) error {
	return s.pgDB.GormDB().AutoMigrate(AllModels()...)
}

// Ping verifies the database connection. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pgDB.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return storage.DriverPostgres
}
