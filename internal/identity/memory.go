package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps identities in process memory. Used in tests and
// single-node development runs without postgres.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*memoryRow
	clock func() time.Time
}

type memoryRow struct {
	ident Identity
	rec   CredentialRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*memoryRow),
		clock: time.Now,
	}
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	ident := row.ident
	return &ident, nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.lookupEmail(email)
	if row == nil {
		return nil, ErrNotFound
	}
	ident := row.ident
	return &ident, nil
}

func (s *MemoryStore) Upsert(
	ctx context.Context,
	p Profile,
	seal SealFunc,
	expiry time.Time,
) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()

	row := s.lookupEmail(p.Email)
	if row == nil {
		row = &memoryRow{
			ident: Identity{
				ID:        uuid.NewString(),
				Email:     p.Email,
				CreatedAt: now,
			},
		}
		s.byID[row.ident.ID] = row
	}

	sealed, err := seal(row.ident.ID)
	if err != nil {
		return nil, err
	}

	row.ident.DisplayName = p.DisplayName
	row.ident.Timezone = p.Timezone
	row.ident.CalendarAccountID = p.CalendarAccountID
	row.ident.CredentialState = StateValid
	row.ident.CredentialExpiry = expiry
	row.ident.UpdatedAt = now

	row.rec = CredentialRecord{
		Sealed: append([]byte(nil), sealed...),
		Expiry: expiry,
		State:  StateValid,
	}

	ident := row.ident
	return &ident, nil
}

func (s *MemoryStore) Credential(ctx context.Context, id string) (*CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec := CredentialRecord{
		Sealed: append([]byte(nil), row.rec.Sealed...),
		Expiry: row.rec.Expiry,
		State:  row.rec.State,
	}
	return &rec, nil
}

func (s *MemoryStore) ReplaceCredential(
	ctx context.Context,
	id string,
	sealed []byte,
	expiry time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if row.rec.State == StateRevoked {
		return ErrRevoked
	}
	row.rec = CredentialRecord{
		Sealed: append([]byte(nil), sealed...),
		Expiry: expiry,
		State:  StateValid,
	}
	row.ident.CredentialState = StateValid
	row.ident.CredentialExpiry = expiry
	row.ident.UpdatedAt = s.clock()
	return nil
}

func (s *MemoryStore) MarkRevoked(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	row.rec = CredentialRecord{State: StateRevoked}
	row.ident.CredentialState = StateRevoked
	row.ident.CredentialExpiry = time.Time{}
	row.ident.UpdatedAt = s.clock()
	return nil
}

func (s *MemoryStore) lookupEmail(email string) *memoryRow {
	for _, row := range s.byID {
		if strings.EqualFold(row.ident.Email, email) {
			return row
		}
	}
	return nil
}
