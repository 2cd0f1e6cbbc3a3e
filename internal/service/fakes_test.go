package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sachigoyal/echo-auth/internal/domain"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]domain.User)}
}

func (f *fakeUserRepo) GetByID(_ context.Context, userID int64) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (f *fakeUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return user, nil
}

type fakeAppRepo struct {
	mu     sync.Mutex
	apps   map[int64]domain.App
	owned  map[int64][]domain.App
	member map[int64][]domain.MemberApp
}

func newFakeAppRepo() *fakeAppRepo {
	return &fakeAppRepo{apps: make(map[int64]domain.App)}
}

func (f *fakeAppRepo) GetByID(_ context.Context, appID int64) (domain.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[appID]
	if !ok {
		return domain.App{}, pgx.ErrNoRows
	}
	return app, nil
}

func (f *fakeAppRepo) ListOwnedBy(_ context.Context, userID int64) ([]domain.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owned[userID], nil
}

func (f *fakeAppRepo) ListMemberAppsByUser(_ context.Context, userID int64) ([]domain.MemberApp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.member[userID], nil
}

type fakeMembershipRepo struct {
	mu          sync.Mutex
	memberships map[[2]int64]domain.Membership
	created     []domain.Membership
}

func newFakeMembershipRepo() *fakeMembershipRepo {
	return &fakeMembershipRepo{memberships: make(map[[2]int64]domain.Membership)}
}

func (f *fakeMembershipRepo) GetActive(_ context.Context, userID, appID int64) (domain.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[[2]int64{userID, appID}]
	if !ok || !m.Active() {
		return domain.Membership{}, pgx.ErrNoRows
	}
	return m, nil
}

func (f *fakeMembershipRepo) Create(_ context.Context, m domain.Membership) (domain.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberships[[2]int64{m.UserID, m.AppID}] = m
	f.created = append(f.created, m)
	return m, nil
}

type fakeRefreshTokenRepo struct {
	mu     sync.Mutex
	byID   map[int64]domain.RefreshToken
	tokens map[string]int64
}

func newFakeRefreshTokenRepo() *fakeRefreshTokenRepo {
	return &fakeRefreshTokenRepo{
		byID:   make(map[int64]domain.RefreshToken),
		tokens: make(map[string]int64),
	}
}

func (f *fakeRefreshTokenRepo) Create(_ context.Context, token domain.RefreshToken) (domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token.CreatedAt = time.Now()
	f.byID[token.ID] = token
	f.tokens[token.Token] = token.ID
	return token, nil
}

func (f *fakeRefreshTokenRepo) GetActiveByToken(_ context.Context, token string) (domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tokens[token]
	if !ok {
		return domain.RefreshToken{}, pgx.ErrNoRows
	}
	stored := f.byID[id]
	if stored.ArchivedAt != nil {
		return domain.RefreshToken{}, pgx.ErrNoRows
	}
	return stored, nil
}

func (f *fakeRefreshTokenRepo) ArchiveIfActive(_ context.Context, token string) (domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tokens[token]
	if !ok {
		return domain.RefreshToken{}, pgx.ErrNoRows
	}
	stored := f.byID[id]
	if stored.ArchivedAt != nil {
		return domain.RefreshToken{}, pgx.ErrNoRows
	}
	now := time.Now()
	stored.ArchivedAt = &now
	f.byID[id] = stored
	return stored, nil
}

func (f *fakeRefreshTokenRepo) Archive(_ context.Context, tokenID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byID[tokenID]
	if !ok {
		return pgx.ErrNoRows
	}
	now := time.Now()
	stored.ArchivedAt = &now
	f.byID[tokenID] = stored
	return nil
}

func (f *fakeRefreshTokenRepo) ArchiveActiveByUserApp(_ context.Context, userID, appID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for id, stored := range f.byID {
		if stored.UserID == userID && stored.AppID == appID && stored.ArchivedAt == nil {
			stored.ArchivedAt = &now
			f.byID[id] = stored
		}
	}
	return nil
}

func (f *fakeRefreshTokenRepo) activeCount(userID, appID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, stored := range f.byID {
		if stored.UserID == userID && stored.AppID == appID && stored.ArchivedAt == nil {
			count++
		}
	}
	return count
}

type memoryCodeConsumer struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMemoryCodeConsumer() *memoryCodeConsumer {
	return &memoryCodeConsumer{seen: make(map[string]struct{})}
}

func (m *memoryCodeConsumer) Consume(_ context.Context, code string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[code]; ok {
		return false, nil
	}
	m.seen[code] = struct{}{}
	return true, nil
}

type fakeAPIKeyRepo struct {
	mu      sync.Mutex
	byHash  map[string]apiKeyRecord
	touched []int64
}

type apiKeyRecord struct {
	key  domain.APIKey
	user domain.User
	app  domain.App
}

func newFakeAPIKeyRepo() *fakeAPIKeyRepo {
	return &fakeAPIKeyRepo{byHash: make(map[string]apiKeyRecord)}
}

func (f *fakeAPIKeyRepo) Create(_ context.Context, key domain.APIKey) (domain.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byHash[key.KeyHash] = apiKeyRecord{key: key}
	return key, nil
}

func (f *fakeAPIKeyRepo) FindByHash(_ context.Context, keyHash string) (domain.APIKey, domain.User, domain.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.byHash[keyHash]
	if !ok {
		return domain.APIKey{}, domain.User{}, domain.App{}, pgx.ErrNoRows
	}
	return record.key, record.user, record.app, nil
}

func (f *fakeAPIKeyRepo) TouchUsage(_ context.Context, keyID int64, _ domain.APIKeyUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, keyID)
	return nil
}

func (f *fakeAPIKeyRepo) touchedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.touched)
}
