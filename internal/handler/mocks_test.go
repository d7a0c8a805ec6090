package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/healthmate/internal/middleware"
	"github.com/hitoshi/healthmate/internal/model"
	"github.com/hitoshi/healthmate/internal/repository"
	"github.com/hitoshi/healthmate/internal/session"
)

// --- モック定義 ---

// mockStore はSessionStoreとIdentitySourceのモック実装。
type mockStore struct {
	mu    sync.Mutex
	state session.State
	subs  map[int]func(session.State)
	next  int

	signInFn  func(ctx context.Context, email, password string) error
	signUpFn  func(ctx context.Context, email, password string, seed *model.Profile) error
	signOutFn func(ctx context.Context) error
	retryFn   func(ctx context.Context) error
	refreshFn func(ctx context.Context) error

	refreshCalls int
}

var (
	_ SessionStore              = (*mockStore)(nil)
	_ middleware.IdentitySource = (*mockStore)(nil)
)

func newMockStore(st session.State) *mockStore {
	return &mockStore{state: st, subs: make(map[int]func(session.State))}
}

func authenticatedStore() *mockStore {
	return newMockStore(session.State{
		Status:   session.StatusAuthenticated,
		Identity: &model.Identity{ID: "user-1", Email: "a@b.com"},
		Profile: &model.Profile{
			ID: "user-1", Name: "Ada", Email: "a@b.com", Height: "170", Weight: "65", BMI: "22.5",
			MedicalHistory: []model.MedicalHistoryEntry{}, Allergies: []model.AllergyEntry{},
			Medications: []model.MedicationEntry{}, EmergencyContacts: []model.EmergencyContactEntry{},
		},
	})
}

func (m *mockStore) State() session.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockStore) IdentityID() string {
	st := m.State()
	if !st.Authenticated() {
		return ""
	}
	return st.Identity.ID
}

func (m *mockStore) Subscribe(fn func(session.State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *mockStore) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// publish は状態を更新して購読者に通知する。
func (m *mockStore) publish(st session.State) {
	m.mu.Lock()
	m.state = st
	subs := make([]func(session.State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

func (m *mockStore) SignIn(ctx context.Context, email, password string) error {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil
}

func (m *mockStore) SignUp(ctx context.Context, email, password string, seed *model.Profile) error {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, seed)
	}
	return nil
}

func (m *mockStore) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

func (m *mockStore) RetryConnection(ctx context.Context) error {
	if m.retryFn != nil {
		return m.retryFn(ctx)
	}
	return nil
}

func (m *mockStore) RefreshProfile(ctx context.Context) error {
	m.mu.Lock()
	m.refreshCalls++
	m.mu.Unlock()
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return nil
}

// mockAdopter はSessionAdopterのモック実装。
type mockAdopter struct {
	adoptFn func(ctx context.Context, accessToken, refreshToken string) (*model.Session, error)
}

func (m *mockAdopter) AdoptSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error) {
	if m.adoptFn != nil {
		return m.adoptFn(ctx, accessToken, refreshToken)
	}
	return &model.Session{AccessToken: accessToken}, nil
}

// fakeRepo はメモリ上のProfileRepository。failOnに操作名を登録するとその操作が失敗する。
type fakeRepo struct {
	mu      sync.Mutex
	profile *model.Profile
	updates []model.ProfileUpdate
	patches map[string]any
	ops     []string
	failOn  map[string]error
	owners  map[string]string
	nextID  int
}

var _ repository.ProfileRepository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	p := &model.Profile{ID: "user-1", Name: "Ada", Email: "a@b.com", Height: "170", Weight: "65", BMI: "22.5"}
	p.NormalizeCollections()
	return &fakeRepo{profile: p, patches: make(map[string]any), failOn: make(map[string]error), owners: make(map[string]string)}
}

// begin は操作を記録し、失敗させる場合はそのエラーを返す。
func (f *fakeRepo) begin(op string) error {
	f.ops = append(f.ops, op)
	return f.failOn[op]
}

// beginScoped はbeginに加えて、コンテキストで指定された所有者を記録する。
func (f *fakeRepo) beginScoped(ctx context.Context, op string) error {
	f.owners[op] = repository.OwnerFromContext(ctx)
	return f.begin(op)
}

func (f *fakeRepo) newID() string {
	f.nextID++
	return fmt.Sprintf("e-%d", f.nextID)
}

func (f *fakeRepo) CreateProfile(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create_profile"); err != nil {
		return nil, err
	}
	cp := *profile
	f.profile = &cp
	return &cp, nil
}

func (f *fakeRepo) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get_profile"); err != nil {
		return nil, err
	}
	if f.profile == nil || f.profile.ID != id {
		return nil, model.NewProfileNotFoundError(id)
	}
	cp := *f.profile
	return &cp, nil
}

func (f *fakeRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("update_profile"); err != nil {
		return nil, err
	}
	f.updates = append(f.updates, update)
	root := *f.profile
	root.MedicalHistory, root.Allergies, root.Medications, root.EmergencyContacts = nil, nil, nil, nil
	root.NormalizeCollections()
	return &root, nil
}

func (f *fakeRepo) AddMedicalHistory(ctx context.Context, parentID string, entry model.MedicalHistoryEntry) (*model.MedicalHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("add_medical_history"); err != nil {
		return nil, err
	}
	entry.ID = f.newID()
	f.profile.MedicalHistory = append(f.profile.MedicalHistory, entry)
	return &entry, nil
}

func (f *fakeRepo) UpdateMedicalHistory(ctx context.Context, entryID string, patch model.MedicalHistoryPatch) (*model.MedicalHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.beginScoped(ctx, "update_medical_history"); err != nil {
		return nil, err
	}
	f.patches[entryID] = patch
	return &model.MedicalHistoryEntry{ID: entryID}, nil
}

func (f *fakeRepo) DeleteMedicalHistory(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginScoped(ctx, "delete_medical_history")
}

func (f *fakeRepo) AddAllergy(ctx context.Context, parentID string, entry model.AllergyEntry) (*model.AllergyEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("add_allergy"); err != nil {
		return nil, err
	}
	entry.ID = f.newID()
	f.profile.Allergies = append(f.profile.Allergies, entry)
	return &entry, nil
}

func (f *fakeRepo) UpdateAllergy(ctx context.Context, entryID string, patch model.AllergyPatch) (*model.AllergyEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.beginScoped(ctx, "update_allergy"); err != nil {
		return nil, err
	}
	f.patches[entryID] = patch
	return &model.AllergyEntry{ID: entryID}, nil
}

func (f *fakeRepo) DeleteAllergy(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginScoped(ctx, "delete_allergy")
}

func (f *fakeRepo) AddMedication(ctx context.Context, parentID string, entry model.MedicationEntry) (*model.MedicationEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("add_medication"); err != nil {
		return nil, err
	}
	entry.ID = f.newID()
	f.profile.Medications = append(f.profile.Medications, entry)
	return &entry, nil
}

func (f *fakeRepo) UpdateMedication(ctx context.Context, entryID string, patch model.MedicationPatch) (*model.MedicationEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.beginScoped(ctx, "update_medication"); err != nil {
		return nil, err
	}
	f.patches[entryID] = patch
	return &model.MedicationEntry{ID: entryID}, nil
}

func (f *fakeRepo) DeleteMedication(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginScoped(ctx, "delete_medication")
}

func (f *fakeRepo) AddEmergencyContact(ctx context.Context, parentID string, entry model.EmergencyContactEntry) (*model.EmergencyContactEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("add_emergency_contact"); err != nil {
		return nil, err
	}
	entry.ID = f.newID()
	f.profile.EmergencyContacts = append(f.profile.EmergencyContacts, entry)
	return &entry, nil
}

func (f *fakeRepo) UpdateEmergencyContact(ctx context.Context, entryID string, patch model.EmergencyContactPatch) (*model.EmergencyContactEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.beginScoped(ctx, "update_emergency_contact"); err != nil {
		return nil, err
	}
	f.patches[entryID] = patch
	return &model.EmergencyContactEntry{ID: entryID}, nil
}

func (f *fakeRepo) DeleteEmergencyContact(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginScoped(ctx, "delete_emergency_contact")
}

func (f *fakeRepo) recordedOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}
