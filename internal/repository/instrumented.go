package repository

import (
	"context"

	"github.com/hitoshi/healthmate/internal/model"
)

// OperationRecorder はリポジトリ操作の結果を記録する。
// metrics.Collectorが実装する。
type OperationRecorder interface {
	RecordProfileOperation(operation string, err error)
}

// InstrumentedRepo は各操作の結果をOperationRecorderに記録するProfileRepositoryのデコレーター。
type InstrumentedRepo struct {
	inner    ProfileRepository
	recorder OperationRecorder
}

var _ ProfileRepository = (*InstrumentedRepo)(nil)

// NewInstrumentedRepo はinnerをラップしたInstrumentedRepoを生成する。
func NewInstrumentedRepo(inner ProfileRepository, recorder OperationRecorder) *InstrumentedRepo {
	return &InstrumentedRepo{inner: inner, recorder: recorder}
}

func observe[T any](r *InstrumentedRepo, operation string, v T, err error) (T, error) {
	r.recorder.RecordProfileOperation(operation, err)
	return v, err
}

func (r *InstrumentedRepo) CreateProfile(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	p, err := r.inner.CreateProfile(ctx, profile)
	return observe(r, "create_profile", p, err)
}

func (r *InstrumentedRepo) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	p, err := r.inner.GetProfile(ctx, id)
	return observe(r, "get_profile", p, err)
}

func (r *InstrumentedRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error) {
	p, err := r.inner.UpdateProfile(ctx, id, update)
	return observe(r, "update_profile", p, err)
}

func (r *InstrumentedRepo) AddMedicalHistory(ctx context.Context, parentID string, entry model.MedicalHistoryEntry) (*model.MedicalHistoryEntry, error) {
	e, err := r.inner.AddMedicalHistory(ctx, parentID, entry)
	return observe(r, "add_medical_history", e, err)
}

func (r *InstrumentedRepo) UpdateMedicalHistory(ctx context.Context, entryID string, patch model.MedicalHistoryPatch) (*model.MedicalHistoryEntry, error) {
	e, err := r.inner.UpdateMedicalHistory(ctx, entryID, patch)
	return observe(r, "update_medical_history", e, err)
}

func (r *InstrumentedRepo) DeleteMedicalHistory(ctx context.Context, entryID string) error {
	err := r.inner.DeleteMedicalHistory(ctx, entryID)
	r.recorder.RecordProfileOperation("delete_medical_history", err)
	return err
}

func (r *InstrumentedRepo) AddAllergy(ctx context.Context, parentID string, entry model.AllergyEntry) (*model.AllergyEntry, error) {
	e, err := r.inner.AddAllergy(ctx, parentID, entry)
	return observe(r, "add_allergy", e, err)
}

func (r *InstrumentedRepo) UpdateAllergy(ctx context.Context, entryID string, patch model.AllergyPatch) (*model.AllergyEntry, error) {
	e, err := r.inner.UpdateAllergy(ctx, entryID, patch)
	return observe(r, "update_allergy", e, err)
}

func (r *InstrumentedRepo) DeleteAllergy(ctx context.Context, entryID string) error {
	err := r.inner.DeleteAllergy(ctx, entryID)
	r.recorder.RecordProfileOperation("delete_allergy", err)
	return err
}

func (r *InstrumentedRepo) AddMedication(ctx context.Context, parentID string, entry model.MedicationEntry) (*model.MedicationEntry, error) {
	e, err := r.inner.AddMedication(ctx, parentID, entry)
	return observe(r, "add_medication", e, err)
}

func (r *InstrumentedRepo) UpdateMedication(ctx context.Context, entryID string, patch model.MedicationPatch) (*model.MedicationEntry, error) {
	e, err := r.inner.UpdateMedication(ctx, entryID, patch)
	return observe(r, "update_medication", e, err)
}

func (r *InstrumentedRepo) DeleteMedication(ctx context.Context, entryID string) error {
	err := r.inner.DeleteMedication(ctx, entryID)
	r.recorder.RecordProfileOperation("delete_medication", err)
	return err
}

func (r *InstrumentedRepo) AddEmergencyContact(ctx context.Context, parentID string, entry model.EmergencyContactEntry) (*model.EmergencyContactEntry, error) {
	e, err := r.inner.AddEmergencyContact(ctx, parentID, entry)
	return observe(r, "add_emergency_contact", e, err)
}

func (r *InstrumentedRepo) UpdateEmergencyContact(ctx context.Context, entryID string, patch model.EmergencyContactPatch) (*model.EmergencyContactEntry, error) {
	e, err := r.inner.UpdateEmergencyContact(ctx, entryID, patch)
	return observe(r, "update_emergency_contact", e, err)
}

func (r *InstrumentedRepo) DeleteEmergencyContact(ctx context.Context, entryID string) error {
	err := r.inner.DeleteEmergencyContact(ctx, entryID)
	r.recorder.RecordProfileOperation("delete_emergency_contact", err)
	return err
}
