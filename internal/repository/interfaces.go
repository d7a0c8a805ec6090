// Package repository は患者プロフィールの永続化インターフェースと、
// テーブルAPI（REST）・PostgreSQLによる実装を提供する。
// ストレージ側の命名（snake_case、medical_history.date など）はこの境界で正規化する。
package repository

import (
	"context"

	"github.com/hitoshi/healthmate/internal/model"
)

// ProfileRepository はプロフィールとその子コレクションの永続化インターフェース。
// 各操作は1行のみを対象とし、コレクションをまたぐトランザクションは持たない。
// フィールド単位の検証は行わず、存在と形のみを確認する。
type ProfileRepository interface {
	// CreateProfile はルートレコードと初期の子エントリを作成する。
	// 同じIDのプロフィールが既に存在する場合はConflictを返す。upsertはしない。
	CreateProfile(ctx context.Context, profile *model.Profile) (*model.Profile, error)

	// GetProfile はルートレコードと4つの子コレクションを1回の論理的な読み取りで取得する。
	// 存在しないIDはNotFoundを返す。
	GetProfile(ctx context.Context, id string) (*model.Profile, error)

	// UpdateProfile はルートフィールドのみを更新する。子コレクションには触れない。
	// 戻り値の子コレクションは空になる。
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error)

	AddMedicalHistory(ctx context.Context, parentID string, entry model.MedicalHistoryEntry) (*model.MedicalHistoryEntry, error)
	UpdateMedicalHistory(ctx context.Context, entryID string, patch model.MedicalHistoryPatch) (*model.MedicalHistoryEntry, error)
	DeleteMedicalHistory(ctx context.Context, entryID string) error

	AddAllergy(ctx context.Context, parentID string, entry model.AllergyEntry) (*model.AllergyEntry, error)
	UpdateAllergy(ctx context.Context, entryID string, patch model.AllergyPatch) (*model.AllergyEntry, error)
	DeleteAllergy(ctx context.Context, entryID string) error

	AddMedication(ctx context.Context, parentID string, entry model.MedicationEntry) (*model.MedicationEntry, error)
	UpdateMedication(ctx context.Context, entryID string, patch model.MedicationPatch) (*model.MedicationEntry, error)
	DeleteMedication(ctx context.Context, entryID string) error

	AddEmergencyContact(ctx context.Context, parentID string, entry model.EmergencyContactEntry) (*model.EmergencyContactEntry, error)
	UpdateEmergencyContact(ctx context.Context, entryID string, patch model.EmergencyContactPatch) (*model.EmergencyContactEntry, error)
	DeleteEmergencyContact(ctx context.Context, entryID string) error
}

// TokenSource は現在のセッションのアクセストークンを提供する。
// session.Storeが実装する。サインインしていない場合は空文字列を返す。
type TokenSource interface {
	AccessToken() string
}

// ストレージ上のテーブル名
const (
	TableProfiles          = "profiles"
	TableMedicalHistory    = "medical_history"
	TableAllergies         = "allergies"
	TableMedications       = "medications"
	TableEmergencyContacts = "emergency_contacts"
)
