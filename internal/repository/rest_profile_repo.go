package repository

import (
	"context"
	"log/slog"

	"github.com/hitoshi/healthmate/internal/backend"
	"github.com/hitoshi/healthmate/internal/errclass"
	"github.com/hitoshi/healthmate/internal/model"
)

// RESTProfileRepo はバックエンドのテーブルAPIを使用したプロフィールリポジトリ。
// 認可は行レベルセキュリティに委ね、リクエストには現在のセッションのトークンを付ける。
type RESTProfileRepo struct {
	client *backend.Client
	tokens TokenSource
	logger *slog.Logger
}

var _ ProfileRepository = (*RESTProfileRepo)(nil)

// NewRESTProfileRepo はRESTProfileRepoを生成する。
func NewRESTProfileRepo(client *backend.Client, tokens TokenSource, logger *slog.Logger) *RESTProfileRepo {
	return &RESTProfileRepo{client: client, tokens: tokens, logger: logger}
}

func (r *RESTProfileRepo) token() (string, error) {
	t := r.tokens.AccessToken()
	if t == "" {
		return "", errclass.Classify(errclass.ErrSessionMissing)
	}
	return t, nil
}

// CreateProfile はルート行を挿入し、初期の子エントリをコレクションごとに一括挿入する。
// コレクションをまたぐトランザクションは無いため、途中で失敗した場合は
// それまでに挿入された行は残る。
func (r *RESTProfileRepo) CreateProfile(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	token, err := r.token()
	if err != nil {
		return nil, err
	}

	var roots []profileRow
	if err := r.client.Table(TableProfiles).Insert(ctx, token, rootRowFromProfile(profile), &roots); err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, emptyRepresentation(TableProfiles)
	}
	created := roots[0]

	if len(profile.MedicalHistory) > 0 {
		rows := make([]medicalHistoryRow, 0, len(profile.MedicalHistory))
		for _, e := range profile.MedicalHistory {
			rows = append(rows, medicalHistoryRowFrom(created.ID, e))
		}
		if err := r.client.Table(TableMedicalHistory).Insert(ctx, token, rows, &created.MedicalHistory); err != nil {
			return nil, err
		}
	}
	if len(profile.Allergies) > 0 {
		rows := make([]allergyRow, 0, len(profile.Allergies))
		for _, e := range profile.Allergies {
			rows = append(rows, allergyRowFrom(created.ID, e))
		}
		if err := r.client.Table(TableAllergies).Insert(ctx, token, rows, &created.Allergies); err != nil {
			return nil, err
		}
	}
	if len(profile.Medications) > 0 {
		rows := make([]medicationRow, 0, len(profile.Medications))
		for _, e := range profile.Medications {
			rows = append(rows, medicationRowFrom(created.ID, e))
		}
		if err := r.client.Table(TableMedications).Insert(ctx, token, rows, &created.Medications); err != nil {
			return nil, err
		}
	}
	if len(profile.EmergencyContacts) > 0 {
		rows := make([]emergencyContactRow, 0, len(profile.EmergencyContacts))
		for _, e := range profile.EmergencyContacts {
			rows = append(rows, emergencyContactRowFrom(created.ID, e))
		}
		if err := r.client.Table(TableEmergencyContacts).Insert(ctx, token, rows, &created.EmergencyContacts); err != nil {
			return nil, err
		}
	}

	r.logger.Info("profile created", slog.String("profile_id", created.ID))
	return created.toModel(), nil
}

// GetProfile はルートと子コレクションを埋め込みselectの1リクエストで取得する。
func (r *RESTProfileRepo) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	token, err := r.token()
	if err != nil {
		return nil, err
	}

	var rows []profileRow
	if err := r.client.Table(TableProfiles).Select(ctx, token, profileSelect, backend.Eq("id", id), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.NewProfileNotFoundError(id)
	}
	return rows[0].toModel(), nil
}

// UpdateProfile はルートフィールドのみを更新する。
func (r *RESTProfileRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error) {
	cols := profileUpdateColumns(update)
	if len(cols) == 0 {
		return nil, errNothingToUpdate()
	}
	row, err := updateOne[profileRow](ctx, r, TableProfiles, id, cols)
	if err != nil {
		if model.IsKind(err, model.KindNotFound) {
			return nil, model.NewProfileNotFoundError(id)
		}
		return nil, err
	}
	return row.toModel(), nil
}

// AddMedicalHistory は既往歴を1件追加する。
func (r *RESTProfileRepo) AddMedicalHistory(ctx context.Context, parentID string, entry model.MedicalHistoryEntry) (*model.MedicalHistoryEntry, error) {
	row, err := insertOne(ctx, r, TableMedicalHistory, medicalHistoryRowFrom(parentID, entry))
	if err != nil {
		return nil, missingParent(err, parentID)
	}
	e := row.toModel()
	return &e, nil
}

// UpdateMedicalHistory は既往歴を1件更新する。
func (r *RESTProfileRepo) UpdateMedicalHistory(ctx context.Context, entryID string, patch model.MedicalHistoryPatch) (*model.MedicalHistoryEntry, error) {
	row, err := updateOne[medicalHistoryRow](ctx, r, TableMedicalHistory, entryID, medicalHistoryPatchColumns(patch))
	if err != nil {
		return nil, err
	}
	e := row.toModel()
	return &e, nil
}

// DeleteMedicalHistory は既往歴を1件削除する。
func (r *RESTProfileRepo) DeleteMedicalHistory(ctx context.Context, entryID string) error {
	return r.deleteOne(ctx, TableMedicalHistory, entryID)
}

// AddAllergy はアレルギーを1件追加する。
func (r *RESTProfileRepo) AddAllergy(ctx context.Context, parentID string, entry model.AllergyEntry) (*model.AllergyEntry, error) {
	row, err := insertOne(ctx, r, TableAllergies, allergyRowFrom(parentID, entry))
	if err != nil {
		return nil, missingParent(err, parentID)
	}
	e := row.toModel()
	return &e, nil
}

// UpdateAllergy はアレルギーを1件更新する。
func (r *RESTProfileRepo) UpdateAllergy(ctx context.Context, entryID string, patch model.AllergyPatch) (*model.AllergyEntry, error) {
	row, err := updateOne[allergyRow](ctx, r, TableAllergies, entryID, allergyPatchColumns(patch))
	if err != nil {
		return nil, err
	}
	e := row.toModel()
	return &e, nil
}

// DeleteAllergy はアレルギーを1件削除する。
func (r *RESTProfileRepo) DeleteAllergy(ctx context.Context, entryID string) error {
	return r.deleteOne(ctx, TableAllergies, entryID)
}

// AddMedication は服薬を1件追加する。
func (r *RESTProfileRepo) AddMedication(ctx context.Context, parentID string, entry model.MedicationEntry) (*model.MedicationEntry, error) {
	row, err := insertOne(ctx, r, TableMedications, medicationRowFrom(parentID, entry))
	if err != nil {
		return nil, missingParent(err, parentID)
	}
	e := row.toModel()
	return &e, nil
}

// UpdateMedication は服薬を1件更新する。
func (r *RESTProfileRepo) UpdateMedication(ctx context.Context, entryID string, patch model.MedicationPatch) (*model.MedicationEntry, error) {
	row, err := updateOne[medicationRow](ctx, r, TableMedications, entryID, medicationPatchColumns(patch))
	if err != nil {
		return nil, err
	}
	e := row.toModel()
	return &e, nil
}

// DeleteMedication は服薬を1件削除する。
func (r *RESTProfileRepo) DeleteMedication(ctx context.Context, entryID string) error {
	return r.deleteOne(ctx, TableMedications, entryID)
}

// AddEmergencyContact は緊急連絡先を1件追加する。
func (r *RESTProfileRepo) AddEmergencyContact(ctx context.Context, parentID string, entry model.EmergencyContactEntry) (*model.EmergencyContactEntry, error) {
	row, err := insertOne(ctx, r, TableEmergencyContacts, emergencyContactRowFrom(parentID, entry))
	if err != nil {
		return nil, missingParent(err, parentID)
	}
	e := row.toModel()
	return &e, nil
}

// UpdateEmergencyContact は緊急連絡先を1件更新する。
func (r *RESTProfileRepo) UpdateEmergencyContact(ctx context.Context, entryID string, patch model.EmergencyContactPatch) (*model.EmergencyContactEntry, error) {
	row, err := updateOne[emergencyContactRow](ctx, r, TableEmergencyContacts, entryID, emergencyContactPatchColumns(patch))
	if err != nil {
		return nil, err
	}
	e := row.toModel()
	return &e, nil
}

// DeleteEmergencyContact は緊急連絡先を1件削除する。
func (r *RESTProfileRepo) DeleteEmergencyContact(ctx context.Context, entryID string) error {
	return r.deleteOne(ctx, TableEmergencyContacts, entryID)
}

// deleteOne はIDで1行を削除する。該当行が無くてもエラーにしない。
func (r *RESTProfileRepo) deleteOne(ctx context.Context, table, id string) error {
	token, err := r.token()
	if err != nil {
		return err
	}
	return r.client.Table(table).Delete(ctx, token, entryFilter(ctx, id))
}

// insertOne は1行を挿入し、挿入後の行を返す。
func insertOne[R any](ctx context.Context, r *RESTProfileRepo, table string, row R) (R, error) {
	var zero R
	token, err := r.token()
	if err != nil {
		return zero, err
	}
	var out []R
	if err := r.client.Table(table).Insert(ctx, token, row, &out); err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, emptyRepresentation(table)
	}
	return out[0], nil
}

// updateOne はIDで1行を更新し、更新後の行を返す。該当行が無い場合はNotFoundを返す。
func updateOne[R any](ctx context.Context, r *RESTProfileRepo, table, id string, cols []column) (R, error) {
	var zero R
	if len(cols) == 0 {
		return zero, errNothingToUpdate()
	}
	token, err := r.token()
	if err != nil {
		return zero, err
	}
	var out []R
	if err := r.client.Table(table).Update(ctx, token, entryFilter(ctx, id), columnsToMap(cols), &out); err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, model.NewNotFoundError("No " + table + " entry found with id " + id)
	}
	return out[0], nil
}

// emptyRepresentation は書き込みに成功したのに行が返らなかった場合のエラー。
// 行レベルセキュリティで読み取りが拒否された場合に起こる。
func emptyRepresentation(table string) error {
	return &model.ClassifiedError{
		Kind:    model.KindUnauthorized,
		Message: "The " + table + " row was written but could not be read back",
		Status:  403,
	}
}
