package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/healthmate/internal/errclass"
	"github.com/hitoshi/healthmate/internal/model"
)

// PostgresProfileRepo はPostgreSQLを直接使用したプロフィールリポジトリ。
// バックエンドをセルフホストする構成向け。スキーマはdatabaseパッケージのマイグレーションで作成する。
type PostgresProfileRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ ProfileRepository = (*PostgresProfileRepo)(nil)

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB, logger *slog.Logger) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db, logger: logger}
}

const profileColumns = `id, name, email, COALESCE(phone, ''), COALESCE(date_of_birth, ''),
	COALESCE(gender, ''), COALESCE(blood_type, ''), COALESCE(height, ''), COALESCE(weight, ''),
	COALESCE(bmi, ''), notifications, language`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(s rowScanner) (*profileRow, error) {
	var p profileRow
	err := s.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.DateOfBirth,
		&p.Gender, &p.BloodType, &p.Height, &p.Weight, &p.BMI, &p.Notifications, &p.Language)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProfile はルート行と初期の子エントリを1トランザクションで作成する。
func (r *PostgresProfileRepo) CreateProfile(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	language := profile.Language
	if language == "" {
		language = model.DefaultLanguage
	}
	row, err := scanProfile(tx.QueryRowContext(ctx,
		`INSERT INTO profiles (id, name, email, phone, date_of_birth, gender, blood_type, height, weight, bmi, notifications, language)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING `+profileColumns,
		profile.ID, profile.Name, profile.Email, nullIfEmpty(profile.Phone), nullIfEmpty(profile.DateOfBirth),
		nullIfEmpty(profile.Gender), nullIfEmpty(profile.BloodType), nullIfEmpty(profile.Height),
		nullIfEmpty(profile.Weight), nullIfEmpty(profile.BMI), profile.Notifications, language,
	))
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to insert profile: %w", err))
	}

	for _, e := range profile.MedicalHistory {
		created, err := insertMedicalHistory(ctx, tx, row.ID, e)
		if err != nil {
			return nil, err
		}
		row.MedicalHistory = append(row.MedicalHistory, *created)
	}
	for _, e := range profile.Allergies {
		created, err := insertAllergy(ctx, tx, row.ID, e)
		if err != nil {
			return nil, err
		}
		row.Allergies = append(row.Allergies, *created)
	}
	for _, e := range profile.Medications {
		created, err := insertMedication(ctx, tx, row.ID, e)
		if err != nil {
			return nil, err
		}
		row.Medications = append(row.Medications, *created)
	}
	for _, e := range profile.EmergencyContacts {
		created, err := insertEmergencyContact(ctx, tx, row.ID, e)
		if err != nil {
			return nil, err
		}
		row.EmergencyContacts = append(row.EmergencyContacts, *created)
	}

	if err := tx.Commit(); err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to commit profile: %w", err))
	}

	r.logger.Info("profile created", slog.String("profile_id", row.ID))
	return row.toModel(), nil
}

// GetProfile はルートと4つの子コレクションを読み取り専用のREPEATABLE READトランザクションで取得する。
func (r *PostgresProfileRepo) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	row, err := scanProfile(tx.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, model.NewProfileNotFoundError(id)
	}
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to get profile: %w", err))
	}

	if row.MedicalHistory, err = queryChildren(ctx, tx,
		`SELECT id, condition, COALESCE("date", ''), COALESCE(status, '') FROM medical_history
		 WHERE patient_id = $1 ORDER BY created_at, id`, id,
		func(s rowScanner) (medicalHistoryRow, error) {
			var c medicalHistoryRow
			err := s.Scan(&c.ID, &c.Condition, &c.Date, &c.Status)
			return c, err
		}); err != nil {
		return nil, err
	}
	if row.Allergies, err = queryChildren(ctx, tx,
		`SELECT id, allergen, COALESCE(severity, ''), COALESCE(notes, '') FROM allergies
		 WHERE patient_id = $1 ORDER BY created_at, id`, id,
		func(s rowScanner) (allergyRow, error) {
			var c allergyRow
			err := s.Scan(&c.ID, &c.Allergen, &c.Severity, &c.Notes)
			return c, err
		}); err != nil {
		return nil, err
	}
	if row.Medications, err = queryChildren(ctx, tx,
		`SELECT id, name, COALESCE(dosage, ''), COALESCE(frequency, '') FROM medications
		 WHERE patient_id = $1 ORDER BY created_at, id`, id,
		func(s rowScanner) (medicationRow, error) {
			var c medicationRow
			err := s.Scan(&c.ID, &c.Name, &c.Dosage, &c.Frequency)
			return c, err
		}); err != nil {
		return nil, err
	}
	if row.EmergencyContacts, err = queryChildren(ctx, tx,
		`SELECT id, name, COALESCE(relationship, ''), COALESCE(phone, '') FROM emergency_contacts
		 WHERE patient_id = $1 ORDER BY created_at, id`, id,
		func(s rowScanner) (emergencyContactRow, error) {
			var c emergencyContactRow
			err := s.Scan(&c.ID, &c.Name, &c.Relationship, &c.Phone)
			return c, err
		}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to finish profile read: %w", err))
	}
	return row.toModel(), nil
}

// UpdateProfile はルートフィールドのみを更新する。
func (r *PostgresProfileRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error) {
	cols := profileUpdateColumns(update)
	if len(cols) == 0 {
		return nil, errNothingToUpdate()
	}
	query, args := buildUpdate(TableProfiles, id, "", cols, true, profileColumns)
	row, err := scanProfile(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, model.NewProfileNotFoundError(id)
	}
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to update profile: %w", err))
	}
	return row.toModel(), nil
}

// AddMedicalHistory は既往歴を1件追加する。
func (r *PostgresProfileRepo) AddMedicalHistory(ctx context.Context, parentID string, entry model.MedicalHistoryEntry) (*model.MedicalHistoryEntry, error) {
	row, err := insertMedicalHistory(ctx, r.db, parentID, entry)
	if err != nil {
		return nil, missingParent(err, parentID)
	}
	e := row.toModel()
	return &e, nil
}

// UpdateMedicalHistory は既往歴を1件更新する。
func (r *PostgresProfileRepo) UpdateMedicalHistory(ctx context.Context, entryID string, patch model.MedicalHistoryPatch) (*model.MedicalHistoryEntry, error) {
	cols := medicalHistoryPatchColumns(patch)
	if len(cols) == 0 {
		return nil, errNothingToUpdate()
	}
	query, args := buildUpdate(TableMedicalHistory, entryID, OwnerFromContext(ctx), cols, false,
		`id, condition, COALESCE("date", ''), COALESCE(status, '')`)
	var c medicalHistoryRow
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Condition, &c.Date, &c.Status)
	if err != nil {
		return nil, entryUpdateError(TableMedicalHistory, entryID, err)
	}
	e := c.toModel()
	return &e, nil
}

// DeleteMedicalHistory は既往歴を1件削除する。
func (r *PostgresProfileRepo) DeleteMedicalHistory(ctx context.Context, entryID string) error {
	return r.deleteOne(ctx, TableMedicalHistory, entryID)
}

// AddAllergy はアレルギーを1件追加する。
func (r *PostgresProfileRepo) AddAllergy(ctx context.Context, parentID string, entry model.AllergyEntry) (*model.AllergyEntry, error) {
	row, err := insertAllergy(ctx, r.db, parentID, entry)
	if err != nil {
		return nil, missingParent(err, parentID)
	}
	e := row.toModel()
	return &e, nil
}

// UpdateAllergy はアレルギーを1件更新する。
func (r *PostgresProfileRepo) UpdateAllergy(ctx context.Context, entryID string, patch model.AllergyPatch) (*model.AllergyEntry, error) {
	cols := allergyPatchColumns(patch)
	if len(cols) == 0 {
		return nil, errNothingToUpdate()
	}
	query, args := buildUpdate(TableAllergies, entryID, OwnerFromContext(ctx), cols, false,
		`id, allergen, COALESCE(severity, ''), COALESCE(notes, '')`)
	var c allergyRow
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Allergen, &c.Severity, &c.Notes)
	if err != nil {
		return nil, entryUpdateError(TableAllergies, entryID, err)
	}
	e := c.toModel()
	return &e, nil
}

// DeleteAllergy はアレルギーを1件削除する。
func (r *PostgresProfileRepo) DeleteAllergy(ctx context.Context, entryID string) error {
	return r.deleteOne(ctx, TableAllergies, entryID)
}

// AddMedication は服薬を1件追加する。
func (r *PostgresProfileRepo) AddMedication(ctx context.Context, parentID string, entry model.MedicationEntry) (*model.MedicationEntry, error) {
	row, err := insertMedication(ctx, r.db, parentID, entry)
	if err != nil {
		return nil, missingParent(err, parentID)
	}
	e := row.toModel()
	return &e, nil
}

// UpdateMedication は服薬を1件更新する。
func (r *PostgresProfileRepo) UpdateMedication(ctx context.Context, entryID string, patch model.MedicationPatch) (*model.MedicationEntry, error) {
	cols := medicationPatchColumns(patch)
	if len(cols) == 0 {
		return nil, errNothingToUpdate()
	}
	query, args := buildUpdate(TableMedications, entryID, OwnerFromContext(ctx), cols, false,
		`id, name, COALESCE(dosage, ''), COALESCE(frequency, '')`)
	var c medicationRow
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Name, &c.Dosage, &c.Frequency)
	if err != nil {
		return nil, entryUpdateError(TableMedications, entryID, err)
	}
	e := c.toModel()
	return &e, nil
}

// DeleteMedication は服薬を1件削除する。
func (r *PostgresProfileRepo) DeleteMedication(ctx context.Context, entryID string) error {
	return r.deleteOne(ctx, TableMedications, entryID)
}

// AddEmergencyContact は緊急連絡先を1件追加する。
func (r *PostgresProfileRepo) AddEmergencyContact(ctx context.Context, parentID string, entry model.EmergencyContactEntry) (*model.EmergencyContactEntry, error) {
	row, err := insertEmergencyContact(ctx, r.db, parentID, entry)
	if err != nil {
		return nil, missingParent(err, parentID)
	}
	e := row.toModel()
	return &e, nil
}

// UpdateEmergencyContact は緊急連絡先を1件更新する。
func (r *PostgresProfileRepo) UpdateEmergencyContact(ctx context.Context, entryID string, patch model.EmergencyContactPatch) (*model.EmergencyContactEntry, error) {
	cols := emergencyContactPatchColumns(patch)
	if len(cols) == 0 {
		return nil, errNothingToUpdate()
	}
	query, args := buildUpdate(TableEmergencyContacts, entryID, OwnerFromContext(ctx), cols, false,
		`id, name, COALESCE(relationship, ''), COALESCE(phone, '')`)
	var c emergencyContactRow
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Name, &c.Relationship, &c.Phone)
	if err != nil {
		return nil, entryUpdateError(TableEmergencyContacts, entryID, err)
	}
	e := c.toModel()
	return &e, nil
}

// DeleteEmergencyContact は緊急連絡先を1件削除する。
func (r *PostgresProfileRepo) DeleteEmergencyContact(ctx context.Context, entryID string) error {
	return r.deleteOne(ctx, TableEmergencyContacts, entryID)
}

// deleteOne はIDで1行を削除する。該当行が無くてもエラーにしない。
// WithOwnerで患者が指定されている場合は、その患者の行のみを対象にする。
func (r *PostgresProfileRepo) deleteOne(ctx context.Context, table, id string) error {
	query, args := `DELETE FROM `+table+` WHERE id = $1`, []any{id}
	if owner := OwnerFromContext(ctx); owner != "" {
		query += ` AND patient_id = $2`
		args = append(args, owner)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errclass.Classify(fmt.Errorf("failed to delete from %s: %w", table, err))
	}
	return nil
}

// queryer は*sql.DBと*sql.Txの共通インターフェース。
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func insertMedicalHistory(ctx context.Context, q queryer, parentID string, e model.MedicalHistoryEntry) (*medicalHistoryRow, error) {
	var c medicalHistoryRow
	err := q.QueryRowContext(ctx,
		`INSERT INTO medical_history (id, patient_id, condition, "date", status) VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, condition, COALESCE("date", ''), COALESCE(status, '')`,
		entryID(e.ID), parentID, e.Condition, nullIfEmpty(e.Timeframe), nullIfEmpty(e.Status),
	).Scan(&c.ID, &c.Condition, &c.Date, &c.Status)
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to insert medical history: %w", err))
	}
	return &c, nil
}

func insertAllergy(ctx context.Context, q queryer, parentID string, e model.AllergyEntry) (*allergyRow, error) {
	var c allergyRow
	err := q.QueryRowContext(ctx,
		`INSERT INTO allergies (id, patient_id, allergen, severity, notes) VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, allergen, COALESCE(severity, ''), COALESCE(notes, '')`,
		entryID(e.ID), parentID, e.Allergen, nullIfEmpty(e.Severity), nullIfEmpty(e.Notes),
	).Scan(&c.ID, &c.Allergen, &c.Severity, &c.Notes)
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to insert allergy: %w", err))
	}
	return &c, nil
}

func insertMedication(ctx context.Context, q queryer, parentID string, e model.MedicationEntry) (*medicationRow, error) {
	var c medicationRow
	err := q.QueryRowContext(ctx,
		`INSERT INTO medications (id, patient_id, name, dosage, frequency) VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, name, COALESCE(dosage, ''), COALESCE(frequency, '')`,
		entryID(e.ID), parentID, e.Name, nullIfEmpty(e.Dosage), nullIfEmpty(e.Frequency),
	).Scan(&c.ID, &c.Name, &c.Dosage, &c.Frequency)
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to insert medication: %w", err))
	}
	return &c, nil
}

func insertEmergencyContact(ctx context.Context, q queryer, parentID string, e model.EmergencyContactEntry) (*emergencyContactRow, error) {
	var c emergencyContactRow
	err := q.QueryRowContext(ctx,
		`INSERT INTO emergency_contacts (id, patient_id, name, relationship, phone) VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, name, COALESCE(relationship, ''), COALESCE(phone, '')`,
		entryID(e.ID), parentID, e.Name, nullIfEmpty(e.Relationship), nullIfEmpty(e.Phone),
	).Scan(&c.ID, &c.Name, &c.Relationship, &c.Phone)
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to insert emergency contact: %w", err))
	}
	return &c, nil
}

// queryChildren は子テーブルの行を読み取る。行が無い場合はnilを返し、
// 空スライスへの正規化はprofileRow.toModelで行う。
func queryChildren[R any](ctx context.Context, q queryer, query, parentID string, scan func(rowScanner) (R, error)) ([]R, error) {
	rows, err := q.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to query children: %w", err))
	}
	defer rows.Close()

	var out []R
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, errclass.Classify(fmt.Errorf("failed to scan child row: %w", err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errclass.Classify(fmt.Errorf("failed to iterate child rows: %w", err))
	}
	return out, nil
}

// buildUpdate はUPDATE ... SET ... WHERE id = $n RETURNING ... を組み立てる。
// ownerが空でない場合はpatient_idの一致も条件に加える。
// カラム名はrows.goの固定値のみで、利用者の入力は含まれない。
func buildUpdate(table, id, owner string, cols []column, touchUpdatedAt bool, returning string) (string, []any) {
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(c.name), i+1))
		args = append(args, c.value)
	}
	if touchUpdatedAt {
		sets = append(sets, "updated_at = now()")
	}
	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if owner != "" {
		args = append(args, owner)
		where += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING %s",
		table, strings.Join(sets, ", "), where, returning)
	return query, args
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func entryUpdateError(table, id string, err error) error {
	if err == sql.ErrNoRows {
		return model.NewNotFoundError("No " + table + " entry found with id " + id)
	}
	return errclass.Classify(fmt.Errorf("failed to update %s: %w", table, err))
}

// entryID は子エントリのIDを決める。未指定の場合は新しいUUIDを発行する。
func entryID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
