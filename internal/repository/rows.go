package repository

import (
	"errors"

	"github.com/hitoshi/healthmate/internal/model"
)

// profileRow はprofilesテーブルの行。子コレクションは埋め込みselectの結果として入る。
type profileRow struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	Email             string                `json:"email"`
	Phone             string                `json:"phone,omitempty"`
	DateOfBirth       string                `json:"date_of_birth,omitempty"`
	Gender            string                `json:"gender,omitempty"`
	BloodType         string                `json:"blood_type,omitempty"`
	Height            string                `json:"height,omitempty"`
	Weight            string                `json:"weight,omitempty"`
	BMI               string                `json:"bmi,omitempty"`
	Notifications     bool                  `json:"notifications"`
	Language          string                `json:"language,omitempty"`
	MedicalHistory    []medicalHistoryRow   `json:"medical_history,omitempty"`
	Allergies         []allergyRow          `json:"allergies,omitempty"`
	Medications       []medicationRow       `json:"medications,omitempty"`
	EmergencyContacts []emergencyContactRow `json:"emergency_contacts,omitempty"`
}

// medicalHistoryRow はmedical_historyテーブルの行。時期はdateカラムに保存される。
type medicalHistoryRow struct {
	ID        string `json:"id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	Condition string `json:"condition"`
	Date      string `json:"date"`
	Status    string `json:"status"`
}

type allergyRow struct {
	ID        string `json:"id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	Allergen  string `json:"allergen"`
	Severity  string `json:"severity"`
	Notes     string `json:"notes"`
}

type medicationRow struct {
	ID        string `json:"id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
}

type emergencyContactRow struct {
	ID           string `json:"id,omitempty"`
	PatientID    string `json:"patient_id,omitempty"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
}

// profileSelect はルートと4つの子コレクションをまとめて取得するselect式。
const profileSelect = "*,medical_history(*),allergies(*),medications(*),emergency_contacts(*)"

// rootRowFromProfile はプロフィールのルートフィールドのみを行に変換する。
func rootRowFromProfile(p *model.Profile) profileRow {
	return profileRow{
		ID:            p.ID,
		Name:          p.Name,
		Email:         p.Email,
		Phone:         p.Phone,
		DateOfBirth:   p.DateOfBirth,
		Gender:        p.Gender,
		BloodType:     p.BloodType,
		Height:        p.Height,
		Weight:        p.Weight,
		BMI:           p.BMI,
		Notifications: p.Notifications,
		Language:      p.Language,
	}
}

// toModel は行をプロフィールに変換する。欠けている子コレクションは空スライスになる。
func (r profileRow) toModel() *model.Profile {
	p := &model.Profile{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		Phone:         r.Phone,
		DateOfBirth:   r.DateOfBirth,
		Gender:        r.Gender,
		BloodType:     r.BloodType,
		Height:        r.Height,
		Weight:        r.Weight,
		BMI:           r.BMI,
		Notifications: r.Notifications,
		Language:      r.Language,
	}
	for _, row := range r.MedicalHistory {
		p.MedicalHistory = append(p.MedicalHistory, row.toModel())
	}
	for _, row := range r.Allergies {
		p.Allergies = append(p.Allergies, row.toModel())
	}
	for _, row := range r.Medications {
		p.Medications = append(p.Medications, row.toModel())
	}
	for _, row := range r.EmergencyContacts {
		p.EmergencyContacts = append(p.EmergencyContacts, row.toModel())
	}
	p.NormalizeCollections()
	return p
}

func medicalHistoryRowFrom(parentID string, e model.MedicalHistoryEntry) medicalHistoryRow {
	return medicalHistoryRow{ID: e.ID, PatientID: parentID, Condition: e.Condition, Date: e.Timeframe, Status: e.Status}
}

func (r medicalHistoryRow) toModel() model.MedicalHistoryEntry {
	return model.MedicalHistoryEntry{ID: r.ID, Condition: r.Condition, Timeframe: r.Date, Status: r.Status}
}

func allergyRowFrom(parentID string, e model.AllergyEntry) allergyRow {
	return allergyRow{ID: e.ID, PatientID: parentID, Allergen: e.Allergen, Severity: e.Severity, Notes: e.Notes}
}

func (r allergyRow) toModel() model.AllergyEntry {
	return model.AllergyEntry{ID: r.ID, Allergen: r.Allergen, Severity: r.Severity, Notes: r.Notes}
}

func medicationRowFrom(parentID string, e model.MedicationEntry) medicationRow {
	return medicationRow{ID: e.ID, PatientID: parentID, Name: e.Name, Dosage: e.Dosage, Frequency: e.Frequency}
}

func (r medicationRow) toModel() model.MedicationEntry {
	return model.MedicationEntry{ID: r.ID, Name: r.Name, Dosage: r.Dosage, Frequency: r.Frequency}
}

func emergencyContactRowFrom(parentID string, e model.EmergencyContactEntry) emergencyContactRow {
	return emergencyContactRow{ID: e.ID, PatientID: parentID, Name: e.Name, Relationship: e.Relationship, Phone: e.Phone}
}

func (r emergencyContactRow) toModel() model.EmergencyContactEntry {
	return model.EmergencyContactEntry{ID: r.ID, Name: r.Name, Relationship: r.Relationship, Phone: r.Phone}
}

// column はカラム名と値の組。更新対象の列を決まった順序で並べるために使う。
type column struct {
	name  string
	value any
}

// profileUpdateColumns はProfileUpdateのうち値のあるフィールドをカラムに変換する。
func profileUpdateColumns(u model.ProfileUpdate) []column {
	var cols []column
	cols = appendString(cols, "name", u.Name)
	cols = appendString(cols, "email", u.Email)
	cols = appendString(cols, "phone", u.Phone)
	cols = appendString(cols, "date_of_birth", u.DateOfBirth)
	cols = appendString(cols, "gender", u.Gender)
	cols = appendString(cols, "blood_type", u.BloodType)
	cols = appendString(cols, "height", u.Height)
	cols = appendString(cols, "weight", u.Weight)
	cols = appendString(cols, "bmi", u.BMI)
	if u.Notifications != nil {
		cols = append(cols, column{"notifications", *u.Notifications})
	}
	cols = appendString(cols, "language", u.Language)
	return cols
}

func medicalHistoryPatchColumns(p model.MedicalHistoryPatch) []column {
	var cols []column
	cols = appendString(cols, "condition", p.Condition)
	cols = appendString(cols, "date", p.Timeframe)
	cols = appendString(cols, "status", p.Status)
	return cols
}

func allergyPatchColumns(p model.AllergyPatch) []column {
	var cols []column
	cols = appendString(cols, "allergen", p.Allergen)
	cols = appendString(cols, "severity", p.Severity)
	cols = appendString(cols, "notes", p.Notes)
	return cols
}

func medicationPatchColumns(p model.MedicationPatch) []column {
	var cols []column
	cols = appendString(cols, "name", p.Name)
	cols = appendString(cols, "dosage", p.Dosage)
	cols = appendString(cols, "frequency", p.Frequency)
	return cols
}

func emergencyContactPatchColumns(p model.EmergencyContactPatch) []column {
	var cols []column
	cols = appendString(cols, "name", p.Name)
	cols = appendString(cols, "relationship", p.Relationship)
	cols = appendString(cols, "phone", p.Phone)
	return cols
}

func appendString(cols []column, name string, v *string) []column {
	if v == nil {
		return cols
	}
	return append(cols, column{name, *v})
}

// columnsToMap はカラム列をJSONボディ用のmapに変換する。
func columnsToMap(cols []column) map[string]any {
	m := make(map[string]any, len(cols))
	for _, c := range cols {
		m[c.name] = c.value
	}
	return m
}

// errNothingToUpdate は更新対象のフィールドが無い場合のエラー。
func errNothingToUpdate() error {
	return model.NewValidationError("No fields to update")
}

// missingParent はFK違反（親プロフィールが存在しない）をNotFoundに読み替える。
func missingParent(err error, parentID string) error {
	var ce *model.ClassifiedError
	if errors.As(err, &ce) && ce.Code == "23503" {
		return model.NewProfileNotFoundError(parentID)
	}
	return err
}
