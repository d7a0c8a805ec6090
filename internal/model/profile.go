package model

import (
	"math"
	"strconv"
	"strings"
)

// Profile は患者のプロフィールを表す。
// IDは所有するIdentityのIDと常に一致する。
// 子コレクションは存在しない場合も空スライスで表現し、nilにはしない。
type Profile struct {
	ID                string                  `json:"id"`
	Name              string                  `json:"name"`
	Email             string                  `json:"email"`
	Phone             string                  `json:"phone"`
	DateOfBirth       string                  `json:"dateOfBirth"`
	Gender            string                  `json:"gender"`
	BloodType         string                  `json:"bloodType"`
	Height            string                  `json:"height"`
	Weight            string                  `json:"weight"`
	BMI               string                  `json:"bmi"`
	Notifications     bool                    `json:"notifications"`
	Language          string                  `json:"language"`
	MedicalHistory    []MedicalHistoryEntry   `json:"medicalHistory"`
	Allergies         []AllergyEntry          `json:"allergies"`
	Medications       []MedicationEntry       `json:"medications"`
	EmergencyContacts []EmergencyContactEntry `json:"emergencyContacts"`
}

// MedicalHistoryEntry は既往歴の1件を表す。
type MedicalHistoryEntry struct {
	ID        string `json:"id"`
	Condition string `json:"condition"`
	Timeframe string `json:"timeframe"`
	Status    string `json:"status"`
}

// AllergyEntry はアレルギーの1件を表す。
type AllergyEntry struct {
	ID       string `json:"id"`
	Allergen string `json:"allergen"`
	Severity string `json:"severity"`
	Notes    string `json:"notes"`
}

// MedicationEntry は服薬の1件を表す。
type MedicationEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
}

// EmergencyContactEntry は緊急連絡先の1件を表す。
type EmergencyContactEntry struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
}

// NormalizeCollections はnilの子コレクションを空スライスに置き換える。
func (p *Profile) NormalizeCollections() {
	if p.MedicalHistory == nil {
		p.MedicalHistory = []MedicalHistoryEntry{}
	}
	if p.Allergies == nil {
		p.Allergies = []AllergyEntry{}
	}
	if p.Medications == nil {
		p.Medications = []MedicationEntry{}
	}
	if p.EmergencyContacts == nil {
		p.EmergencyContacts = []EmergencyContactEntry{}
	}
}

// ProfileUpdate はプロフィールのルートフィールドの部分更新を表す。
// nilフィールドは変更しない。
type ProfileUpdate struct {
	Name          *string `json:"name,omitempty"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	DateOfBirth   *string `json:"dateOfBirth,omitempty"`
	Gender        *string `json:"gender,omitempty"`
	BloodType     *string `json:"bloodType,omitempty"`
	Height        *string `json:"height,omitempty"`
	Weight        *string `json:"weight,omitempty"`
	BMI           *string `json:"bmi,omitempty"`
	Notifications *bool   `json:"notifications,omitempty"`
	Language      *string `json:"language,omitempty"`
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (u ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && u.Email == nil && u.Phone == nil &&
		u.DateOfBirth == nil && u.Gender == nil && u.BloodType == nil &&
		u.Height == nil && u.Weight == nil && u.BMI == nil &&
		u.Notifications == nil && u.Language == nil
}

// MedicalHistoryPatch は既往歴の部分更新を表す。
type MedicalHistoryPatch struct {
	Condition *string `json:"condition,omitempty"`
	Timeframe *string `json:"timeframe,omitempty"`
	Status    *string `json:"status,omitempty"`
}

// AllergyPatch はアレルギーの部分更新を表す。
type AllergyPatch struct {
	Allergen *string `json:"allergen,omitempty"`
	Severity *string `json:"severity,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

// MedicationPatch は服薬の部分更新を表す。
type MedicationPatch struct {
	Name      *string `json:"name,omitempty"`
	Dosage    *string `json:"dosage,omitempty"`
	Frequency *string `json:"frequency,omitempty"`
}

// EmergencyContactPatch は緊急連絡先の部分更新を表す。
type EmergencyContactPatch struct {
	Name         *string `json:"name,omitempty"`
	Relationship *string `json:"relationship,omitempty"`
	Phone        *string `json:"phone,omitempty"`
}

// ComputeBMI は身長（cm）と体重（kg）からBMIを算出し、小数1桁の文字列で返す。
// どちらかが未入力、または有限の正の数として解釈できない場合は空文字列を返す。
func ComputeBMI(height, weight string) string {
	h, ok := positiveNumber(height)
	if !ok {
		return ""
	}
	w, ok := positiveNumber(weight)
	if !ok {
		return ""
	}
	m := h / 100
	bmi := w / (m * m)
	if math.IsInf(bmi, 0) || math.IsNaN(bmi) {
		return ""
	}
	return strconv.FormatFloat(bmi, 'f', 1, 64)
}

// ValidMeasurement は身長・体重の入力値が有限の正の数かを返す。
func ValidMeasurement(s string) bool {
	_, ok := positiveNumber(s)
	return ok
}

// positiveNumber はNaNと無限大を除く正の数を解釈する。
func positiveNumber(s string) (float64, bool) {
	x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) || x <= 0 {
		return 0, false
	}
	return x, true
}
