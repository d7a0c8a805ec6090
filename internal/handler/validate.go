package handler

import (
	"strings"

	"github.com/hitoshi/healthmate/internal/model"
)

// 呼び出し側の入力検証。リポジトリは形と存在しか確認しないため、
// 必須項目と語彙のチェックはローカルAPIの境界でまとめて行う。

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// blankPtr は値が指定され、かつ空であるかを返す。
func blankPtr(s *string) bool {
	return s != nil && blank(*s)
}

// validateVocabulary は語彙を持つルートフィールドを検証する。空文字列は未入力として許可する。
func validateVocabulary(gender, bloodType string) error {
	if gender != "" && !model.ValidGender(gender) {
		return model.NewValidationError("Gender must be one of Male, Female, Other")
	}
	if bloodType != "" && !model.ValidBloodType(bloodType) {
		return model.NewValidationError("Blood type is not recognized")
	}
	return nil
}

// validateOptionalMeasurements は入力された身長・体重が有限の正の数かを検証する。未入力は許容する。
func validateOptionalMeasurements(height, weight string) error {
	if (!blank(height) && !model.ValidMeasurement(height)) || (!blank(weight) && !model.ValidMeasurement(weight)) {
		return model.NewValidationError("Height and weight must be positive numbers")
	}
	return nil
}

// validateSetup はプロフィール設定完了時の必須項目を検証する。
func validateSetup(p *model.Profile) error {
	if blank(p.Height) || blank(p.Weight) || blank(p.Gender) || blank(p.BloodType) || blank(p.DateOfBirth) {
		return model.NewValidationError("Please fill in all required fields in Basic Information.")
	}
	if model.ComputeBMI(p.Height, p.Weight) == "" {
		return model.NewValidationError("Height and weight must be positive numbers")
	}
	if err := validateVocabulary(p.Gender, p.BloodType); err != nil {
		return err
	}
	return validateCollections(p)
}

// validateCollections は初期の子エントリをすべて検証する。
func validateCollections(p *model.Profile) error {
	for _, e := range p.MedicalHistory {
		if err := validateMedicalHistory(e); err != nil {
			return err
		}
	}
	for i := range p.Allergies {
		p.Allergies[i] = withDefaultSeverity(p.Allergies[i])
		if err := validateAllergy(p.Allergies[i]); err != nil {
			return err
		}
	}
	for _, e := range p.Medications {
		if err := validateMedication(e); err != nil {
			return err
		}
	}
	for _, e := range p.EmergencyContacts {
		if err := validateEmergencyContact(e); err != nil {
			return err
		}
	}
	return nil
}

func validateUpdate(u model.ProfileUpdate) error {
	if u.IsEmpty() {
		return model.NewValidationError("No fields to update")
	}
	if blankPtr(u.Name) {
		return model.NewValidationError("Name is required")
	}
	if blankPtr(u.Email) {
		return model.NewValidationError("Email is required")
	}
	if u.Gender != nil && !model.ValidGender(*u.Gender) {
		return model.NewValidationError("Gender must be one of Male, Female, Other")
	}
	if u.BloodType != nil && !model.ValidBloodType(*u.BloodType) {
		return model.NewValidationError("Blood type is not recognized")
	}
	if (u.Height != nil && !model.ValidMeasurement(*u.Height)) || (u.Weight != nil && !model.ValidMeasurement(*u.Weight)) {
		return model.NewValidationError("Height and weight must be positive numbers")
	}
	return nil
}

func validateMedicalHistory(e model.MedicalHistoryEntry) error {
	if blank(e.Condition) || blank(e.Timeframe) {
		return model.NewValidationError("Condition and timeframe are required")
	}
	if !model.ValidTimeframe(e.Timeframe) {
		return model.NewValidationError("Timeframe must be one of Last year, Few months ago, More than 5 years ago")
	}
	if e.Status != "" && !model.ValidConditionStatus(e.Status) {
		return model.NewValidationError("Status must be one of Ongoing, Recovered, Under Treatment")
	}
	return nil
}

func validateMedicalHistoryPatch(p model.MedicalHistoryPatch) error {
	if p.Condition == nil && p.Timeframe == nil && p.Status == nil {
		return model.NewValidationError("No fields to update")
	}
	if blankPtr(p.Condition) {
		return model.NewValidationError("Condition is required")
	}
	if p.Timeframe != nil && !model.ValidTimeframe(*p.Timeframe) {
		return model.NewValidationError("Timeframe must be one of Last year, Few months ago, More than 5 years ago")
	}
	if p.Status != nil && *p.Status != "" && !model.ValidConditionStatus(*p.Status) {
		return model.NewValidationError("Status must be one of Ongoing, Recovered, Under Treatment")
	}
	return nil
}

// withDefaultSeverity は重症度が未入力の場合にLowを補う。
func withDefaultSeverity(e model.AllergyEntry) model.AllergyEntry {
	if e.Severity == "" {
		e.Severity = model.SeverityLow
	}
	return e
}

func validateAllergy(e model.AllergyEntry) error {
	if blank(e.Allergen) {
		return model.NewValidationError("Allergen is required")
	}
	if !model.ValidSeverity(e.Severity) {
		return model.NewValidationError("Severity must be one of Low, Moderate, High, Severe")
	}
	return nil
}

func validateAllergyPatch(p model.AllergyPatch) error {
	if p.Allergen == nil && p.Severity == nil && p.Notes == nil {
		return model.NewValidationError("No fields to update")
	}
	if blankPtr(p.Allergen) {
		return model.NewValidationError("Allergen is required")
	}
	if p.Severity != nil && !model.ValidSeverity(*p.Severity) {
		return model.NewValidationError("Severity must be one of Low, Moderate, High, Severe")
	}
	return nil
}

func validateMedication(e model.MedicationEntry) error {
	if blank(e.Name) {
		return model.NewValidationError("Medication name is required")
	}
	return nil
}

func validateMedicationPatch(p model.MedicationPatch) error {
	if p.Name == nil && p.Dosage == nil && p.Frequency == nil {
		return model.NewValidationError("No fields to update")
	}
	if blankPtr(p.Name) {
		return model.NewValidationError("Medication name is required")
	}
	return nil
}

func validateEmergencyContact(e model.EmergencyContactEntry) error {
	if blank(e.Name) || blank(e.Phone) {
		return model.NewValidationError("Contact name and phone are required")
	}
	return nil
}

func validateEmergencyContactPatch(p model.EmergencyContactPatch) error {
	if p.Name == nil && p.Relationship == nil && p.Phone == nil {
		return model.NewValidationError("No fields to update")
	}
	if blankPtr(p.Name) || blankPtr(p.Phone) {
		return model.NewValidationError("Contact name and phone are required")
	}
	return nil
}
