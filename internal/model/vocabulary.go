package model

import "slices"

// 既往歴のステータス
const (
	ConditionOngoing        = "Ongoing"
	ConditionRecovered      = "Recovered"
	ConditionUnderTreatment = "Under Treatment"
)

// アレルギーの重症度
const (
	SeverityLow      = "Low"
	SeverityModerate = "Moderate"
	SeverityHigh     = "High"
	SeveritySevere   = "Severe"
)

// DefaultLanguage はプロフィール作成時の表示言語。
const DefaultLanguage = "en"

var (
	conditionStatuses = []string{ConditionOngoing, ConditionRecovered, ConditionUnderTreatment}
	severityLevels    = []string{SeverityLow, SeverityModerate, SeverityHigh, SeveritySevere}
	bloodTypes        = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}
	genders           = []string{"Male", "Female", "Other"}
	timeframes        = []string{"Last year", "Few months ago", "More than 5 years ago"}
)

// ValidConditionStatus は既往歴ステータスが許可された値かを返す。
func ValidConditionStatus(s string) bool { return slices.Contains(conditionStatuses, s) }

// ValidSeverity はアレルギー重症度が許可された値かを返す。
func ValidSeverity(s string) bool { return slices.Contains(severityLevels, s) }

// ValidBloodType は血液型が許可された値かを返す。
func ValidBloodType(s string) bool { return slices.Contains(bloodTypes, s) }

// ValidGender は性別が許可された値かを返す。
func ValidGender(s string) bool { return slices.Contains(genders, s) }

// ValidTimeframe は既往歴の時期が許可された値かを返す。
func ValidTimeframe(s string) bool { return slices.Contains(timeframes, s) }
