package auth

import (
	"net/mail"
	"strings"

	"github.com/hitoshi/healthmate/internal/model"
)

// minPasswordLength はidentity APIが受け付けるパスワードの最小長。
const minPasswordLength = 6

// validateSignUp はサインアップ入力を検証する。
// identity APIに送る前に弾ける誤りのみを扱う。
func validateSignUp(email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewValidationError("Email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewValidationError("Please enter a valid email address")
	}
	if password == "" {
		return model.NewValidationError("Password is required")
	}
	if len([]rune(password)) < minPasswordLength {
		return model.NewValidationError("Password must be at least 6 characters")
	}
	return nil
}

// validateSignIn はサインイン入力の必須チェックを行う。
func validateSignIn(email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return model.NewValidationError("Email and password are required")
	}
	return nil
}
