package models

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 150
	minPasswordLen = 8
	maxPasswordLen = 128
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// SignInRequest — вход по имени пользователя и паролю.
type SignInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignUpRequest — регистрация.
type SignUpRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

// Normalize обрезает пробелы вокруг имени. Пароль не трогаем.
func (in SignInRequest) Normalize() SignInRequest {
	in.Username = strings.TrimSpace(in.Username)
	return in
}

// Validate проверяет ввод до обращения к апстриму.
func (in SignInRequest) Validate() error {
	var errs []error

	if err := validateUsername(in.Username); err != nil {
		errs = append(errs, err)
	}

	if in.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}

	return errors.Join(errs...)
}

// Normalize обрезает пробелы и приводит e-mail к нижнему регистру.
func (in SignUpRequest) Normalize() SignUpRequest {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	return in
}

// Validate проверяет ввод до обращения к апстриму.
func (in SignUpRequest) Validate() error {
	var errs []error

	if err := validateUsername(in.Username); err != nil {
		errs = append(errs, err)
	}

	if err := validateEmail(in.Email); err != nil {
		errs = append(errs, err)
	}

	if err := validatePhone(in.PhoneNumber); err != nil {
		errs = append(errs, err)
	}

	if err := validatePassword(in.Password); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateUsername(s string) error {
	n := utf8.RuneCountInString(s)
	switch {
	case n == 0:
		return errors.New("username is required")
	case n < minUsernameLen || n > maxUsernameLen:
		return fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}

	for _, r := range s {
		if unicode.IsSpace(r) {
			return errors.New("username must not contain spaces")
		}
	}

	return nil
}

func validateEmail(s string) error {
	if s == "" {
		return errors.New("email is required")
	}

	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || !strings.Contains(s[strings.LastIndex(s, "@")+1:], ".") {
		return errors.New("email is invalid")
	}

	return nil
}

func validatePhone(s string) error {
	if s == "" {
		return errors.New("phone_number is required")
	}

	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ', r == '-', r == '(', r == ')':
		default:
			return errors.New("phone_number is invalid")
		}
	}

	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return errors.New("phone_number is invalid")
	}

	return nil
}

func validatePassword(s string) error {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return errors.New("password is required")
	}

	if n < minPasswordLen || n > maxPasswordLen {
		return fmt.Errorf("password must be %d-%d characters", minPasswordLen, maxPasswordLen)
	}

	return nil
}
