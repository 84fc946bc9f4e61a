package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mmynk/trustfirst/internal/models"
)

// check runs struct tag validation and reports every failing field.
func (l *Agreements) check(in any) error {
	err := l.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate input: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid %s: %w", strings.Join(fields, ", "), models.ErrInvalidArgument)
}

// normalizePhone returns phone in E.164 form. Empty input stays empty.
func (l *Agreements) normalizePhone(field, phone string) (string, error) {
	normalized, err := models.NormalizePhone(phone, l.phoneRegion)
	if err != nil {
		return "", fmt.Errorf("%s %w", field, err)
	}
	return normalized, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
