// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// SubjectID представляет уникальный идентификатор субъекта прогрессии -
// аккаунта, для которого ведётся XP, уровень, серия и достижения (UUID).
type SubjectID string

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValid проверяет, что идентификатор - корректный UUID.
func (s SubjectID) IsValid() bool {
	return uuidRegex.MatchString(string(s))
}

// String возвращает строковое представление.
func (s SubjectID) String() string {
	return string(s)
}

// IsEmpty проверяет, что идентификатор пуст.
func (s SubjectID) IsEmpty() bool {
	return s == ""
}

// NewSubjectID создаёт SubjectID с валидацией.
func NewSubjectID(id string) (SubjectID, error) {
	sid := SubjectID(strings.ToLower(strings.TrimSpace(id)))
	if !sid.IsValid() {
		return "", NewDomainError("shared", "NewSubjectID", ErrInvalidID, "invalid subject ID format")
	}
	return sid, nil
}

// TaskID представляет непрозрачный идентификатор задачи из внешней
// подсистемы задач. Движок не интерпретирует его содержимое.
type TaskID string

// IsValid проверяет, что идентификатор задачи непустой и разумной длины.
func (t TaskID) IsValid() bool {
	s := strings.TrimSpace(string(t))
	return len(s) >= 1 && len(s) <= 128
}

// String возвращает строковое представление.
func (t TaskID) String() string {
	return string(t)
}

// NewTaskID создаёт TaskID с валидацией.
func NewTaskID(id string) (TaskID, error) {
	tid := TaskID(strings.TrimSpace(id))
	if !tid.IsValid() {
		return "", NewDomainError("shared", "NewTaskID", ErrInvalidID, "invalid task ID format")
	}
	return tid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Correlation ID
// ═══════════════════════════════════════════════════════════════════════════

// CorrelationID используется для сквозной трассировки команды через
// оркестратор, ledger и уведомления.
type CorrelationID string

// String возвращает строковое представление.
func (c CorrelationID) String() string {
	return string(c)
}

// IsEmpty проверяет, что идентификатор пуст.
func (c CorrelationID) IsEmpty() bool {
	return c == ""
}

// Format возвращает представление для логов.
func (c CorrelationID) Format() string {
	if c.IsEmpty() {
		return "<none>"
	}
	return fmt.Sprintf("corr=%s", string(c))
}
