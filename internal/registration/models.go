// Package registration owns the repertory number: the per-period sequence,
// the display encoding, and the registration state machine.
package registration

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "repertor/pkg/domain-errors"
)

// State describes how far a registration number has been used.
type State string

const (
	// StateIssued: number drawn, no document bound yet.
	StateIssued State = "ISSUED"
	// StatePartial: exactly one document bound. Reserved headroom for a
	// future multi-document scale; today it is the terminal normal state.
	StatePartial State = "PARTIAL"
	// StateCommitted: at document capacity, accepts no further bindings.
	StateCommitted State = "COMMITTED"
	// StateVoid: administratively cancelled. Terminal; the row persists
	// for audit.
	StateVoid State = "VOID"
)

// StateForCount recomputes the state from the number of bound documents.
// State is derived, never incremented, so a recount after any document
// mutation always lands on the right value.
func StateForCount(count int) State {
	switch {
	case count <= 0:
		return StateIssued
	case count == 1:
		return StatePartial
	default:
		return StateCommitted
	}
}

// Bindable reports whether a registration in this state may accept a
// document. COMMITTED means fully used; VOID is never bindable.
func (s State) Bindable() bool {
	return s == StateIssued || s == StatePartial
}

// Period is the (year, month) partition key for sequence allocation.
type Period struct {
	Year  int
	Month int
}

// PeriodOf splits t into a period using the given civil time zone. All
// allocation paths must use the same zone or period boundaries drift with
// server locale.
func PeriodOf(t time.Time, loc *time.Location) Period {
	local := t.In(loc)
	return Period{Year: local.Year(), Month: int(local.Month())}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Registration is one issued repertory number.
type Registration struct {
	ID            uuid.UUID
	Year          int
	Month         int
	Sequence      int
	DisplayNumber string
	State         State
	OwnerID       string
	IssuedAt      time.Time
	ExpiresAt     *time.Time
}

// Period returns the registration's allocation period.
func (r *Registration) Period() Period {
	return Period{Year: r.Year, Month: r.Month}
}

// Expired reports whether the registration's optional expiry has passed.
func (r *Registration) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// romanMonths encodes months 1..12 for the display number. The format is
// fixed by existing paper repertories; it is not locale-dependent.
var romanMonths = [13]string{"", "I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X", "XI", "XII"}

// FormatDisplayNumber renders SS/MMM/YYYY, e.g. 7, 8, 2025 → "07/VIII/2025".
// Months outside 1..12 fall back to a verbatim numeric token so malformed
// rows still render reversibly.
func FormatDisplayNumber(sequence, month, year int) string {
	token := strconv.Itoa(month)
	if month >= 1 && month <= 12 {
		token = romanMonths[month]
	}
	return fmt.Sprintf("%02d/%s/%04d", sequence, token, year)
}

// ParseDisplayNumber is the inverse of FormatDisplayNumber.
func ParseDisplayNumber(number string) (sequence, month, year int, err error) {
	parts := strings.Split(number, "/")
	if len(parts) != 3 {
		return 0, 0, 0, dErrors.New(dErrors.CodeValidation, "display number must be SS/MMM/YYYY")
	}

	sequence, err = strconv.Atoi(parts[0])
	if err != nil || sequence < 1 {
		return 0, 0, 0, dErrors.New(dErrors.CodeValidation, "invalid sequence in display number")
	}

	month = monthFromToken(parts[1])
	if month == 0 {
		return 0, 0, 0, dErrors.New(dErrors.CodeValidation, "invalid month token in display number")
	}

	year, err = strconv.Atoi(parts[2])
	if err != nil || year < 1 {
		return 0, 0, 0, dErrors.New(dErrors.CodeValidation, "invalid year in display number")
	}

	return sequence, month, year, nil
}

func monthFromToken(token string) int {
	for m := 1; m <= 12; m++ {
		if romanMonths[m] == token {
			return m
		}
	}
	// Numeric passthrough for out-of-range months.
	if n, err := strconv.Atoi(token); err == nil && n > 12 {
		return n
	}
	return 0
}
