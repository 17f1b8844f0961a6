package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

type (
	Direction string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Transaction struct {
		ID          string
		UserID      string
		Date        Date
		Domain      string
		Title       string
		Description string
		Amount      Money // always non-negative, Direction carries the sign
		Direction   Direction
		Counted     bool // folded into its month's summary
	}

	// Budget is the spending allowance of one user for one calendar month.
	Budget struct {
		UserID string
		Month  MonthKey
		Amount Money
	}

	// MonthlySummary is the stored aggregate of one user's month. It is
	// always written with absolute values and can be rebuilt from the
	// month's transactions at any time.
	MonthlySummary struct {
		UserID       string
		Month        MonthKey
		TotalBalance Money // budget snapshot at reconciliation time
		TotalDebit   Money
		TotalCredit  Money
	}

	// UserAggregate holds the lifetime figures of a user. After a fold at
	// most one of Savings and Deficit is non-zero.
	UserAggregate struct {
		UserID  string
		Budget  Money // default monthly budget
		Savings Money
		Deficit Money
	}

	// TransactionFilter narrows transaction listings. Zero fields match
	// everything.
	TransactionFilter struct {
		Direction Direction
		Domain    string
		From      time.Time // inclusive
		To        time.Time // exclusive
		Search    string    // case-insensitive match on title or description
		Limit     int
		Offset    int
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrInvalidDomain    = errors.New("invalid domain")
	ErrInvalidMonthKey  = errors.New("invalid month key")
	ErrEmptyTitle       = errors.New("empty title")
	ErrEmptyUser        = errors.New("empty user id")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
)

// DebitDomains lists the categories an outgoing transaction may use.
var DebitDomains = []string{
	"Housing & Utilities",
	"Food & Groceries",
	"Transportation",
	"Healthcare",
	"Education & Learning",
	"Work & Professional",
	"Savings & Investments",
	"Entertainment & Leisure",
	"Personal Care",
	"Family & Social",
	"Taxes & Legal",
	"Miscellaneous",
}

// CreditDomains lists the categories an incoming transaction may use.
var CreditDomains = []string{
	"Salary & Wages",
	"Business & Self-Employment",
	"Investments & Capital Gains",
	"Real Estate & Property",
	"Government & Institutional Transfers",
	"Family & Personal Transfers",
	"Royalties & Intellectual Property",
	"Digital & Online Sources",
	"Windfalls & Miscellaneous",
}

func (d Direction) Valid() bool {
	return d == Debit || d == Credit
}

// Domains returns the catalogue for a direction, nil for an unknown one.
func Domains(d Direction) []string {
	switch d {
	case Debit:
		return DebitDomains
	case Credit:
		return CreditDomains
	}
	return nil
}

// ValidDomain reports whether domain belongs to the catalogue of d.
func ValidDomain(d Direction, domain string) bool {
	for _, candidate := range Domains(d) {
		if candidate == domain {
			return true
		}
	}
	return false
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// MonthKey returns the calendar month the date falls in (UTC).
func (d Date) MonthKey() MonthKey {
	return MonthKeyOf(d.Time)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Month returns the calendar month of the transaction.
func (t Transaction) Month() MonthKey {
	return t.Date.MonthKey()
}

// Net returns the amount signed by direction: credits positive, debits negative.
func (t Transaction) Net() Money {
	if t.Direction == Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUser
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if !t.Direction.Valid() {
		return ErrInvalidDirection
	}
	if !ValidDomain(t.Direction, t.Domain) {
		return ErrInvalidDomain
	}
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTitle
	}
	if len(t.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	if len(t.Description) > 1000 {
		return errors.New("description too long (max 1000 characters)")
	}
	if t.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Budgets may be zero or negative.
func (b Budget) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return ErrEmptyUser
	}
	return b.Month.Validate()
}

// Performance is budget plus income minus spending for the month.
func (s MonthlySummary) Performance() Money {
	return s.TotalBalance.Add(s.TotalCredit).Sub(s.TotalDebit)
}

// Net returns savings minus deficit.
func (u UserAggregate) Net() Money {
	return u.Savings.Sub(u.Deficit)
}
