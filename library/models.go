package library

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is how loan and return dates are persisted.
const DateLayout = "2006-01-02"

// Book represents a catalog entry and how many of its copies are on the shelf.
// Deleted books are hidden from listings but kept for historical loans.
type Book struct {
	ID              int64  `json:"id" db:"id"`
	Title           string `json:"title" db:"title"`
	Author          string `json:"author" db:"author"`
	TotalCopies     int    `json:"total_copies" db:"total_copies"`
	AvailableCopies int    `json:"available_copies" db:"available_copies"`
	Deleted         bool   `json:"deleted" db:"is_deleted"`
}

// NewBook builds a validated Book. Title and author are trimmed.
func NewBook(id int64, title, author string, totalCopies, availableCopies int) (*Book, error) {
	b := &Book{
		ID:              id,
		Title:           strings.TrimSpace(title),
		Author:          strings.TrimSpace(author),
		TotalCopies:     totalCopies,
		AvailableCopies: availableCopies,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the attribute constraints of a book.
func (b *Book) Validate() error {
	if b.ID <= 0 {
		return invalid("id", "must be > 0")
	}
	if err := validateBookFields(b.Title, b.Author, b.TotalCopies); err != nil {
		return err
	}
	if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
		return invalid("available_copies", fmt.Sprintf("must be within [0, %d]", b.TotalCopies))
	}
	return nil
}

// BorrowCopy takes one copy off the shelf. It reports false when none is left.
func (b *Book) BorrowCopy() bool {
	if b.AvailableCopies <= 0 {
		return false
	}
	b.AvailableCopies--
	return true
}

// ReturnCopy puts one copy back, never exceeding TotalCopies.
func (b *Book) ReturnCopy() {
	if b.AvailableCopies < b.TotalCopies {
		b.AvailableCopies++
	}
}

// AddCopies grows both the total and the available count.
func (b *Book) AddCopies(count int) error {
	if count <= 0 {
		return invalid("count", "must be > 0")
	}
	b.TotalCopies += count
	b.AvailableCopies += count
	return nil
}

func (b *Book) String() string {
	return fmt.Sprintf("#%d | %s | %s | available %d/%d", b.ID, b.Title, b.Author, b.AvailableCopies, b.TotalCopies)
}

func validateBookFields(title, author string, copies int) error {
	if strings.TrimSpace(title) == "" {
		return invalid("title", "required")
	}
	if strings.TrimSpace(author) == "" {
		return invalid("author", "required")
	}
	if copies <= 0 {
		return invalid("copies", "must be > 0")
	}
	return nil
}

// Loan records one user holding one copy of a book. A nil ReturnDate means the loan is active.
type Loan struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	BookID     int64      `json:"book_id"`
	LoanDate   time.Time  `json:"loan_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
}

// NewLoan builds a validated Loan. Dates are truncated to calendar days.
func NewLoan(id int64, username string, bookID int64, loanDate time.Time, returnDate *time.Time) (*Loan, error) {
	if id <= 0 {
		return nil, invalid("id", "must be > 0")
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateBookID(bookID); err != nil {
		return nil, err
	}
	if loanDate.IsZero() {
		return nil, invalid("loan_date", "required")
	}
	l := &Loan{
		ID:       id,
		Username: strings.TrimSpace(username),
		BookID:   bookID,
		LoanDate: Date(loanDate),
	}
	if returnDate != nil {
		d := Date(*returnDate)
		l.ReturnDate = &d
	}
	return l, nil
}

// Active reports whether the loan has not been returned yet.
func (l *Loan) Active() bool { return l.ReturnDate == nil }

// MarkReturned sets the return date once. Later calls are no-ops.
func (l *Loan) MarkReturned(on time.Time) error {
	if on.IsZero() {
		return invalid("return_date", "required")
	}
	if l.ReturnDate != nil {
		return nil
	}
	d := Date(on)
	l.ReturnDate = &d
	return nil
}

func (l *Loan) String() string {
	ret := "-"
	if l.ReturnDate != nil {
		ret = l.ReturnDate.Format(DateLayout)
	}
	return fmt.Sprintf("Loan#%d | user=%s | bookId=%d | loanDate=%s | returnDate=%s",
		l.ID, l.Username, l.BookID, l.LoanDate.Format(DateLayout), ret)
}

// Date drops the time of day, keeping the calendar date in t's location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.Local)
}

func validateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return invalid("username", "required")
	}
	return nil
}

func validateBookID(bookID int64) error {
	if bookID <= 0 {
		return invalid("book_id", "must be > 0")
	}
	return nil
}

// Role selects what a user may do at the calling layer. The lending core ignores it.
type Role string

const (
	RoleStudent   Role = "student"
	RoleLibrarian Role = "librarian"
	RoleAdmin     Role = "admin"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleLibrarian, RoleAdmin:
		return r, nil
	default:
		return "", invalid("role", fmt.Sprintf("unknown role %q", s))
	}
}

func (r Role) CanBorrow() bool      { return r == RoleStudent }
func (r Role) CanManageBooks() bool { return r == RoleLibrarian || r == RoleAdmin }
func (r Role) CanManageUsers() bool { return r == RoleAdmin }

// User is an account. Usernames compare case-insensitively.
type User struct {
	Username     string `json:"username" db:"username"`
	PasswordHash string `json:"-" db:"password_hash"` // Don't serialize password hash
	Role         Role   `json:"role" db:"role"`
}
