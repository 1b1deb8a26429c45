package library

import (
	"context"
	"fmt"
)

// LibraryManager is a thin façade over a Repository, keeping CLI code simple.
// It holds no state of its own; every call goes straight to storage.
type LibraryManager struct {
	repo Repository
}

// NewLibraryManager wraps repo. It panics on a nil repository, which is a wiring bug.
func NewLibraryManager(repo Repository) *LibraryManager {
	if repo == nil {
		panic("library: nil repository")
	}
	return &LibraryManager{repo: repo}
}

// ------------------ Catalog ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, title, author string, copies int) (*Book, error) {
	return lm.repo.AddBook(ctx, title, author, copies)
}

func (lm *LibraryManager) AddCopies(ctx context.Context, bookID int64, count int) (*Book, error) {
	return lm.repo.AddCopies(ctx, bookID, count)
}

func (lm *LibraryManager) RemoveBook(ctx context.Context, bookID int64) (bool, error) {
	return lm.repo.RemoveBook(ctx, bookID)
}

func (lm *LibraryManager) ListBooks(ctx context.Context) ([]*Book, error) {
	return lm.repo.ListBooks(ctx)
}

func (lm *LibraryManager) SearchBooks(ctx context.Context, query string) ([]*Book, error) {
	return lm.repo.SearchBooks(ctx, query)
}

func (lm *LibraryManager) FindBook(ctx context.Context, bookID int64) (*Book, error) {
	return lm.repo.FindBook(ctx, bookID)
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) BorrowBook(ctx context.Context, username string, bookID int64) (*Loan, error) {
	return lm.repo.BorrowBook(ctx, username, bookID)
}

func (lm *LibraryManager) ReturnBook(ctx context.Context, username string, bookID int64) (bool, error) {
	return lm.repo.ReturnBook(ctx, username, bookID)
}

func (lm *LibraryManager) ListLoansForUser(ctx context.Context, username string) ([]*Loan, error) {
	return lm.repo.ListLoansForUser(ctx, username)
}

func (lm *LibraryManager) ListAllLoans(ctx context.Context) ([]*Loan, error) {
	return lm.repo.ListAllLoans(ctx)
}

func (lm *LibraryManager) ListActiveLoans(ctx context.Context) ([]*Loan, error) {
	return lm.repo.ListActiveLoans(ctx)
}

// ------------------ Seeding ------------------

// DemoCatalog is what SeedDemoData puts on the shelves of an empty library.
var DemoCatalog = []struct {
	Title  string
	Author string
	Copies int
}{
	{"Clean Code", "Robert C. Martin", 3},
	{"Effective Java", "Joshua Bloch", 2},
	{"Introduction to Algorithms", "CLRS", 1},
}

// SeedDemoData fills an empty catalog with DemoCatalog. It does nothing when
// any live book exists and reports whether it seeded.
func (lm *LibraryManager) SeedDemoData(ctx context.Context) (bool, error) {
	hasBooks, err := lm.repo.HasAnyBooks(ctx)
	if err != nil {
		return false, err
	}
	if hasBooks {
		return false, nil
	}
	for _, b := range DemoCatalog {
		if _, err := lm.repo.AddBook(ctx, b.Title, b.Author, b.Copies); err != nil {
			return false, fmt.Errorf("seed %q: %w", b.Title, err)
		}
	}
	return true, nil
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-5d %-30s %-25s %d/%d", b.ID, truncate(b.Title, 30), truncate(b.Author, 25), b.AvailableCopies, b.TotalCopies)
}

// PrettyLoan formats a loan for lists, with the book title when known.
func PrettyLoan(l *Loan, title string) string {
	ret := "-"
	if l.ReturnDate != nil {
		ret = l.ReturnDate.Format(DateLayout)
	}
	return fmt.Sprintf("%-5d %-15s %-30s %-12s %-12s", l.ID, truncate(l.Username, 15), truncate(title, 30), l.LoanDate.Format(DateLayout), ret)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
