package library

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryStore is an in-process Repository and UserStore for tests and
// throwaway runs. It mirrors the rules the SQLite schema enforces: loans need
// a known user, one active loan per (user, book), copy counts stay in range.
type MemoryStore struct {
	mu sync.Mutex

	clock Clock
	log   zerolog.Logger

	books      map[int64]*Book
	loans      []*Loan
	users      map[string]*User
	nextBookID int64
	nextLoanID int64
}

var (
	_ Repository = (*MemoryStore)(nil)
	_ UserStore  = (*MemoryStore)(nil)
)

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		clock:      o.clock,
		log:        o.logger,
		books:      make(map[int64]*Book),
		users:      make(map[string]*User),
		nextBookID: 1,
		nextLoanID: 1,
	}
}

func userKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func copyBook(b *Book) *Book {
	c := *b
	return &c
}

func copyLoan(l *Loan) *Loan {
	c := *l
	if l.ReturnDate != nil {
		d := *l.ReturnDate
		c.ReturnDate = &d
	}
	return &c
}

func (m *MemoryStore) AddBook(_ context.Context, title, author string, copies int) (*Book, error) {
	if err := validateBookFields(title, author, copies); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := NewBook(m.nextBookID, title, author, copies, copies)
	if err != nil {
		return nil, err
	}
	m.nextBookID++
	m.books[b.ID] = b
	return copyBook(b), nil
}

func (m *MemoryStore) AddCopies(_ context.Context, bookID int64, count int) (*Book, error) {
	if err := validateBookID(bookID); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, invalid("count", "must be > 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[bookID]
	if !ok || b.Deleted {
		return nil, nil
	}
	if err := b.AddCopies(count); err != nil {
		return nil, err
	}
	return copyBook(b), nil
}

func (m *MemoryStore) RemoveBook(_ context.Context, bookID int64) (bool, error) {
	if err := validateBookID(bookID); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[bookID]
	if !ok || b.Deleted {
		return false, nil
	}
	for _, l := range m.loans {
		if l.BookID == bookID && l.Active() {
			return false, nil
		}
	}
	b.Deleted = true
	m.log.Info().Int64("book", bookID).Msg("book removed")
	return true, nil
}

// liveBooks returns copies of the non-deleted books that match, ordered by id.
// Callers must hold m.mu.
func (m *MemoryStore) liveBooks(match func(*Book) bool) []*Book {
	out := []*Book{}
	for _, b := range m.books {
		if !b.Deleted && match(b) {
			out = append(out, copyBook(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) ListBooks(_ context.Context) ([]*Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveBooks(func(*Book) bool { return true }), nil
}

func (m *MemoryStore) SearchBooks(_ context.Context, query string) ([]*Book, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveBooks(func(b *Book) bool {
		return strings.Contains(strings.ToLower(b.Title), q) || strings.Contains(strings.ToLower(b.Author), q)
	}), nil
}

func (m *MemoryStore) FindBook(_ context.Context, bookID int64) (*Book, error) {
	if err := validateBookID(bookID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok || b.Deleted {
		return nil, nil
	}
	return copyBook(b), nil
}

func (m *MemoryStore) HasAnyBooks(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.books {
		if !b.Deleted {
			return true, nil
		}
	}
	return false, nil
}

// activeLoan finds the open loan for the pair. Callers must hold m.mu.
func (m *MemoryStore) activeLoan(username string, bookID int64) *Loan {
	key := userKey(username)
	for _, l := range m.loans {
		if l.BookID == bookID && l.Active() && userKey(l.Username) == key {
			return l
		}
	}
	return nil
}

func (m *MemoryStore) BorrowBook(_ context.Context, username string, bookID int64) (*Loan, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateBookID(bookID); err != nil {
		return nil, err
	}
	u := strings.TrimSpace(username)
	today := Date(m.clock())

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userKey(u)]; !ok {
		m.log.Debug().Str("user", u).Msg("borrow: unknown user")
		return nil, nil
	}
	b, ok := m.books[bookID]
	if !ok || b.Deleted {
		return nil, nil
	}
	if m.activeLoan(u, bookID) != nil {
		return nil, nil
	}
	if !b.BorrowCopy() {
		return nil, nil
	}
	l, err := NewLoan(m.nextLoanID, u, bookID, today, nil)
	if err != nil {
		b.ReturnCopy()
		return nil, err
	}
	m.nextLoanID++
	m.loans = append(m.loans, l)
	m.log.Info().Str("user", u).Int64("book", bookID).Int64("loan", l.ID).Msg("book borrowed")
	return copyLoan(l), nil
}

func (m *MemoryStore) ReturnBook(_ context.Context, username string, bookID int64) (bool, error) {
	if err := validateUsername(username); err != nil {
		return false, err
	}
	if err := validateBookID(bookID); err != nil {
		return false, err
	}
	today := Date(m.clock())

	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.activeLoan(username, bookID)
	if l == nil {
		return false, nil
	}
	if err := l.MarkReturned(today); err != nil {
		return false, err
	}
	if b, ok := m.books[bookID]; ok {
		b.ReturnCopy()
	}
	m.log.Info().Str("user", l.Username).Int64("book", bookID).Int64("loan", l.ID).Msg("book returned")
	return true, nil
}

func (m *MemoryStore) selectLoans(match func(*Loan) bool) []*Loan {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Loan{}
	for _, l := range m.loans {
		if match(l) {
			out = append(out, copyLoan(l))
		}
	}
	return out
}

func (m *MemoryStore) ListLoansForUser(_ context.Context, username string) ([]*Loan, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	key := userKey(username)
	return m.selectLoans(func(l *Loan) bool { return userKey(l.Username) == key }), nil
}

func (m *MemoryStore) ListAllLoans(_ context.Context) ([]*Loan, error) {
	return m.selectLoans(func(*Loan) bool { return true }), nil
}

func (m *MemoryStore) ListActiveLoans(_ context.Context) ([]*Loan, error) {
	return m.selectLoans((*Loan).Active), nil
}

func (m *MemoryStore) AddUser(_ context.Context, u *User) error {
	if u == nil {
		return invalid("user", "required")
	}
	if err := validateUsername(u.Username); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userKey(u.Username)
	if _, exists := m.users[key]; exists {
		return fmt.Errorf("%w: %s", ErrUserExists, u.Username)
	}
	c := *u
	c.Username = strings.TrimSpace(u.Username)
	m.users[key] = &c
	return nil
}

func (m *MemoryStore) FindUser(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userKey(username)]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, username string) (bool, error) {
	key := userKey(username)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[key]; !ok {
		return false, nil
	}
	for _, l := range m.loans {
		if userKey(l.Username) == key {
			return false, nil
		}
	}
	delete(m.users, key)
	return true, nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return userKey(out[i].Username) < userKey(out[j].Username) })
	return out, nil
}

func (m *MemoryStore) UpdatePasswordHash(_ context.Context, username, hash string) (bool, error) {
	if strings.TrimSpace(hash) == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userKey(username)]
	if !ok {
		return false, nil
	}
	u.PasswordHash = hash
	return true, nil
}

func (m *MemoryStore) HasAnyUsers(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users) > 0, nil
}
