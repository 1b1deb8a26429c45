package library

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Repository is the storage capability behind LibraryManager. Business-rule
// failures (not found, no copies left, already borrowed, nothing to return)
// come back as nil/false with a nil error; errors are reserved for invalid
// input (*ValidationError) and storage failures (ErrStorage).
type Repository interface {
	AddBook(ctx context.Context, title, author string, copies int) (*Book, error)
	AddCopies(ctx context.Context, bookID int64, count int) (*Book, error)
	RemoveBook(ctx context.Context, bookID int64) (bool, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	SearchBooks(ctx context.Context, query string) ([]*Book, error)
	FindBook(ctx context.Context, bookID int64) (*Book, error)
	BorrowBook(ctx context.Context, username string, bookID int64) (*Loan, error)
	ReturnBook(ctx context.Context, username string, bookID int64) (bool, error)
	ListLoansForUser(ctx context.Context, username string) ([]*Loan, error)
	ListAllLoans(ctx context.Context) ([]*Loan, error)
	ListActiveLoans(ctx context.Context) ([]*Loan, error)
	HasAnyBooks(ctx context.Context) (bool, error)
}

// UserStore persists accounts. Lookups are case-insensitive on username.
type UserStore interface {
	AddUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, username string) (*User, error)
	DeleteUser(ctx context.Context, username string) (bool, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdatePasswordHash(ctx context.Context, username, hash string) (bool, error)
	HasAnyUsers(ctx context.Context) (bool, error)
}

// Clock supplies "today" for loan and return dates.
type Clock func() time.Time

type storeOptions struct {
	clock  Clock
	logger zerolog.Logger
}

// Option configures a Database or MemoryStore.
type Option func(*storeOptions)

// WithClock overrides time.Now as the source of loan dates.
func WithClock(c Clock) Option {
	return func(o *storeOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger used for loan events and storage failures.
func WithLogger(l zerolog.Logger) Option {
	return func(o *storeOptions) { o.logger = l }
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{clock: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
