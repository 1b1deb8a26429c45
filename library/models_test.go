package library

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBook(t *testing.T) {
	b, err := NewBook(1, "  Clean Code ", " Robert C. Martin", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, "Clean Code", b.Title)
	assert.Equal(t, "Robert C. Martin", b.Author)

	tests := []struct {
		name             string
		id               int64
		title, author    string
		total, available int
		field            string
	}{
		{"zero id", 0, "T", "A", 1, 1, "id"},
		{"blank title", 1, " ", "A", 1, 1, "title"},
		{"blank author", 1, "T", "", 1, 1, "author"},
		{"no copies", 1, "T", "A", 0, 0, "copies"},
		{"negative available", 1, "T", "A", 2, -1, "available_copies"},
		{"available above total", 1, "T", "A", 2, 3, "available_copies"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBook(tc.id, tc.title, tc.author, tc.total, tc.available)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestBookCopies(t *testing.T) {
	b, err := NewBook(1, "T", "A", 2, 2)
	require.NoError(t, err)

	assert.True(t, b.BorrowCopy())
	assert.True(t, b.BorrowCopy())
	assert.False(t, b.BorrowCopy(), "no copies left")
	assert.Equal(t, 0, b.AvailableCopies)

	b.ReturnCopy()
	b.ReturnCopy()
	b.ReturnCopy()
	assert.Equal(t, 2, b.AvailableCopies, "return is capped at total")

	require.NoError(t, b.AddCopies(3))
	assert.Equal(t, 5, b.TotalCopies)
	assert.Equal(t, 5, b.AvailableCopies)
	assert.True(t, IsValidationError(b.AddCopies(0)))
	assert.NoError(t, b.Validate())
}

func TestBookJSON(t *testing.T) {
	b, err := NewBook(7, "T", "A", 2, 1)
	require.NoError(t, err)
	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"title":"T","author":"A","total_copies":2,"available_copies":1,"deleted":false}`, string(out))
}

func TestNewLoan(t *testing.T) {
	at := time.Date(2024, time.May, 2, 17, 45, 0, 0, time.Local)
	l, err := NewLoan(1, " alice ", 3, at, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", l.Username)
	assert.True(t, l.Active())
	assert.Equal(t, "2024-05-02", l.LoanDate.Format(DateLayout))
	assert.Zero(t, l.LoanDate.Hour())

	_, err = NewLoan(0, "alice", 3, at, nil)
	assert.True(t, IsValidationError(err))
	_, err = NewLoan(1, "", 3, at, nil)
	assert.True(t, IsValidationError(err))
	_, err = NewLoan(1, "alice", 0, at, nil)
	assert.True(t, IsValidationError(err))
	_, err = NewLoan(1, "alice", 3, time.Time{}, nil)
	assert.True(t, IsValidationError(err))

	ret := at.AddDate(0, 0, 7)
	l, err = NewLoan(2, "alice", 3, at, &ret)
	require.NoError(t, err)
	assert.False(t, l.Active())
	assert.Equal(t, "2024-05-09", l.ReturnDate.Format(DateLayout))
}

func TestLoanMarkReturned(t *testing.T) {
	at := time.Date(2024, time.May, 2, 0, 0, 0, 0, time.Local)
	l, err := NewLoan(1, "alice", 3, at, nil)
	require.NoError(t, err)

	assert.True(t, IsValidationError(l.MarkReturned(time.Time{})))
	assert.True(t, l.Active())

	require.NoError(t, l.MarkReturned(at.AddDate(0, 0, 3)))
	assert.False(t, l.Active())
	require.NoError(t, l.MarkReturned(at.AddDate(0, 0, 10)))
	assert.Equal(t, "2024-05-05", l.ReturnDate.Format(DateLayout), "first return date sticks")

	assert.Equal(t, "Loan#1 | user=alice | bookId=3 | loanDate=2024-05-02 | returnDate=2024-05-05", l.String())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Librarian ")
	require.NoError(t, err)
	assert.Equal(t, RoleLibrarian, r)

	_, err = ParseRole("janitor")
	assert.True(t, IsValidationError(err))

	assert.True(t, RoleStudent.CanBorrow())
	assert.False(t, RoleAdmin.CanBorrow())
	assert.True(t, RoleLibrarian.CanManageBooks())
	assert.True(t, RoleAdmin.CanManageBooks())
	assert.False(t, RoleStudent.CanManageBooks())
	assert.True(t, RoleAdmin.CanManageUsers())
	assert.False(t, RoleLibrarian.CanManageUsers())
}

func TestUserJSONHidesHash(t *testing.T) {
	out, err := json.Marshal(User{Username: "alice", PasswordHash: "secret", Role: RoleStudent})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret")
}

func TestValidationErrorMessage(t *testing.T) {
	err := error(invalid("title", "required"))
	assert.EqualError(t, err, "invalid title: required")
	assert.True(t, IsValidationError(err))
	assert.False(t, IsValidationError(ErrStorage))
}
