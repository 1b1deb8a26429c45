package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/library"
)

func TestImportCatalog(t *testing.T) {
	manager := library.NewLibraryManager(library.NewMemoryStore())
	csv := `title,author,copies
Clean Code,Robert C. Martin,3
"Structure and Interpretation of Computer Programs, 2nd ed",Abelson,2
Missing Author,,1
No Copies,Somebody,zero
Too,Many,Fields,Here
Zero Copies,Somebody,0
`
	imported, failed, err := importCatalog(context.Background(), manager, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 4, failed)

	books, err := manager.ListBooks(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Clean Code", books[0].Title)
	assert.Equal(t, 3, books[0].TotalCopies)
	assert.Equal(t, "Structure and Interpretation of Computer Programs, 2nd ed", books[1].Title)
}

func TestImportCatalogWithoutHeader(t *testing.T) {
	manager := library.NewLibraryManager(library.NewMemoryStore())
	imported, failed, err := importCatalog(context.Background(), manager, strings.NewReader("Effective Java,Joshua Bloch,2\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Zero(t, failed)
}

func TestImportCatalogBadCSV(t *testing.T) {
	manager := library.NewLibraryManager(library.NewMemoryStore())
	_, _, err := importCatalog(context.Background(), manager, strings.NewReader("\"unterminated,quote,1\n"))
	assert.Error(t, err)
}

type brokenRepo struct {
	library.Repository
}

func (brokenRepo) AddBook(context.Context, string, string, int) (*library.Book, error) {
	return nil, library.ErrStorage
}

func TestImportCatalogStopsOnStorageError(t *testing.T) {
	manager := library.NewLibraryManager(brokenRepo{})
	imported, _, err := importCatalog(context.Background(), manager, strings.NewReader("A,B,1\nC,D,2\n"))
	assert.True(t, errors.Is(err, library.ErrStorage))
	assert.Zero(t, imported)
}
