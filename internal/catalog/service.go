// internal/catalog/service.go
package catalog

import (
	"context"

	"libracirc/internal/library"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, in library.BookInput, copies int) (BookDetails, error)
	GetBook(ctx context.Context, id int64) (BookDetails, error)
	UpdateBook(ctx context.Context, id int64, in library.BookInput) (library.Book, error)
	RemoveBook(ctx context.Context, id int64) error

	AddCopy(ctx context.Context, bookID int64, location string) (library.Copy, error)
	GetCopy(ctx context.Context, id int64) (library.Copy, error)
	UpdateCopyLocation(ctx context.Context, id int64, location string) (library.Copy, error)
	RemoveCopy(ctx context.Context, id int64) error

	ListBooks(ctx context.Context, filter library.BookFilter) ([]library.Book, error)
	ListCopies(ctx context.Context, bookID int64, status *library.CopyStatus) ([]library.Copy, error)
	CountAvailable(ctx context.Context, bookID int64) (int, error)
}
