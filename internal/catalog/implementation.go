// internal/catalog/implementation.go
package catalog

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libracirc/internal/library"
	"libracirc/internal/store"
)

// service implements the Service interface.
type service struct {
	store  *store.Store
	clock  library.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService creates a new catalog service instance.
func NewService(st *store.Store, opts ...Option) (Service, error) {
	s := &service{
		store:  st,
		clock:  library.SystemClock,
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("libracirc/catalog"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddBook stores a book and creates its available copies in one transaction.
func (s *service) AddBook(ctx context.Context, in library.BookInput, copies int) (details BookDetails, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_book", trace.WithAttributes(attribute.Int("copies", copies)))
	defer func() { end(span, err) }()

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return BookDetails{}, err
	}
	if copies < 0 {
		return BookDetails{}, ErrInvalidCopies
	}

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		now := s.clock.Now().UTC()

		book, err := tx.InsertBook(ctx, in)
		if err != nil {
			return err
		}
		details = BookDetails{Book: book, Copies: make([]library.Copy, 0, copies)}
		for i := 0; i < copies; i++ {
			c, err := tx.InsertCopy(ctx, book.ID, "", now)
			if err != nil {
				return err
			}
			details.Copies = append(details.Copies, c)
		}
		details.Available = len(details.Copies)
		return nil
	})
	if err != nil {
		return BookDetails{}, err
	}

	span.SetAttributes(attribute.Int64("book.id", details.ID))
	s.logger.Info("book added", "book_id", details.ID, "title", details.Title, "copies", copies)
	return details, nil
}

func (s *service) GetBook(ctx context.Context, id int64) (BookDetails, error) {
	var details BookDetails
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		book, err := tx.GetBook(ctx, id)
		if err != nil {
			return err
		}
		copies, err := tx.ListCopies(ctx, id, nil)
		if err != nil {
			return err
		}

		details = BookDetails{Book: book, Copies: copies}
		for _, c := range copies {
			if c.Status == library.CopyAvailable {
				details.Available++
			}
		}
		return nil
	})
	return details, err
}

// UpdateBook replaces the attributes of a book, including its authors and subjects.
func (s *service) UpdateBook(ctx context.Context, id int64, in library.BookInput) (book library.Book, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.update_book", trace.WithAttributes(attribute.Int64("book.id", id)))
	defer func() { end(span, err) }()

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return library.Book{}, err
	}

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		book, err = tx.UpdateBook(ctx, id, in)
		return err
	})
	if err != nil {
		return library.Book{}, err
	}
	return book, nil
}

// RemoveBook deletes a book with its copies and their closed records. A book with a reserved or borrowed copy
// is refused.
func (s *service) RemoveBook(ctx context.Context, id int64) (err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.remove_book", trace.WithAttributes(attribute.Int64("book.id", id)))
	defer func() { end(span, err) }()

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBook(ctx, id); err != nil {
			return err
		}
		for _, status := range []library.CopyStatus{library.CopyReserved, library.CopyBorrowed} {
			n, err := tx.CountCopies(ctx, id, status)
			if err != nil {
				return err
			}
			if n > 0 {
				return library.ErrBookInCirculation
			}
		}
		return tx.DeleteBook(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("book removed", "book_id", id)
	return nil
}

func (s *service) AddCopy(ctx context.Context, bookID int64, location string) (c library.Copy, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_copy", trace.WithAttributes(attribute.Int64("book.id", bookID)))
	defer func() { end(span, err) }()

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBook(ctx, bookID); err != nil {
			return err
		}
		c, err = tx.InsertCopy(ctx, bookID, strings.TrimSpace(location), s.clock.Now().UTC())
		return err
	})
	if err != nil {
		return library.Copy{}, err
	}

	s.logger.Info("copy added", "book_id", bookID, "copy_id", c.ID)
	return c, nil
}

func (s *service) GetCopy(ctx context.Context, id int64) (library.Copy, error) {
	var c library.Copy
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		c, err = tx.GetCopy(ctx, id)
		return err
	})
	return c, err
}

// UpdateCopyLocation moves a copy. The move is journaled, so it bumps the copy version like any transition.
func (s *service) UpdateCopyLocation(ctx context.Context, id int64, location string) (c library.Copy, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.update_copy_location", trace.WithAttributes(attribute.Int64("copy.id", id)))
	defer func() { end(span, err) }()

	location = strings.TrimSpace(location)
	if location == "" {
		return library.Copy{}, ErrEmptyLocation
	}

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockCopy(ctx, id)
		if err != nil {
			return err
		}
		if current.Location == location {
			c = current
			return nil
		}

		moved, err := tx.UpdateCopyLocation(ctx, id, location)
		if err != nil {
			return err
		}
		if c, err = tx.SetCopyStatus(ctx, moved, moved.Status); err != nil {
			return err
		}
		return tx.AppendCopyEvent(ctx, c.ID, c.Version, library.EventCopyRelocated, CopyRelocatedEvent{
			From: current.Location,
			To:   location,
		}, s.clock.Now().UTC())
	})
	if err != nil {
		return library.Copy{}, err
	}
	return c, nil
}

// RemoveCopy deletes an available copy and its closed records.
func (s *service) RemoveCopy(ctx context.Context, id int64) (err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.remove_copy", trace.WithAttributes(attribute.Int64("copy.id", id)))
	defer func() { end(span, err) }()

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := tx.LockCopy(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != library.CopyAvailable {
			return library.ErrCopyInCirculation
		}
		return tx.DeleteCopy(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("copy removed", "copy_id", id)
	return nil
}

func (s *service) ListBooks(ctx context.Context, filter library.BookFilter) ([]library.Book, error) {
	var out []library.Book
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListBooks(ctx, filter)
		return err
	})
	return out, err
}

// ListCopies lists the copies of a book, optionally only those in one status.
func (s *service) ListCopies(ctx context.Context, bookID int64, status *library.CopyStatus) ([]library.Copy, error) {
	var out []library.Copy
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBook(ctx, bookID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListCopies(ctx, bookID, status)
		return err
	})
	return out, err
}

func (s *service) CountAvailable(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBook(ctx, bookID); err != nil {
			return err
		}
		var err error
		n, err = tx.CountCopies(ctx, bookID, library.CopyAvailable)
		return err
	})
	return n, err
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if library.KindOf(err) == library.KindInternal {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
