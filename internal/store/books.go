// internal/store/books.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"libracirc/internal/library"
)

func (t *sqlTx) InsertBook(ctx context.Context, in library.BookInput) (library.Book, error) {
	id, err := t.insertID(ctx, t.insert(tableBooks).Rows(bookRow(in)))
	if err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return library.Book{}, library.ErrISBNAlreadyExists
		}
		return library.Book{}, fmt.Errorf("insert book: %w", err)
	}

	if err := t.writeBookLists(ctx, id, in); err != nil {
		return library.Book{}, err
	}
	return t.GetBook(ctx, id)
}

func (t *sqlTx) GetBook(ctx context.Context, id int64) (library.Book, error) {
	var rec bookRecord
	err := t.get(ctx, &rec, t.from(tableBooks).Select(bookColumns...).Where(goqu.C(colID).Eq(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return library.Book{}, library.ErrBookNotFound
	}
	if err != nil {
		return library.Book{}, fmt.Errorf("get book %d: %w", id, err)
	}

	books, err := t.attachBookLists(ctx, []bookRecord{rec})
	if err != nil {
		return library.Book{}, err
	}
	return books[0], nil
}

func (t *sqlTx) UpdateBook(ctx context.Context, id int64, in library.BookInput) (library.Book, error) {
	n, err := t.execAffected(ctx, t.update(tableBooks).Set(bookRow(in)).Where(goqu.C(colID).Eq(id)))
	if err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return library.Book{}, library.ErrISBNAlreadyExists
		}
		return library.Book{}, fmt.Errorf("update book %d: %w", id, err)
	}
	if n == 0 {
		return library.Book{}, library.ErrBookNotFound
	}

	for _, table := range []string{tableBookAuthors, tableBookSubjects} {
		if _, err := t.exec(ctx, t.delete(table).Where(goqu.C(colBookID).Eq(id))); err != nil {
			return library.Book{}, fmt.Errorf("clear %s of book %d: %w", table, id, err)
		}
	}
	if err := t.writeBookLists(ctx, id, in); err != nil {
		return library.Book{}, err
	}
	return t.GetBook(ctx, id)
}

// DeleteBook removes a book with its copies and every record that references them.
func (t *sqlTx) DeleteBook(ctx context.Context, id int64) error {
	copyIDs := t.from(tableCopies).Select(colID).Where(goqu.C(colBookID).Eq(id))

	for _, table := range []string{tableCopyEvents, tableHistory, tableReservations} {
		if _, err := t.exec(ctx, t.delete(table).Where(goqu.C(colCopyID).In(copyIDs))); err != nil {
			return fmt.Errorf("delete %s of book %d: %w", table, id, err)
		}
	}
	for _, table := range []string{tableCopies, tableBookAuthors, tableBookSubjects} {
		if _, err := t.exec(ctx, t.delete(table).Where(goqu.C(colBookID).Eq(id))); err != nil {
			return fmt.Errorf("delete %s of book %d: %w", table, id, err)
		}
	}

	n, err := t.execAffected(ctx, t.delete(tableBooks).Where(goqu.C(colID).Eq(id)))
	if err != nil {
		return fmt.Errorf("delete book %d: %w", id, err)
	}
	if n == 0 {
		return library.ErrBookNotFound
	}
	return nil
}

func (t *sqlTx) ListBooks(ctx context.Context, filter library.BookFilter) ([]library.Book, error) {
	ds := t.from(tableBooks).Select(bookColumns...).Order(goqu.C(colID).Asc())

	if filter.Title != "" {
		ds = ds.Where(containsFold("title", filter.Title))
	}
	if filter.Author != "" {
		ds = ds.Where(goqu.C(colID).In(
			t.from(tableBookAuthors).Select(colBookID).
				Where(containsFold(colName, filter.Author)),
		))
	}
	if filter.Subject != "" {
		ds = ds.Where(goqu.C(colID).In(
			t.from(tableBookSubjects).Select(colBookID).
				Where(goqu.Func("LOWER", goqu.C(colName)).Eq(strings.ToLower(filter.Subject))),
		))
	}
	if filter.Publisher != "" {
		ds = ds.Where(goqu.C("publisher").Eq(filter.Publisher))
	}
	if filter.Year != 0 {
		ds = ds.Where(goqu.C("published_year").Eq(filter.Year))
	}
	if filter.Language != "" {
		ds = ds.Where(goqu.C("language").Eq(filter.Language))
	}

	var recs []bookRecord
	if err := t.selectAll(ctx, &recs, ds); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return t.attachBookLists(ctx, recs)
}

func (t *sqlTx) writeBookLists(ctx context.Context, id int64, in library.BookInput) error {
	if len(in.Authors) > 0 {
		rows := make([]any, 0, len(in.Authors))
		for i, name := range in.Authors {
			rows = append(rows, goqu.Record{colBookID: id, "author_order": i, colName: name})
		}
		if _, err := t.exec(ctx, t.insert(tableBookAuthors).Rows(rows...)); err != nil {
			return fmt.Errorf("insert authors of book %d: %w", id, err)
		}
	}
	if len(in.Subjects) > 0 {
		rows := make([]any, 0, len(in.Subjects))
		for _, name := range in.Subjects {
			rows = append(rows, goqu.Record{colBookID: id, colName: name})
		}
		if _, err := t.exec(ctx, t.insert(tableBookSubjects).Rows(rows...)); err != nil {
			return fmt.Errorf("insert subjects of book %d: %w", id, err)
		}
	}
	return nil
}

// attachBookLists loads authors and subjects of all recs with one query per table.
func (t *sqlTx) attachBookLists(ctx context.Context, recs []bookRecord) ([]library.Book, error) {
	books := make([]library.Book, 0, len(recs))
	if len(recs) == 0 {
		return books, nil
	}

	ids := make([]any, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}

	var authors []authorRecord
	err := t.selectAll(ctx, &authors, t.from(tableBookAuthors).
		Select(colBookID, "author_order", colName).
		Where(goqu.C(colBookID).In(ids...)).
		Order(goqu.C(colBookID).Asc(), goqu.C("author_order").Asc()))
	if err != nil {
		return nil, fmt.Errorf("load authors: %w", err)
	}

	var subjects []subjectRecord
	err = t.selectAll(ctx, &subjects, t.from(tableBookSubjects).
		Select(colBookID, colName).
		Where(goqu.C(colBookID).In(ids...)).
		Order(goqu.C(colBookID).Asc(), goqu.C(colName).Asc()))
	if err != nil {
		return nil, fmt.Errorf("load subjects: %w", err)
	}

	authorsByBook := make(map[int64][]string, len(recs))
	for _, a := range authors {
		authorsByBook[a.BookID] = append(authorsByBook[a.BookID], a.Name)
	}
	subjectsByBook := make(map[int64][]string, len(recs))
	for _, s := range subjects {
		subjectsByBook[s.BookID] = append(subjectsByBook[s.BookID], s.Name)
	}

	for _, r := range recs {
		books = append(books, toBook(r, authorsByBook[r.ID], subjectsByBook[r.ID]))
	}
	return books, nil
}

func bookRow(in library.BookInput) goqu.Record {
	return goqu.Record{
		"title":          in.Title,
		"publisher":      in.Publisher,
		"published_year": in.Year,
		"language":       in.Language,
		"isbn":           nullString(in.ISBN),
	}
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// containsFold matches rows whose column contains s, ignoring case. Wildcards in s match literally.
func containsFold(col, s string) exp.LiteralExpression {
	return goqu.L("LOWER(?) LIKE ? ESCAPE '!'", goqu.C(col), containsPattern(s))
}

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}
