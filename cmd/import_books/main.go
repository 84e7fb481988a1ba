package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"library-lending/config"
	"library-lending/library"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	dbPath := flag.String("db", cfg.DBPath, "path to the SQLite database")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: import_books [-db library.db] books.csv\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening CSV: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	books, err := readBooks(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading CSV: %v\n", err)
		os.Exit(1)
	}

	manager, err := library.NewLibraryManager(*dbPath,
		library.WithLogger(cfg.NewLogger(os.Stderr)),
		library.WithStorageTimeout(cfg.StorageTimeout),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	ctx := context.Background()
	fmt.Printf("Importing %d books into %s...\n", len(books), *dbPath)
	n, err := manager.ImportBooks(ctx, books)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed, nothing was written: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", n)

	all, err := manager.GetAllBooks(ctx)
	if err != nil {
		fmt.Printf("Error retrieving books: %v\n", err)
		return
	}
	fmt.Println("\nCatalog:")
	fmt.Printf("%-5s %-30s %-25s %-15s %-6s %-10s\n", "ID", "Title", "Author", "Genre", "Year", "Available")
	fmt.Println(strings.Repeat("-", 96))
	for _, b := range all {
		fmt.Println(library.PrettyBook(b))
	}
}

var header = []string{"title", "author", "genre", "year"}

// readBooks parses CSV rows of title,author,genre,year. The header row is
// required; genre and year may be empty.
func readBooks(r io.Reader) ([]library.Book, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.TrimLeadingSpace = true

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, err
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(first[i]), col) {
			return nil, fmt.Errorf("header column %d is %q, want %q", i+1, first[i], col)
		}
	}

	var books []library.Book
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		b := library.Book{Title: rec[0], Author: rec[1], Genre: rec[2]}
		if y := strings.TrimSpace(rec[3]); y != "" {
			if b.Year, err = strconv.Atoi(y); err != nil {
				return nil, fmt.Errorf("line %d: invalid year %q", line, rec[3])
			}
		}
		books = append(books, b)
	}
	return books, nil
}
