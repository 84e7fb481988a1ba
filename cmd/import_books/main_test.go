package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/library"
)

func TestReadBooks(t *testing.T) {
	in := "title,author,genre,year\n" +
		"1984,George Orwell,Dystopia,1949\n" +
		"\"Robert'); DROP TABLE books;--\",Anon,,\n"

	books, err := readBooks(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []library.Book{
		{Title: "1984", Author: "George Orwell", Genre: "Dystopia", Year: 1949},
		{Title: "Robert'); DROP TABLE books;--", Author: "Anon"},
	}, books)
}

func TestReadBooksRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"empty":        "",
		"wrong header": "name,author,genre,year\nA,B,C,1\n",
		"bad year":     "title,author,genre,year\nA,B,C,soon\n",
		"short row":    "title,author,genre,year\nA,B\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := readBooks(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}
