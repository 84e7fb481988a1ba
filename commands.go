package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-lending/library"
)

// readPassword securely reads a password with masking. When stdin is not a
// terminal the first line is read as-is so scripts can pipe it in.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

// passwordOrPrompt returns flagValue when set, otherwise prompts for one.
func passwordOrPrompt(flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	password, err := readPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

// ------------------ Books ------------------

func (a *app) bookCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage the catalog"}
	cmd.AddCommand(a.bookAddCmd(), a.bookListCmd(), a.bookSearchCmd(), a.bookEditCmd(), a.bookDeleteCmd())
	return cmd
}

func bookFlags(cmd *cobra.Command, b *library.Book) {
	cmd.Flags().StringVar(&b.Title, "title", "", "book title")
	cmd.Flags().StringVar(&b.Author, "author", "", "book author")
	cmd.Flags().StringVar(&b.Genre, "genre", "", "book genre")
	cmd.Flags().IntVar(&b.Year, "year", 0, "publication year")
}

func (a *app) bookAddCmd() *cobra.Command {
	var b library.Book
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a book to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.mgr.AddBook(cmd.Context(), b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added book ID %d\n", id)
			return nil
		},
	}
	bookFlags(cmd, &b)
	return cmd
}

func (a *app) bookListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := a.mgr.GetAllBooks(cmd.Context())
			if err != nil {
				return err
			}
			if len(books) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No books in library.")
				return nil
			}
			printBooks(cmd.OutOrStdout(), books)
			return nil
		},
	}
}

func (a *app) bookSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Search titles, authors and genres",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			books, err := a.mgr.SearchBooks(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(books) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No books found matching '%s'.\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Found %d book(s) matching '%s':\n", len(books), args[0])
			printBooks(cmd.OutOrStdout(), books)
			return nil
		},
	}
}

func (a *app) bookEditCmd() *cobra.Command {
	var b library.Book
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Change a book's metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.mgr.EditBook(cmd.Context(), b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated book ID %d\n", b.ID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&b.ID, "id", 0, "book id")
	bookFlags(cmd, &b)
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func (a *app) bookDeleteCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a book that is not on loan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.mgr.DeleteBook(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted book ID %d\n", id)
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "book id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func printBooks(w io.Writer, books []*library.Book) {
	fmt.Fprintf(w, "%-5s %-30s %-25s %-15s %-6s %-10s\n", "ID", "Title", "Author", "Genre", "Year", "Available")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, b := range books {
		fmt.Fprintln(w, library.PrettyBook(b))
	}
}

// ------------------ Members ------------------

func (a *app) memberCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage library members"}
	cmd.AddCommand(a.memberAddCmd(), a.memberListCmd(), a.memberResetPasswordCmd())
	return cmd
}

func (a *app) memberAddCmd() *cobra.Command {
	var (
		name, role, password string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := passwordOrPrompt(password, fmt.Sprintf("Enter password for %s: ", name))
			if err != nil {
				return err
			}
			id, err := a.mgr.AddMember(cmd.Context(), name, library.Role(role), pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added member '%s' with ID %d\n", name, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "member name")
	cmd.Flags().StringVar(&role, "role", string(library.RoleMember), "admin or member")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			members, err := a.mgr.GetAllMembers(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(members) == 0 {
				fmt.Fprintln(w, "No members registered.")
				return nil
			}
			fmt.Fprintf(w, "%-5s %-30s %-8s\n", "ID", "Name", "Role")
			fmt.Fprintln(w, strings.Repeat("-", 45))
			for _, m := range members {
				fmt.Fprintf(w, "%-5d %-30s %-8s\n", m.ID, m.Name, m.Role)
			}
			return nil
		},
	}
}

func (a *app) memberResetPasswordCmd() *cobra.Command {
	var (
		id       int64
		password string
	)
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password for a member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			member, err := a.mgr.GetMember(cmd.Context(), id)
			if err != nil {
				return err
			}
			pw, err := passwordOrPrompt(password, fmt.Sprintf("Enter new password for %s (ID: %d): ", member.Name, id))
			if err != nil {
				return err
			}
			if err := a.mgr.ResetMemberPassword(cmd.Context(), id, pw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password successfully reset for %s (ID: %d)\n", member.Name, id)
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "member id")
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// ------------------ Circulation ------------------

type circulationFlags struct {
	bookID, memberID int64
	password         string
}

func (f *circulationFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.bookID, "book", 0, "book id")
	cmd.Flags().Int64Var(&f.memberID, "member", 0, "member id")
	cmd.Flags().StringVar(&f.password, "password", "", "member password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("book")
	_ = cmd.MarkFlagRequired("member")
}

// authenticate prompts for and verifies the member's credentials.
func (a *app) authenticate(cmd *cobra.Command, f *circulationFlags) (*library.Member, error) {
	password, err := passwordOrPrompt(f.password, "Enter your password: ")
	if err != nil {
		return nil, err
	}
	member, err := a.mgr.AuthenticateMember(cmd.Context(), f.memberID, password)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return member, nil
}

func (a *app) borrowCmd() *cobra.Command {
	var f circulationFlags
	cmd := &cobra.Command{
		Use:   "borrow",
		Short: "Borrow a book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			member, err := a.authenticate(cmd, &f)
			if err != nil {
				return err
			}
			loan, err := a.mgr.Borrow(cmd.Context(), f.bookID, member.ID, member.Name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Book %d borrowed by %s (ref %s)\n", loan.BookID, member.Name, loan.Ref)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) returnCmd() *cobra.Command {
	var f circulationFlags
	cmd := &cobra.Command{
		Use:   "return",
		Short: "Return a borrowed book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			member, err := a.authenticate(cmd, &f)
			if err != nil {
				return err
			}
			loan, err := a.mgr.Return(cmd.Context(), f.bookID, member.ID, member.Name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Book %d returned by %s\n", loan.BookID, member.Name)
			fmt.Fprintln(cmd.OutOrStdout(), "Book is now available for checkout")
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var memberID int64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a member's borrowing history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			n := 0
			for rec, err := range a.mgr.ListBorrowed(cmd.Context(), memberID) {
				if err != nil {
					return err
				}
				if n == 0 {
					printLoanHeader(w)
				}
				printLoan(w, rec)
				n++
			}
			if n == 0 {
				fmt.Fprintf(w, "No loans recorded for member %d.\n", memberID)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&memberID, "member", 0, "member id")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func (a *app) loansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loans",
		Short: "List books currently on loan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, err := a.mgr.ListOpenLoans(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(loans) == 0 {
				fmt.Fprintln(w, "No books are on loan.")
				return nil
			}
			printLoanHeader(w)
			for _, rec := range loans {
				printLoan(w, rec)
			}
			return nil
		},
	}
}

func printLoanHeader(w io.Writer) {
	fmt.Fprintf(w, "%-5s %-30s %-8s %-10s %-20s %-20s\n", "Book", "Title", "Member", "Status", "Borrowed", "Returned")
	fmt.Fprintln(w, strings.Repeat("-", 98))
}

func printLoan(w io.Writer, rec library.LoanRecord) {
	const layout = "2006-01-02 15:04"
	title := rec.Title
	if title == "" {
		title = "(deleted)"
	}
	returned := "-"
	if rec.ReturnDate != nil {
		returned = rec.ReturnDate.Local().Format(layout)
	}
	fmt.Fprintf(w, "%-5d %-30s %-8d %-10s %-20s %-20s\n", rec.BookID, title, rec.BorrowerID, rec.Status,
		rec.BorrowDate.Local().Format(layout), returned)
}
