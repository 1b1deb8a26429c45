package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-lending/library"
)

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", what, s)
	}
	return id, nil
}

func printBooks(books []*library.Book) {
	if len(books) == 0 {
		fmt.Println("No books found.")
		return
	}
	fmt.Printf("%-5s %-30s %-25s %s\n", "ID", "Title", "Author", "Available")
	fmt.Println(strings.Repeat("-", 75))
	for _, b := range books {
		fmt.Println(library.PrettyBook(b))
	}
}

func printLoans(a *app, cmd *cobra.Command, loans []*library.Loan) error {
	if len(loans) == 0 {
		fmt.Println("No loans.")
		return nil
	}
	fmt.Printf("%-5s %-15s %-30s %-12s %-12s\n", "ID", "User", "Book", "Loaned", "Returned")
	fmt.Println(strings.Repeat("-", 78))
	titles := map[int64]string{}
	for _, l := range loans {
		title, ok := titles[l.BookID]
		if !ok {
			b, err := a.manager.FindBook(cmd.Context(), l.BookID)
			if err != nil {
				return err
			}
			title = fmt.Sprintf("#%d (removed)", l.BookID)
			if b != nil {
				title = b.Title
			}
			titles[l.BookID] = title
		}
		fmt.Println(library.PrettyLoan(l, title))
	}
	return nil
}

func printUsers(users []*library.User) {
	fmt.Printf("%-20s %-10s\n", "Username", "Role")
	fmt.Println(strings.Repeat("-", 31))
	for _, u := range users {
		fmt.Printf("%-20s %-10s\n", u.Username, u.Role)
	}
}

func newBooksCmd(a *app) *cobra.Command {
	books := &cobra.Command{Use: "books", Short: "Manage the catalog"}

	books.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.manager.ListBooks(cmd.Context())
			if err != nil {
				return err
			}
			printBooks(list)
			return nil
		},
	})

	books.AddCommand(&cobra.Command{
		Use:   "search [query]",
		Short: "Search books by title or author",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := ""
			if len(args) == 1 {
				q = args[0]
			}
			list, err := a.manager.SearchBooks(cmd.Context(), q)
			if err != nil {
				return err
			}
			printBooks(list)
			return nil
		},
	})

	var title, author string
	var copies int
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.manager.AddBook(cmd.Context(), title, author, copies)
			if err != nil {
				return err
			}
			fmt.Printf("Added book ID %d: %s\n", b.ID, b)
			return nil
		},
	}
	add.Flags().StringVar(&title, "title", "", "book title")
	add.Flags().StringVar(&author, "author", "", "book author")
	add.Flags().IntVar(&copies, "copies", 1, "number of copies")
	books.AddCommand(add)

	books.AddCommand(&cobra.Command{
		Use:   "remove <book-id>",
		Short: "Remove a book nobody is holding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book ID")
			if err != nil {
				return err
			}
			ok, err := a.manager.RemoveBook(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("Book %d was not removed (missing, already removed, or on loan).\n", id)
				return nil
			}
			fmt.Printf("Book %d removed.\n", id)
			return nil
		},
	})

	books.AddCommand(&cobra.Command{
		Use:   "add-copies <book-id> <count>",
		Short: "Add copies to an existing book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book ID")
			if err != nil {
				return err
			}
			count, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid count: %s", args[1])
			}
			b, err := a.manager.AddCopies(cmd.Context(), id, count)
			if err != nil {
				return err
			}
			if b == nil {
				fmt.Printf("Book %d not found.\n", id)
				return nil
			}
			fmt.Println(b)
			return nil
		},
	})

	return books
}

func newBorrowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <username> <book-id>",
		Short: "Lend a copy of a book to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1], "book ID")
			if err != nil {
				return err
			}
			loan, err := a.manager.BorrowBook(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			if loan == nil {
				fmt.Println("Borrow failed: book unavailable, unknown, or already borrowed by this user.")
				return nil
			}
			fmt.Println(loan)
			return nil
		},
	}
}

func newReturnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "return <username> <book-id>",
		Short: "Return a borrowed book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1], "book ID")
			if err != nil {
				return err
			}
			ok, err := a.manager.ReturnBook(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("No active loan found for that user and book.")
				return nil
			}
			fmt.Println("Book returned.")
			return nil
		},
	}
}

func newLoansCmd(a *app) *cobra.Command {
	var user string
	var active bool
	loans := &cobra.Command{Use: "loans", Short: "Inspect loans"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				out []*library.Loan
				err error
			)
			switch {
			case user != "":
				out, err = a.manager.ListLoansForUser(cmd.Context(), user)
			case active:
				out, err = a.manager.ListActiveLoans(cmd.Context())
			default:
				out, err = a.manager.ListAllLoans(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printLoans(a, cmd, out)
		},
	}
	list.Flags().StringVar(&user, "user", "", "only loans of this user")
	list.Flags().BoolVar(&active, "active", false, "only loans not yet returned")
	loans.AddCommand(list)
	return loans
}

func newUsersCmd(a *app) *cobra.Command {
	users := &cobra.Command{Use: "users", Short: "Administer accounts"}

	users.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.accounts.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			printUsers(list)
			return nil
		},
	})

	var role string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := library.ParseRole(role)
			if err != nil {
				return err
			}
			sc := bufio.NewScanner(os.Stdin)
			password, err := readPassword(sc, fmt.Sprintf("Enter password for %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			u, err := a.accounts.CreateUser(cmd.Context(), args[0], password, r)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s account '%s'\n", u.Role, u.Username)
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", string(library.RoleStudent), "student, librarian or admin")
	users.AddCommand(add)

	users.AddCommand(&cobra.Command{
		Use:   "delete <username>",
		Short: "Delete an account without loan history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.accounts.DeleteUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("User '%s' was not deleted (unknown or has loans).\n", args[0])
				return nil
			}
			fmt.Printf("User '%s' deleted.\n", args[0])
			return nil
		},
	})

	users.AddCommand(&cobra.Command{
		Use:   "reset-password <username>",
		Short: "Set a new password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := bufio.NewScanner(os.Stdin)
			password, err := readPassword(sc, fmt.Sprintf("Enter new password for %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			ok, err := a.accounts.ResetPassword(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("User '%s' not found.\n", args[0])
				return nil
			}
			fmt.Printf("Password reset for %s\n", args[0])
			return nil
		},
	})

	return users
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Put the demo catalog on an empty library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seeded, err := a.manager.SeedDemoData(cmd.Context())
			if err != nil {
				return err
			}
			if seeded {
				fmt.Println("Demo catalog added.")
			} else {
				fmt.Println("Library already has books; nothing seeded.")
			}
			return nil
		},
	}
}
