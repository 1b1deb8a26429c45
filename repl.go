package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"library-lending/library"
)

// readPassword reads a password with masking when stdin is a terminal and
// falls back to a plain line otherwise (pipes, tests).
func readPassword(sc *bufio.Scanner, prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		bytePassword, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return "", err
		}
		fmt.Println() // Add newline after password input
		return strings.TrimSpace(string(bytePassword)), nil
	}
	line, ok := scanLine(sc)
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

func scanLine(sc *bufio.Scanner) (string, bool) {
	if !sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(sc.Text()), true
}

func prompt(sc *bufio.Scanner, label string) (string, bool) {
	fmt.Print(label)
	return scanLine(sc)
}

func promptID(sc *bufio.Scanner, label string) (int64, bool) {
	s, ok := prompt(sc, label)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Printf("Invalid number: %s\n", s)
		return 0, false
	}
	return id, true
}

// report prints err the way the console shows failures. Validation errors are
// the caller's fault and read as such.
func report(err error) {
	if library.IsValidationError(err) {
		fmt.Printf("Invalid input: %v\n", err)
		return
	}
	fmt.Printf("Error: %v\n", err)
}

func runREPL(ctx context.Context, a *app) error {
	sc := bufio.NewScanner(os.Stdin)

	fmt.Println("Welcome to the Library Management System!")
	for {
		user, err := login(ctx, sc, a)
		if errors.Is(err, io.EOF) {
			fmt.Println("Goodbye!")
			return nil
		}
		if err != nil {
			return err
		}
		if user == nil {
			fmt.Println("Invalid username or password.")
			continue
		}
		a.log.Info().Str("user", user.Username).Str("role", string(user.Role)).Msg("logged in")
		if quit := session(ctx, sc, a, user); quit {
			fmt.Println("Goodbye!")
			return nil
		}
	}
}

func login(ctx context.Context, sc *bufio.Scanner, a *app) (*library.User, error) {
	fmt.Println("\nLog in (or type 'exit').")
	username, ok := prompt(sc, "Username: ")
	if !ok || username == "exit" {
		return nil, io.EOF
	}
	password, err := readPassword(sc, "Password: ")
	if err != nil {
		return nil, err
	}
	return a.accounts.Authenticate(ctx, username, password)
}

type menuItem struct {
	name   string
	allow  func(library.Role) bool
	handle func(ctx context.Context, sc *bufio.Scanner, a *app, u *library.User)
}

func anyone(library.Role) bool { return true }

var menu = []menuItem{
	{"list books", anyone, handleListBooks},
	{"search book", anyone, handleSearchBooks},
	{"borrow", library.Role.CanBorrow, handleBorrow},
	{"return", library.Role.CanBorrow, handleReturn},
	{"my loans", library.Role.CanBorrow, handleMyLoans},
	{"add book", library.Role.CanManageBooks, handleAddBook},
	{"add copies", library.Role.CanManageBooks, handleAddCopies},
	{"remove book", library.Role.CanManageBooks, handleRemoveBook},
	{"active loans", library.Role.CanManageBooks, handleActiveLoans},
	{"all loans", library.Role.CanManageBooks, handleAllLoans},
	{"add user", library.Role.CanManageUsers, handleAddUser},
	{"delete user", library.Role.CanManageUsers, handleDeleteUser},
	{"reset password", library.Role.CanManageUsers, handleResetPassword},
	{"list users", library.Role.CanManageUsers, handleListUsers},
}

// session runs the command loop for one logged-in user. It reports true when
// the user asked to quit the program rather than log out.
func session(ctx context.Context, sc *bufio.Scanner, a *app, u *library.User) bool {
	var names []string
	for _, m := range menu {
		if m.allow(u.Role) {
			names = append(names, m.name)
		}
	}
	fmt.Printf("\nHello %s (%s). Available commands:\n  %s\n  logout, exit\n",
		u.Username, u.Role, strings.Join(names, ", "))

	for {
		cmd, ok := prompt(sc, "\n> ")
		if !ok {
			return true
		}
		switch cmd {
		case "logout":
			return false
		case "exit":
			return true
		case "":
			continue
		}

		handled := false
		for _, m := range menu {
			if m.name == cmd && m.allow(u.Role) {
				m.handle(ctx, sc, a, u)
				handled = true
				break
			}
		}
		if !handled {
			fmt.Println("Unknown command. Type one of the available commands listed above.")
		}
	}
}

func handleListBooks(ctx context.Context, _ *bufio.Scanner, a *app, _ *library.User) {
	books, err := a.manager.ListBooks(ctx)
	if err != nil {
		report(err)
		return
	}
	printBooks(books)
}

func handleSearchBooks(ctx context.Context, sc *bufio.Scanner, a *app, _ *library.User) {
	q, ok := prompt(sc, "Query: ")
	if !ok {
		return
	}
	books, err := a.manager.SearchBooks(ctx, q)
	if err != nil {
		report(err)
		return
	}
	printBooks(books)
}

func handleBorrow(ctx context.Context, sc *bufio.Scanner, a *app, u *library.User) {
	id, ok := promptID(sc, "Book ID: ")
	if !ok {
		return
	}
	loan, err := a.manager.BorrowBook(ctx, u.Username, id)
	if err != nil {
		report(err)
		return
	}
	if loan == nil {
		fmt.Println("Cannot borrow: the book is unavailable or you already have it.")
		return
	}
	fmt.Printf("Borrowed book %d on %s.\n", id, loan.LoanDate.Format(library.DateLayout))
}

func handleReturn(ctx context.Context, sc *bufio.Scanner, a *app, u *library.User) {
	id, ok := promptID(sc, "Book ID: ")
	if !ok {
		return
	}
	returned, err := a.manager.ReturnBook(ctx, u.Username, id)
	if err != nil {
		report(err)
		return
	}
	if !returned {
		fmt.Println("You have no active loan for that book.")
		return
	}
	fmt.Println("Book returned. Thank you!")
}

func showLoans(ctx context.Context, a *app, loans []*library.Loan, err error) {
	if err != nil {
		report(err)
		return
	}
	for _, l := range loans {
		title := fmt.Sprintf("#%d (removed)", l.BookID)
		if b, err := a.manager.FindBook(ctx, l.BookID); err == nil && b != nil {
			title = b.Title
		}
		fmt.Println(library.PrettyLoan(l, title))
	}
	if len(loans) == 0 {
		fmt.Println("No loans.")
	}
}

func handleMyLoans(ctx context.Context, _ *bufio.Scanner, a *app, u *library.User) {
	loans, err := a.manager.ListLoansForUser(ctx, u.Username)
	showLoans(ctx, a, loans, err)
}

func handleActiveLoans(ctx context.Context, _ *bufio.Scanner, a *app, _ *library.User) {
	loans, err := a.manager.ListActiveLoans(ctx)
	showLoans(ctx, a, loans, err)
}

func handleAllLoans(ctx context.Context, _ *bufio.Scanner, a *app, _ *library.User) {
	loans, err := a.manager.ListAllLoans(ctx)
	showLoans(ctx, a, loans, err)
}

func handleAddBook(ctx context.Context, sc *bufio.Scanner, a *app, _ *library.User) {
	title, ok := prompt(sc, "Title: ")
	if !ok {
		return
	}
	author, ok := prompt(sc, "Author: ")
	if !ok {
		return
	}
	copiesStr, ok := prompt(sc, "Copies: ")
	if !ok {
		return
	}
	copies, err := strconv.Atoi(copiesStr)
	if err != nil {
		fmt.Printf("Invalid number: %s\n", copiesStr)
		return
	}
	b, err := a.manager.AddBook(ctx, title, author, copies)
	if err != nil {
		report(err)
		return
	}
	fmt.Printf("Added book ID %d.\n", b.ID)
}

func handleAddCopies(ctx context.Context, sc *bufio.Scanner, a *app, _ *library.User) {
	id, ok := promptID(sc, "Book ID: ")
	if !ok {
		return
	}
	countStr, ok := prompt(sc, "Copies to add: ")
	if !ok {
		return
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		fmt.Printf("Invalid number: %s\n", countStr)
		return
	}
	b, err := a.manager.AddCopies(ctx, id, count)
	if err != nil {
		report(err)
		return
	}
	if b == nil {
		fmt.Println("Book not found.")
		return
	}
	fmt.Println(b)
}

func handleRemoveBook(ctx context.Context, sc *bufio.Scanner, a *app, _ *library.User) {
	id, ok := promptID(sc, "Book ID: ")
	if !ok {
		return
	}
	removed, err := a.manager.RemoveBook(ctx, id)
	if err != nil {
		report(err)
		return
	}
	if !removed {
		fmt.Println("Cannot remove: book not found or still on loan.")
		return
	}
	fmt.Println("Book removed.")
}

func handleAddUser(ctx context.Context, sc *bufio.Scanner, a *app, _ *library.User) {
	username, ok := prompt(sc, "Username: ")
	if !ok {
		return
	}
	roleStr, ok := prompt(sc, "Role (student/librarian/admin): ")
	if !ok {
		return
	}
	role, err := library.ParseRole(roleStr)
	if err != nil {
		report(err)
		return
	}
	password, err := readPassword(sc, fmt.Sprintf("Enter password for %s: ", username))
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return
	}
	u, err := a.accounts.CreateUser(ctx, username, password, role)
	if err != nil {
		report(err)
		return
	}
	fmt.Printf("Added %s '%s'\n", u.Role, u.Username)
}

func handleDeleteUser(ctx context.Context, sc *bufio.Scanner, a *app, current *library.User) {
	username, ok := prompt(sc, "Username: ")
	if !ok {
		return
	}
	if strings.EqualFold(username, current.Username) {
		fmt.Println("Refusing to delete the account you are logged in with.")
		return
	}
	deleted, err := a.accounts.DeleteUser(ctx, username)
	if err != nil {
		report(err)
		return
	}
	if !deleted {
		fmt.Println("User not found or has loan history.")
		return
	}
	fmt.Println("User deleted.")
}

func handleResetPassword(ctx context.Context, sc *bufio.Scanner, a *app, _ *library.User) {
	username, ok := prompt(sc, "Username: ")
	if !ok {
		return
	}
	password, err := readPassword(sc, fmt.Sprintf("Enter new password for %s: ", username))
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return
	}
	reset, err := a.accounts.ResetPassword(ctx, username, password)
	if err != nil {
		report(err)
		return
	}
	if !reset {
		fmt.Println("User not found.")
		return
	}
	fmt.Printf("Password successfully reset for %s\n", username)
}

func handleListUsers(ctx context.Context, _ *bufio.Scanner, a *app, _ *library.User) {
	users, err := a.accounts.ListUsers(ctx)
	if err != nil {
		report(err)
		return
	}
	printUsers(users)
}
