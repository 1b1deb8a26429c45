package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"library-lending/library"
)

// app is the composition root shared by every command.
type app struct {
	cfg      library.Config
	log      zerolog.Logger
	manager  *library.LibraryManager
	accounts *library.AccountService
	close    func() error
}

type rootFlags struct {
	dbPath   string
	logLevel string
	memory   bool
	noSeed   bool
}

func (a *app) open(flags rootFlags) error {
	a.cfg = library.LoadConfig()
	if flags.dbPath != "" {
		a.cfg.DBPath = flags.dbPath
	}
	if flags.logLevel != "" {
		if lvl, err := zerolog.ParseLevel(flags.logLevel); err == nil {
			a.cfg.LogLevel = lvl
		}
	}
	if flags.noSeed {
		a.cfg.Seed = false
	}

	zerolog.TimeFieldFormat = time.RFC3339
	a.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(a.cfg.LogLevel).With().Timestamp().Logger()

	var (
		repo  library.Repository
		users library.UserStore
	)
	if flags.memory {
		store := library.NewMemoryStore(library.WithLogger(a.log))
		repo, users = store, store
		a.close = func() error { return nil }
		a.log.Debug().Msg("using in-memory store")
	} else {
		db, err := library.NewDatabaseWithTimeout(a.cfg.DBPath, a.cfg.BusyTimeout, library.WithLogger(a.log))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		repo, users = db, db
		a.close = db.Close
		a.log.Debug().Str("db", a.cfg.DBPath).Msg("database opened")
	}

	a.manager = library.NewLibraryManager(repo)
	a.accounts = library.NewAccountService(users)
	return library.Bootstrap(context.Background(), a.accounts, a.manager, a.cfg.Seed, a.log)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var flags rootFlags

	root := &cobra.Command{
		Use:           "library",
		Short:         "Library book inventory and loans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(flags)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.close != nil {
				return a.close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd.Context(), a)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.dbPath, "db", "", "path to the SQLite database (default $LIBRARY_DB_PATH or library.db)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.memory, "memory", false, "use a throwaway in-memory store")
	pf.BoolVar(&flags.noSeed, "no-seed", false, "do not seed the demo catalog on an empty library")

	root.AddCommand(
		newBooksCmd(a),
		newBorrowCmd(a),
		newReturnCmd(a),
		newLoansCmd(a),
		newUsersCmd(a),
		newSeedCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
