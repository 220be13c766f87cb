package db

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmelchner/aDB/cmd/util"
	"github.com/jmelchner/aDB/lib/evd"
	"github.com/jmelchner/aDB/lib/evd/engines/rowan"
	"github.com/jmelchner/aDB/lib/wrap"
)

var (
	engine evd.Factory

	// DatabaseCommands represents the db command group
	DatabaseCommands = &cobra.Command{
		Use:               "db",
		Short:             "Perform database operations",
		PersistentPreRunE: setupEngine,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitCLIConfig)

	// Add common database flags to the db command
	util.SetupDatabaseFlags(DatabaseCommands)

	// Add subcommands
	DatabaseCommands.AddCommand(getCmd)
	DatabaseCommands.AddCommand(putCmd)
	DatabaseCommands.AddCommand(addCmd)
	DatabaseCommands.AddCommand(delCmd)
	DatabaseCommands.AddCommand(clearCmd)
	DatabaseCommands.AddCommand(countCmd)
	DatabaseCommands.AddCommand(allCmd)
	DatabaseCommands.AddCommand(keysCmd)
	DatabaseCommands.AddCommand(iterateCmd)
	DatabaseCommands.AddCommand(storesCmd)
	DatabaseCommands.AddCommand(createStoreCmd)
	DatabaseCommands.AddCommand(createIndexCmd)
	DatabaseCommands.AddCommand(databasesCmd)
	DatabaseCommands.AddCommand(statsCmd)
	DatabaseCommands.AddCommand(dbVersionCmd)
	DatabaseCommands.AddCommand(perfTestCmd)
}

// setupEngine creates the database engine and loads the snapshot file
func setupEngine(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Configure engine logging
	util.InitLoggers(util.GetLogLevel())

	// Create the engine with the configured snapshot codec
	codec, err := util.GetCodec()
	if err != nil {
		return err
	}
	engine, err = rowan.New(&rowan.Options{
		CloneValues:   true,
		SnapshotCodec: codec,
	})
	if err != nil {
		return err
	}

	return loadSnapshot()
}

// loadSnapshot restores the database from the configured snapshot file. A
// missing file is not an error, the first mutating command creates it.
func loadSnapshot() error {
	path := util.GetSnapshotFile()
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := engine.Load(f); err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", path, err)
	}
	return nil
}

// persist writes the database back to the configured snapshot file. Called
// by every mutating command; a no-op without --file.
func persist() error {
	path := util.GetSnapshotFile()
	if path == "" {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := engine.Save(util.GetDatabaseName(), f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to save snapshot %s: %w", path, err)
	}
	return f.Close()
}

// withDatabase opens the configured database at its current version, runs
// fn on the connection and closes it again
func withDatabase(fn func(ctx context.Context, conn *wrap.DB) error) error {
	ctx := context.Background()
	conn, err := wrap.Open(ctx, engine, util.GetDatabaseName(), 0, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, conn)
}

// bumpVersion reopens the database one version higher and runs fn inside
// the version change transaction. Schema commands are built on this
func bumpVersion(fn func(db *wrap.DB, tx *wrap.Tx) error) error {
	ctx := context.Background()

	// Look up the current version
	conn, err := wrap.Open(ctx, engine, util.GetDatabaseName(), 0, nil)
	if err != nil {
		return err
	}
	next := conn.Version() + 1
	conn.Close()

	// Reopen one version higher, applying the schema change in the upgrade
	var upgradeErr error
	conn, err = wrap.Open(ctx, engine, util.GetDatabaseName(), next, &wrap.OpenOptions{
		Upgrade: func(db *wrap.DB, _, _ uint64, tx *wrap.Tx) {
			if upgradeErr = fn(db, tx); upgradeErr != nil {
				_ = tx.Abort()
			}
		},
	})
	if err != nil {
		if upgradeErr != nil {
			return upgradeErr
		}
		return err
	}
	conn.Close()
	return nil
}

// ensureStore creates the named object store if the database does not have
// it yet
func ensureStore(name string) error {
	ctx := context.Background()
	conn, err := wrap.Open(ctx, engine, util.GetDatabaseName(), 0, nil)
	if err != nil {
		return err
	}
	for _, existing := range conn.ObjectStoreNames() {
		if existing == name {
			conn.Close()
			return nil
		}
	}
	conn.Close()

	return bumpVersion(func(db *wrap.DB, _ *wrap.Tx) error {
		_, err := db.CreateObjectStore(name, evd.StoreOptions{})
		return err
	})
}
