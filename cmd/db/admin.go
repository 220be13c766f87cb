package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmelchner/aDB/cmd/util"
	"github.com/jmelchner/aDB/lib/evd"
	"github.com/jmelchner/aDB/lib/wrap"
)

var (
	storesCmd = &cobra.Command{
		Use:   "stores",
		Short: "Lists the object stores of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				names := conn.ObjectStoreNames()
				if len(names) == 0 {
					fmt.Println("0 stores")
					return nil
				}

				tx, err := conn.Transaction(names, evd.ReadOnly)
				if err != nil {
					return err
				}
				for _, name := range names {
					store, err := tx.ObjectStore(name)
					if err != nil {
						_ = tx.Abort()
						return err
					}
					if indexes := store.IndexNames(); len(indexes) > 0 {
						fmt.Printf("%s (auto-increment=%v, indexes: %s)\n", name, store.AutoIncrement(), strings.Join(indexes, ", "))
					} else {
						fmt.Printf("%s (auto-increment=%v)\n", name, store.AutoIncrement())
					}
				}
				if _, err := tx.Done().Await(ctx); err != nil {
					return err
				}
				fmt.Printf("%d stores\n", len(names))
				return nil
			})
		},
	}
	createStoreCmd = &cobra.Command{
		Use:   "create-store [name]",
		Short: "Creates an object store, bumping the database version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bumpVersion(func(db *wrap.DB, _ *wrap.Tx) error {
				_, err := db.CreateObjectStore(args[0], evd.StoreOptions{
					AutoIncrement: viper.GetBool("auto-increment"),
				})
				return err
			}); err != nil {
				return err
			}
			fmt.Println("store created successfully")
			return persist()
		},
	}
	createIndexCmd = &cobra.Command{
		Use:   "create-index [store] [name] [keyPath]",
		Short: "Creates an index on an object store, bumping the database version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bumpVersion(func(_ *wrap.DB, tx *wrap.Tx) error {
				store, err := tx.ObjectStore(args[0])
				if err != nil {
					return err
				}
				_, err = store.CreateIndex(args[1], args[2], evd.IndexOptions{
					Unique: viper.GetBool("unique"),
				})
				return err
			}); err != nil {
				return err
			}
			fmt.Println("index created successfully")
			return persist()
		},
	}
	databasesCmd = &cobra.Command{
		Use:   "databases",
		Short: "Lists all databases of the engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := engine.Databases()
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Printf("name=%s, version=%d\n", info.Name, info.Version)
			}
			fmt.Printf("%d databases\n", len(infos))
			return nil
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints statistics about the database as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := engine.Stats(util.GetDatabaseName())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if viper.GetBool("metrics") {
				fmt.Println()
				metrics.WritePrometheus(os.Stdout, false)
			}
			return nil
		},
	}
	dbVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Prints the name and version of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				fmt.Printf("name=%s, version=%d\n", conn.Name(), conn.Version())
				return nil
			})
		},
	}
)

func init() {
	// Add flags for the create-store command
	key := "auto-increment"
	createStoreCmd.Flags().Bool(key, false, util.WrapString("Let the store generate numeric keys for records stored without one"))

	// Add flags for the create-index command
	key = "unique"
	createIndexCmd.Flags().Bool(key, false, util.WrapString("Reject records whose index key already exists"))

	// Add flags for the stats command
	key = "metrics"
	statsCmd.Flags().Bool(key, false, util.WrapString("Also print the engine metrics in Prometheus text format"))
}
