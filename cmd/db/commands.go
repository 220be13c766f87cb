package db

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmelchner/aDB/cmd/util"
	"github.com/jmelchner/aDB/lib/evd"
	"github.com/jmelchner/aDB/lib/wrap"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				key := args[0]
				value, err := conn.Get(ctx, util.GetStoreName(), key)
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%v, value=%s\n", key, value != nil, value)
				return nil
			})
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Stores the value for a key, overwriting any previous record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				key, err := conn.Put(ctx, util.GetStoreName(), []byte(args[1]), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("put successfully (key=%s)\n", key)
				return nil
			}); err != nil {
				return err
			}
			return persist()
		},
	}
	addCmd = &cobra.Command{
		Use:   "add [key] [value]",
		Short: "Stores the value for a key, failing if the key already exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				key, err := conn.Add(ctx, util.GetStoreName(), []byte(args[1]), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("add successfully (key=%s)\n", key)
				return nil
			}); err != nil {
				return err
			}
			return persist()
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				if err := conn.Delete(ctx, util.GetStoreName(), args[0]); err != nil {
					return err
				}
				fmt.Println("delete successfully")
				return nil
			}); err != nil {
				return err
			}
			return persist()
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Deletes all records in the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				if err := conn.Clear(ctx, util.GetStoreName()); err != nil {
					return err
				}
				fmt.Println("clear successfully")
				return nil
			}); err != nil {
				return err
			}
			return persist()
		},
	}
	countCmd = &cobra.Command{
		Use:   "count",
		Short: "Counts the records in the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				var (
					count uint64
					err   error
				)
				if index := viper.GetString("index"); index != "" {
					count, err = conn.CountFromIndex(ctx, util.GetStoreName(), index, nil)
				} else {
					count, err = conn.Count(ctx, util.GetStoreName(), nil)
				}
				if err != nil {
					return err
				}
				fmt.Printf("count=%d\n", count)
				return nil
			})
		},
	}
	allCmd = &cobra.Command{
		Use:   "all",
		Short: "Reads all values in the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				values, err := conn.GetAll(ctx, util.GetStoreName(), nil, 0)
				if err != nil {
					return err
				}
				for _, value := range values {
					fmt.Printf("%s\n", value)
				}
				fmt.Printf("%d values\n", len(values))
				return nil
			})
		},
	}
	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Reads all keys in the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				keys, err := conn.GetAllKeys(ctx, util.GetStoreName(), nil, 0)
				if err != nil {
					return err
				}
				for _, key := range keys {
					fmt.Printf("%s\n", key)
				}
				fmt.Printf("%d keys\n", len(keys))
				return nil
			})
		},
	}
	iterateCmd = &cobra.Command{
		Use:   "iterate",
		Short: "Walks the object store with a cursor and prints every record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, conn *wrap.DB) error {
				tx, err := conn.Transaction([]string{util.GetStoreName()}, evd.ReadOnly)
				if err != nil {
					return err
				}

				dir := evd.Next
				if viper.GetBool("reverse") {
					dir = evd.Prev
				}
				limit := viper.GetInt("limit")

				visited := 0
				for it, iterErr := range tx.Store().Iterate(ctx, nil, dir) {
					if iterErr != nil {
						_ = tx.Abort()
						return iterErr
					}
					fmt.Printf("key=%s, value=%s\n", it.PrimaryKey(), it.Value())
					visited++
					if limit > 0 && visited >= limit {
						break
					}
				}
				if _, err := tx.Done().Await(ctx); err != nil {
					return err
				}
				fmt.Printf("%d records\n", visited)
				return nil
			})
		},
	}
)

func init() {
	// Add flags for the count command
	key := "index"
	countCmd.Flags().String(key, "", util.WrapString("Count via the named index instead of the primary keys"))

	// Add flags for the iterate command
	key = "reverse"
	iterateCmd.Flags().Bool(key, false, util.WrapString("Walk the store in descending key order"))
	key = "limit"
	iterateCmd.Flags().Int(key, 0, util.WrapString("Stop after this many records (0 means no limit)"))
}
