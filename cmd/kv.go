package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kueccha/poimap/internal/kvstore"
)

var (
	kvArea     string
	kvPrefix   string
	kvNoPrefix bool
	kvExpiry   time.Duration
)

// kvCallOptions translates the kv flags. changed reports whether a flag
// was set explicitly.
func kvCallOptions(area, prefix string, noPrefix bool, expiry time.Duration, changed func(string) bool) ([]kvstore.CallOption, error) {
	var opts []kvstore.CallOption
	if area != "" {
		a, err := kvstore.ParseArea(area)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kvstore.WithArea(a))
	}
	switch {
	case noPrefix:
		opts = append(opts, kvstore.WithPrefix(""))
	case changed("prefix"):
		opts = append(opts, kvstore.WithPrefix(prefix))
	}
	if changed("expiry") {
		opts = append(opts, kvstore.WithExpiry(expiry))
	}
	return opts, nil
}

// parseValue decodes arg as JSON, falling back to the raw string.
func parseValue(arg string) any {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	return arg
}

// runKV executes one store operation and prints its result to out.
func runKV(ctx context.Context, out io.Writer, store *kvstore.Store, op string, args []string, opts []kvstore.CallOption) error {
	switch op {
	case "get":
		raw, ok := store.GetRaw(ctx, args[0], opts...)
		if !ok {
			return eris.Errorf("key %q not found", args[0])
		}
		_, err := fmt.Fprintln(out, string(raw))
		return err
	case "set":
		if !store.Set(ctx, args[0], parseValue(args[1]), opts...) {
			return eris.Errorf("set %q failed", args[0])
		}
		return nil
	case "rm":
		if !store.Remove(ctx, args[0], opts...) {
			return eris.Errorf("remove %q failed", args[0])
		}
		return nil
	case "has":
		_, err := fmt.Fprintln(out, store.Has(ctx, args[0], opts...))
		return err
	case "keys":
		for _, k := range store.Keys(ctx, opts...) {
			if _, err := fmt.Fprintln(out, k); err != nil {
				return err
			}
		}
		return nil
	case "clear":
		if !store.Clear(ctx, opts...) {
			return eris.New("clear failed")
		}
		return nil
	case "clean":
		_, err := fmt.Fprintf(out, "removed %d expired entries\n", store.CleanExpired(ctx, opts...))
		return err
	default:
		return eris.Errorf("unknown kv operation %q", op)
	}
}

func kvRunE(op string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("kv"); err != nil {
			return err
		}
		opts, err := kvCallOptions(kvArea, kvPrefix, kvNoPrefix, kvExpiry, func(name string) bool {
			f := cmd.Flag(name)
			return f != nil && f.Changed
		})
		if err != nil {
			return err
		}

		store, closeStore, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer closeStore()

		return runKV(ctx, cmd.OutOrStdout(), store, op, args, opts)
	}
}

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Inspect and edit the key-value store",
}

func init() {
	subs := []*cobra.Command{
		{Use: "get <key>", Short: "Print the JSON value stored under key", Args: cobra.ExactArgs(1), RunE: kvRunE("get")},
		{Use: "set <key> <value>", Short: "Store a JSON value (or a plain string) under key", Args: cobra.ExactArgs(2), RunE: kvRunE("set")},
		{Use: "rm <key>", Short: "Remove key", Args: cobra.ExactArgs(1), RunE: kvRunE("rm")},
		{Use: "has <key>", Short: "Report whether key holds a valid entry", Args: cobra.ExactArgs(1), RunE: kvRunE("has")},
		{Use: "keys", Short: "List keys under the prefix", Args: cobra.NoArgs, RunE: kvRunE("keys")},
		{Use: "clear", Short: "Remove every key under the prefix", Args: cobra.NoArgs, RunE: kvRunE("clear")},
		{Use: "clean", Short: "Remove expired entries under the prefix", Args: cobra.NoArgs, RunE: kvRunE("clean")},
	}
	for _, sub := range subs {
		kvCmd.AddCommand(sub)
	}
	kvCmd.PersistentFlags().StringVar(&kvArea, "area", "", "storage area: local or session (default local)")
	kvCmd.PersistentFlags().StringVar(&kvPrefix, "prefix", kvstore.DefaultPrefix, "key prefix (default from config)")
	kvCmd.PersistentFlags().BoolVar(&kvNoPrefix, "no-prefix", false, "address bare keys")
	kvCmd.PersistentFlags().DurationVar(&kvExpiry, "expiry", 0, "expire written entries after this duration")
	rootCmd.AddCommand(kvCmd)
}
