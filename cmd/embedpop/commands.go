package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/embedpop/embedpop"
	"github.com/embedpop/embedpop/internal/scenario"
	"github.com/embedpop/embedpop/pkg/logger"
)

type rootOptions struct {
	configPath string
	clientURL  string
	dbName     string
	debug      bool
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "embedpop",
		Short: "Embedded many-to-many population over MongoDB, SurrealDB and memory",
		Long: `embedpop maps the scenario entities onto the store selected by the client URL.

Configuration is read from --config (YAML), then EMBEDPOP_* environment
variables, then flags. Only the client URL, database name, debug and timeout
settings are taken from it: the scenario always runs with implicitTransactions
and allowGlobalContext enabled, whatever the file or environment says.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.clientURL, "url", "", "client URL (mongodb://, ws://, memory://)")
	flags.StringVar(&opts.dbName, "db", "", "database name")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "log store traces")
	flags.DurationVar(&opts.timeout, "timeout", 0, "timeout of every operation (overrides the config)")

	root.AddCommand(newSchemaCmd(opts), newCheckCmd(opts))
	return root
}

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	schema := &cobra.Command{
		Use:   "schema",
		Short: "Manage the collections of the scenario entities",
	}

	ops := []struct {
		use   string
		short string
		run   func(*embedpop.SchemaManager, context.Context) error
	}{
		{"create", "Create every collection", (*embedpop.SchemaManager).CreateSchema},
		{"drop", "Drop every collection", (*embedpop.SchemaManager).DropSchema},
		{"ensure-indexes", "Create every declared index", (*embedpop.SchemaManager).EnsureIndexes},
		{"refresh", "Drop and recreate every collection", (*embedpop.SchemaManager).RefreshDatabase},
	}

	for _, op := range ops {
		op := op
		schema.AddCommand(&cobra.Command{
			Use:   op.use,
			Short: op.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withORM(cmd, opts, func(ctx context.Context, orm *embedpop.ORM) error {
					if err := op.run(orm.Schema(), ctx); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schema %s: ok (%s)\n", op.use, orm.Store().Name())
					return nil
				})
			},
		})
	}
	return schema
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var keep bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Insert two related documents and read them back populated",
		Long: `check refreshes the schema, inserts an other_entity and a parent_entity whose
embedded value references it, and fails unless reading the parent with
embeddedMember.otherEntities populated returns the referenced entity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withORM(cmd, opts, func(ctx context.Context, orm *embedpop.ORM) error {
				if err := orm.Schema().RefreshDatabase(ctx); err != nil {
					return err
				}

				res, err := scenario.Run(ctx, orm, orm.Logger())
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)

				if keep {
					return nil
				}
				return orm.Schema().DropSchema(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the inserted documents")
	return cmd
}

func printResult(w io.Writer, res *scenario.Result) {
	fmt.Fprintf(w, "other_entity  %s %q\n", res.OtherID, res.Other.Name)
	fmt.Fprintf(w, "parent_entity %s %q\n", res.ParentID, res.Parent.EmbeddedMember.Name)
	for _, item := range res.Parent.EmbeddedMember.OtherEntities.Items() {
		fmt.Fprintf(w, "  %s -> %s %q\n", scenario.EmbeddedRelation, item.ID, item.Name)
	}
	fmt.Fprintln(w, "ok")
}

// withORM builds the configuration, initializes the ORM for the duration of fn
// and closes it afterwards.
func withORM(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *embedpop.ORM) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log, err := logger.New().FromBuffer(cmd.ErrOrStderr()).Debug(cfg.Debug).Make()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	initOpts := []embedpop.Option{embedpop.WithLogger(log)}
	if opts.timeout > 0 {
		initOpts = append(initOpts, embedpop.WithTimeout(opts.timeout))
	}

	orm, err := embedpop.Init(ctx, cfg, initOpts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := orm.Close(closeCtx); err != nil {
			log.Warn("close", "error", err)
		}
	}()

	return fn(ctx, orm)
}

// loadConfig keeps the connection settings of the file or environment and
// pins the rest to the scenario configuration.
func loadConfig(opts *rootOptions) (embedpop.Config, error) {
	var (
		cfg embedpop.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = embedpop.LoadConfig(opts.configPath)
	} else {
		cfg, err = embedpop.ConfigFromEnv()
	}
	if err != nil {
		return embedpop.Config{}, err
	}

	base := scenario.Config(cfg.ClientURL, cfg.DBName)
	base.Debug = cfg.Debug || opts.debug
	base.Timeout = cfg.Timeout

	if opts.clientURL != "" {
		base.ClientURL = opts.clientURL
	}
	if opts.dbName != "" {
		base.DBName = opts.dbName
	}
	return base, nil
}
