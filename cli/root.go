// Package cli provides the command-line entry point for the code-knowledge
// graph engine: configuration loading, the cobra command tree, and the
// top-level wiring into the application facade.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codegraphix.dev/engine/app"
	"codegraphix.dev/engine/common"
	"codegraphix.dev/engine/config"
)

// cfgFile holds the path to the configuration file specified via --config.
var cfgFile string

// RootCmd is the top-level command for the codegraph binary.
var RootCmd = &cobra.Command{
	Use:   "codegraph",
	Short: "code-knowledge graph engine",
	Long: `codegraph maintains a property graph of code entities and their
relationships, layered with embeddings for semantic search, temporal
versioning for history queries, and a backup/restore coordinator for
disaster recovery.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.codegraph.yaml)")
	RootCmd.PersistentFlags().String("graph-uri", "", "graph store bolt URI")
	RootCmd.PersistentFlags().String("graph-database", "", "graph database name")
	RootCmd.PersistentFlags().String("redis-addr", "", "redis address for the ingestion queue")
	RootCmd.PersistentFlags().String("backup-provider", "", "backup storage provider (s3|local)")
	RootCmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")

	viper.BindPFlag("graph.uri", RootCmd.PersistentFlags().Lookup("graph-uri"))
	viper.BindPFlag("graph.database", RootCmd.PersistentFlags().Lookup("graph-database"))
	viper.BindPFlag("ingestion.redis_addr", RootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindPFlag("backup.provider", RootCmd.PersistentFlags().Lookup("backup-provider"))
	viper.BindPFlag("service.log_level", RootCmd.PersistentFlags().Lookup("log-level"))

	RootCmd.AddCommand(ingestCmd, searchCmd, impactCmd, checkpointCmd, historyCmd, backupCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".codegraph")
	}

	viper.SetEnvPrefix("CODEGRAPH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig overlays Viper-sourced values on the engine's defaults and
// validates the result before any command touches a store.
func loadConfig() (config.Config, error) {
	cfg := config.Default()

	if v := viper.GetString("graph.uri"); v != "" {
		cfg.Graph.URI = v
	}
	if v := viper.GetString("graph.database"); v != "" {
		cfg.Graph.Database = v
	}
	cfg.Graph.Username = viper.GetString("graph.username")
	cfg.Graph.Password = viper.GetString("graph.password")

	if v := viper.GetString("ingestion.redis_addr"); v != "" {
		cfg.Ingestion.RedisAddr = v
	}
	if v := viper.GetString("backup.provider"); v != "" {
		cfg.Backup.Provider = v
	}
	if v := viper.GetString("backup.bucket"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := viper.GetString("service.log_level"); v != "" {
		cfg.Service.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newApp builds the application facade for a single command invocation.
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := common.ServiceLogger(cfg.Service.Name, cfg.Service.Version)
	return app.New(ctx, cfg, logger)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "run the ingestion pipeline over an extraction artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Ingest(cmd.Context(), args[0])
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "run a hybrid structural/semantic search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		results, err := a.Search(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Println(r)
		}
		return nil
	},
}

var impactCmd = &cobra.Command{
	Use:   "impact [entity-id]",
	Short: "compute the transitive impact set for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		ids, err := a.Impact(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "manage history checkpoints",
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "manage temporal versioning and retention",
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "manage backup and restore",
}

func init() {
	checkpointCmd.AddCommand(
		&cobra.Command{
			Use:   "create [label]",
			Short: "materialize a checkpoint over the current graph state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				id, err := a.CreateCheckpoint(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "list checkpoints",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				cps, err := a.ListCheckpoints(cmd.Context())
				if err != nil {
					return err
				}
				for _, cp := range cps {
					fmt.Println(cp)
				}
				return nil
			},
		},
	)

	historyCmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "prune history outside the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.PruneHistory(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d history record(s)\n", n)
			return nil
		},
	})

	backupCmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "run a full backup",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				id, err := a.CreateBackup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "restore-preview [backup-id]",
			Short: "preview a restore and request an approval token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				token, err := a.PreviewRestore(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			},
		},
		&cobra.Command{
			Use:   "restore-apply [backup-id] [token]",
			Short: "apply a restore using a previously issued approval token",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				return a.ApplyRestore(cmd.Context(), args[0], args[1])
			},
		},
	)
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
