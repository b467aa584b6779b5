package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dropDatabas3/ruledir/internal/app"
	"github.com/dropDatabas3/ruledir/internal/config"
	"github.com/dropDatabas3/ruledir/internal/observability/logger"
	"github.com/dropDatabas3/ruledir/internal/snapshot"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		cfgPath = envOr("RULEDIR_CONFIG", "")
		envFile = ".env"
		nodeURL = envOr("RULEDIR_URL", "http://localhost:8080")
		out     = envOr("RULEDIR_OUT", "text")
	)

	root := &cobra.Command{
		Use:           "ruledir",
		Short:         "Directorio replicado de reglas de análisis por proyecto",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" && fileExists(envFile) {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("dotenv %s: %w", envFile, err)
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "ruta al YAML de configuración (env RULEDIR_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "ruta a .env (si existe, se carga)")

	// serve
	var printConfig bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta un nodo del directorio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if printConfig {
				b, _ := yaml.Marshal(cfg)
				fmt.Print(string(b))
				return nil
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, NodeID: cfg.Node.ID})
			defer func() { _ = logger.Sync() }()
			return serve(cfg)
		},
	}
	serveCmd.Flags().BoolVar(&printConfig, "print-config", false, "imprime la config efectiva y termina")

	cl := newClient(nodeURL, out)
	clientFlags := func(c *cobra.Command) {
		c.PersistentFlags().StringVar(&cl.BaseURL, "url", nodeURL, "URL base del nodo (env RULEDIR_URL)")
		c.PersistentFlags().StringVar(&cl.OutFormat, "out", out, "Formato de salida: json|text")
	}

	// snapshot pull
	snapshotCmd := &cobra.Command{Use: "snapshot", Short: "Operaciones sobre snapshots"}
	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Descarga el snapshot de un nodo y lo imprime",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			doc, err := snapshot.NewHTTPSource(cl.BaseURL).FetchDocument(ctx)
			if err != nil {
				return err
			}
			b, _ := json.MarshalIndent(doc, "", "  ")
			fmt.Println(string(b))
			return nil
		},
	}
	snapshotCmd.AddCommand(pullCmd)
	clientFlags(snapshotCmd)

	// mutate
	mutateCmd := &cobra.Command{Use: "mutate", Short: "Produce mutaciones en un nodo"}
	var project, ruleID, def string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "ADD: agrega o reemplaza una regla",
		RunE: func(cmd *cobra.Command, args []string) error {
			if def == "" {
				return fmt.Errorf("falta --definition")
			}
			return cl.run("PUT", rulePath(project, ruleID), []byte(def))
		},
	}
	addCmd.Flags().StringVar(&def, "definition", "", "definición JSON de la regla")
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "DELETE: borra una regla",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.run("DELETE", rulePath(project, ruleID), nil)
		},
	}
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "UPDATE_BATCH: marca la regla como batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.run("POST", rulePath(project, ruleID)+"/batch", nil)
		},
	}
	for _, c := range []*cobra.Command{addCmd, deleteCmd, batchCmd} {
		c.Flags().StringVar(&project, "project", "", "proyecto")
		c.Flags().StringVar(&ruleID, "id", "", "id de la regla")
		_ = c.MarkFlagRequired("project")
		_ = c.MarkFlagRequired("id")
		mutateCmd.AddCommand(c)
	}
	clientFlags(mutateCmd)

	// raft
	raftCmd := &cobra.Command{Use: "raft", Short: "Administración del cluster raft"}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Muestra leader, dirección y stats raft del nodo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.run("GET", raftStatusPath, nil)
		},
	}
	var joinID, joinAddr string
	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Agrega un voter al cluster (el nodo de --url debe ser leader)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := joinBody(joinID, joinAddr)
			if err != nil {
				return err
			}
			return cl.run("POST", raftJoinPath, body)
		},
	}
	joinCmd.Flags().StringVar(&joinID, "id", "", "node id del nuevo voter")
	joinCmd.Flags().StringVar(&joinAddr, "addr", "", "dirección raft del nuevo voter")
	_ = joinCmd.MarkFlagRequired("id")
	_ = joinCmd.MarkFlagRequired("addr")
	raftCmd.AddCommand(statusCmd, joinCmd)
	clientFlags(raftCmd)

	root.AddCommand(serveCmd, snapshotCmd, mutateCmd, raftCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(cfg *config.Config) error {
	log := logger.Named("main")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := app.New(cfg, app.Options{})
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		_ = node.Close()
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	log.Info("ruledir node starting",
		logger.NodeID(cfg.Node.ID),
		logger.String("fabric", cfg.Fabric.Kind),
		logger.String("snapshot_source", cfg.Snapshot.Source),
	)
	return node.Run(ctx, ln)
}
