package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/outflowhq/outflow/internal/config"
	internal_http "github.com/outflowhq/outflow/internal/http"
	"github.com/outflowhq/outflow/internal/log"
	internal_storage "github.com/outflowhq/outflow/internal/storage"
	"github.com/outflowhq/outflow/pkg/service"
	"github.com/outflowhq/outflow/pkg/storage"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task queue, workflow processors and inspection API",
		Run: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				log.GetLogger().Debugf("No .env file loaded: %v", err)
			}
			cfg := config.FromEnv()
			store := initStore(cfg.DBConnStr)
			defer store.Close()

			// Scraper/email/social executors and node collaborators are
			// wired by the hosting platform; the bare binary serves the
			// queue, workflow runs against configured collaborators, and
			// the inspection API.
			svc := service.NewWorkflowService(store, cfg.Queues, service.Collaborators{}, service.Executors{}, log.GetLogger())

			if cfg.RedisAddr != "" {
				journal, err := service.NewRedisJournal(cfg.RedisAddr)
				if err != nil {
					log.GetLogger().Errorf("Failed to connect task journal: %v", err)
					os.Exit(1)
				}
				defer journal.Close()
				if err := svc.AttachJournal(journal); err != nil {
					log.GetLogger().Errorf("Failed to attach task journal: %v", err)
					os.Exit(1)
				}
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := svc.Start(ctx); err != nil {
				log.GetLogger().Errorf("Failed to start processor: %v", err)
				os.Exit(1)
			}

			go func() {
				if err := internal_http.StartServer(cfg.HTTPPort, svc); err != nil {
					log.GetLogger().Errorf("HTTP server error: %v", err)
					cancel()
				}
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sig:
				log.GetLogger().Infof("Shutdown signal received")
			case <-ctx.Done():
			}
			svc.Stop()
		},
	}

	workflowsCmd := &cobra.Command{
		Use:   "workflows",
		Short: "List workflows",
		Run: func(cmd *cobra.Command, args []string) {
			svc := newService(cmd)
			workflows, err := svc.ListWorkflows()
			if err != nil {
				log.GetLogger().Errorf("Failed to list workflows: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list workflows: %v\n", err)
				os.Exit(1)
			}
			if len(workflows) == 0 {
				fmt.Fprintf(os.Stdout, "No workflows found.\n")
				return
			}
			for _, wf := range workflows {
				fmt.Fprintf(os.Stdout, "- ID: %d, Name: %s, Active: %t, Nodes: %d, Created: %s\n",
					wf.ID, wf.Name, wf.IsActive, len(wf.Nodes), wf.CreatedAt.Format(time.RFC3339))
			}
		},
	}

	executionsCmd := &cobra.Command{
		Use:   "executions [workflow-id]",
		Short: "List the run history of a workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			workflowID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: workflow-id must be a number: %v\n", err)
				os.Exit(1)
			}
			svc := newService(cmd)
			executions, err := svc.ListExecutions(workflowID)
			if err != nil {
				log.GetLogger().Errorf("Failed to list executions: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list executions: %v\n", err)
				os.Exit(1)
			}
			if len(executions) == 0 {
				fmt.Fprintf(os.Stdout, "No executions found for workflow %d.\n", workflowID)
				return
			}
			for _, e := range executions {
				line := fmt.Sprintf("- %s [%s] started %s", e.ID, e.Status, e.StartedAt.Format(time.RFC3339))
				if e.ErrorMsg != "" {
					line += " error: " + e.ErrorMsg
				}
				fmt.Fprintln(os.Stdout, line)
			}
		},
	}

	rootCmd.PersistentFlags().String("db", "", "Database connection string (falls back to DATABASE_URL / DB_* env vars)")
	rootCmd.AddCommand(serveCmd, workflowsCmd, executionsCmd)
}

func newService(cmd *cobra.Command) *service.WorkflowService {
	if err := godotenv.Load(); err != nil {
		log.GetLogger().Debugf("No .env file loaded: %v", err)
	}
	connStr, _ := cmd.Flags().GetString("db")
	if connStr == "" {
		connStr = config.FromEnv().DBConnStr
	}
	store := initStore(connStr)
	return service.NewWorkflowService(store, config.QueueConfigs(), service.Collaborators{}, service.Executors{}, log.GetLogger())
}

func initStore(dbConnStr string) storage.Store {
	if dbConnStr == "" {
		log.GetLogger().Errorf("No database configured: set --db, DATABASE_URL or DB_* env vars")
		os.Exit(1)
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
