package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencursor/opencursor/gateway/internal/application"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/config"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/credentials"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor/schema"
	execinfra "github.com/opencursor/opencursor/gateway/internal/infrastructure/exec"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/logger"
	httpiface "github.com/opencursor/opencursor/gateway/internal/interfaces/http"
	"github.com/opencursor/opencursor/gateway/internal/interfaces/http/handlers"
)

const (
	appName    = "opencursor-gateway"
	appVersion = "0.4.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "OpenCursor — OpenAI-compatible gateway for the Cursor agent API",
		RunE:  runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server (default)",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and the wire codec",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the shared collaborators.
func bootstrap() (*config.Config, *zap.Logger, *credentials.Source, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialize logger: %w", err)
	}

	tokens, err := credentials.NewSource(cfg.Cursor.AccessToken, cfg.Cursor.CredentialsFile, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialize credentials: %w", err)
	}
	return cfg, log, tokens, nil
}

func localEnv(cfg *config.Config) schema.EnvInfo {
	workspace := cfg.Agent.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	return schema.EnvInfo{
		OSVersion:     runtime.GOOS,
		WorkspacePath: workspace,
		Shell:         os.Getenv("SHELL"),
		Timezone:      cfg.Cursor.Timezone,
		ProjectFolder: filepath.Base(workspace),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, tokens, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer tokens.Close()

	if tokens.Token() == "" {
		log.Error("No access token available; set CURSOR_ACCESS_TOKEN or log in first")
		os.Exit(1)
	}

	log.Info("Starting gateway",
		zap.String("name", appName),
		zap.String("version", appVersion),
		zap.String("base_url", cfg.Cursor.BaseURL),
		zap.Int("port", cfg.Gateway.Port),
	)

	env := localEnv(cfg)
	transport := cursor.NewTransport(cursor.TransportConfig{
		BaseURL:       cfg.Cursor.BaseURL,
		Tokens:        tokens,
		ClientVersion: cfg.Cursor.ClientVersion,
		Timezone:      cfg.Cursor.Timezone,
		GhostMode:     cfg.Cursor.GhostMode,
	}, log)

	gateway := application.NewGateway(application.Config{
		Transport:      transport,
		ExecHandler:    execinfra.NewHandler(env.WorkspacePath, env, log),
		Env:            env,
		DefaultModel:   cfg.Agent.DefaultModel,
		SessionTimeout: cfg.Agent.SessionTimeout,
	}, log)

	catalog, err := config.Catalog()
	if err != nil {
		return err
	}
	models := make([]handlers.OpenAIModel, 0, len(catalog))
	created := time.Now().Unix()
	for _, m := range catalog {
		models = append(models, handlers.OpenAIModel{
			ID:      m.ID,
			Object:  "model",
			Created: created,
			OwnedBy: m.OwnedBy,
		})
	}

	server := httpiface.NewServer(httpiface.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
		Mode: cfg.Gateway.Mode,
	}, gateway, models, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		log.Error("Failed to start HTTP server", zap.Error(err))
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Gateway stopped")
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, log, tokens, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer tokens.Close()

	fmt.Printf("%s v%s\n\n", appName, appVersion)
	fmt.Printf("base_url:         %s\n", cfg.Cursor.BaseURL)
	fmt.Printf("credentials_file: %s\n", cfg.Cursor.CredentialsFile)
	if tokens.Token() != "" {
		fmt.Println("access_token:     present")
	} else {
		fmt.Println("access_token:     MISSING (set CURSOR_ACCESS_TOKEN or log in)")
	}

	// Wire-codec loopback: encode a text delta and a kv round trip, decode
	// them back, and make sure nothing is lost.
	codecOK := true
	if msg, err := schema.DecodeServerMessage(schema.EncodeTextDelta("ok")); err != nil || msg.Update == nil || msg.Update.Text != "ok" {
		codecOK = false
	}
	if msg, err := schema.DecodeServerMessage(schema.EncodeKvSet(1, []byte{0xAB}, []byte{1}, true)); err != nil || msg.Kv == nil || !msg.Kv.HasData {
		codecOK = false
	}
	if reply, err := schema.DecodeClientMessage(schema.EncodeKvGetResult(1, []byte{1}, true)); err != nil || reply.Kv == nil || !reply.Kv.Found {
		codecOK = false
	}
	if codecOK {
		fmt.Println("wire_codec:       ok")
	} else {
		fmt.Println("wire_codec:       FAILED")
	}

	if tokens.Token() == "" || !codecOK {
		os.Exit(1)
	}
	return nil
}
