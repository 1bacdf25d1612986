package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/hidesis/internal/api"
	"github.com/hazyhaar/hidesis/internal/auth"
	"github.com/hazyhaar/hidesis/internal/config"
	"github.com/hazyhaar/hidesis/internal/db"
	"github.com/hazyhaar/hidesis/internal/engine"
	"github.com/hazyhaar/hidesis/internal/mcp"
	"github.com/hazyhaar/hidesis/pkg/auditlog"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "version":
		fmt.Printf("hidesis %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`hidesis — session engine for the Hide-SIS interactive mystery

Usage:
  hidesis serve [--config config.toml] [--addr :8080]
  hidesis mcp [--config config.toml]
  hidesis version
  hidesis help

Commands:
  serve     Start the HTTP server
  mcp       Serve the MCP tools over stdio
  version   Print version
  help      Show this help`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	database, eng, auditLog := buildEngine(cfg)
	defer database.Close()
	defer auditLog.Close()

	a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin)
	apiHandler := api.New(eng, database, a)
	apiHandler.SetInstanceConfig(&cfg.Instance)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	log.Printf("hidesis %s listening on %s", version, cfg.Server.Addr)
	log.Printf("database: %s", cfg.Database.Path)
	log.Printf("truth rate: %.2f (bot %.2f), schema v%d",
		cfg.Engine.TargetRate, cfg.Engine.BotTargetRate, cfg.Engine.SchemaVersion)

	if err := http.ListenAndServe(cfg.Server.Addr, api.SecurityHeaders(mux)); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	database, eng, auditLog := buildEngine(cfg)
	defer database.Close()
	defer auditLog.Close()

	srv := mcp.NewServer(eng, auditLog)
	if err := srv.Run(context.Background(), &mcpsdk.StdioTransport{}); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}

func buildEngine(cfg *config.Config) (*db.DB, *engine.Engine, *auditlog.SQLiteLogger) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}

	auditLog := auditlog.NewSQLiteLogger(database.DB)
	if err := auditLog.Init(); err != nil {
		log.Fatalf("initializing audit log: %v", err)
	}

	eng := engine.New(engine.Config{
		SchemaVersion: cfg.Engine.SchemaVersion,
		TargetRate:    cfg.Engine.TargetRate,
		BotTargetRate: cfg.Engine.BotTargetRate,
		Gain:          cfg.Engine.Gain,
		MaxStep:       cfg.Engine.MaxStep,
		MaxTurns:      cfg.Engine.MaxTurns,
	}, database)

	return database, eng, auditLog
}
