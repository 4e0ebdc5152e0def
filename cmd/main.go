package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"knowledge-qa/internal/api"
	"knowledge-qa/internal/config"
	"knowledge-qa/internal/helper"
	"knowledge-qa/internal/parser"
	"knowledge-qa/internal/pipeline"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so that deferred cleanup always runs.
func run(args []string) int {
	flags := flag.NewFlagSet("knowledge-qa", flag.ContinueOnError)
	configPath := flags.String("config", config.DefaultPath, "Path to the config file")
	filePath := flags.String("file", "", "Path to a pdf, docx or txt document")
	query := flags.String("query", "", "Question to ask about the document")
	returnAll := flags.Bool("return-all", false, "Show all chunks retrieved from vector search")
	showDoc := flags.Bool("show-doc", false, "Show parsed contents of the document")
	serve := flags.Bool("serve", false, "Run the HTTP API")
	addr := flags.String("addr", "", "Listen address for -serve, overrides server.addr")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("Error loading config")
		return 1
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, keeping debug")
	}

	if !*serve && *filePath == "" {
		log.Error().Msgf("Please provide a document with -file (%s) or run the API with -serve", strings.Join(parser.Supported(), ", "))
		return 2
	}

	svc, err := pipeline.NewService(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Error creating service")
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing service")
		}
	}()

	if *serve {
		if *addr != "" {
			cfg.Server.Addr = *addr
		}
		if err := runServer(svc, cfg.Server); err != nil {
			log.Error().Err(err).Msg("Server stopped")
			return 1
		}
		return 0
	}

	if err := askDocument(context.Background(), svc, cfg, *filePath, *query, *returnAll, *showDoc); err != nil {
		log.Error().Err(err).Msg("Error answering question")
		return 1
	}
	return 0
}

func askDocument(ctx context.Context, svc *pipeline.Service, cfg *config.Config, filePath, query string, returnAll, showDoc bool) error {
	sess, err := svc.NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	if key := firstNonEmpty(cfg.EmbedLLM.Key, cfg.InferenceLLM.Key); key != "" {
		sess.SetAPIKey(key)
	} else {
		log.Warn().Msgf("No API key found. Set %s or the key fields in the config file", config.APIKeyEnv)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	log.Info().Str("file", filePath).Msg("Indexing document... This may take a while")
	summary, err := svc.Upload(ctx, sess, filepath.Base(filePath), f)
	if err != nil {
		return err
	}
	helper.PrettyPrint(summary)

	if showDoc {
		log.Info().Msg("Document: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		for _, page := range sess.Document().Pages {
			fmt.Printf("--- page %d ---\n%s\n\n", page.Number, page.Text)
		}
	}

	if query == "" {
		return nil
	}
	result, err := svc.Ask(ctx, sess, query, returnAll)
	if err != nil {
		return err
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", result.Query)

	log.Info().Msg("Answer: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", result.Answer)

	log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, source := range result.Sources {
		fmt.Printf("%s\n%s\n---\n", source.Text, source.Label)
	}
	return nil
}

func runServer(svc *pipeline.Service, cfg config.ServerConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := pipeline.NewStore(cfg.SessionTTL)
	defer sessions.CloseAll()
	go sessions.Run(ctx, max(cfg.SessionTTL/4, time.Minute))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(svc, sessions, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
