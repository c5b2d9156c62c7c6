package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chat-orchestrator/handler"
	"chat-orchestrator/internal/config"
	"chat-orchestrator/internal/identity"
	"chat-orchestrator/internal/integrations/backend"
	"chat-orchestrator/internal/integrations/paramstore"
	"chat-orchestrator/internal/repository"
	"chat-orchestrator/internal/session"
	"chat-orchestrator/internal/usecase"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "assistant",
		Short:         "Terminal client for the support assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), configPath, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "conversations",
		Short: "List the conversations of the configured service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "err", err)
		stop()
		os.Exit(1)
	}
}

var errQuit = errors.New("quit")

type app struct {
	orchestrator *usecase.Orchestrator
	closers      []func() error
}

func (a *app) Close() {
	a.orchestrator.Close()
	a.closeStores()
}

// newApp wires configuration into an orchestrator. Configuration is
// read only here.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	// ---- AWS SDK config, only when something needs it ----
	var ssmClient *paramstore.Client
	var dynamoClient *awsdynamodb.Client
	if cfg.Params.Prefix != "" || cfg.Store.Backend == config.StoreDynamoDB {
		var awsOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWS.Region != "" {
			awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.AWS.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		if cfg.Params.Prefix != "" {
			if ssmClient, err = paramstore.New(awsssm.NewFromConfig(awsCfg)); err != nil {
				return nil, err
			}
		}
		dynamoClient = awsdynamodb.NewFromConfig(awsCfg)
	}

	// ---- Identity and capabilities ----
	var identityOpts []identity.Option
	if ssmClient != nil {
		identityOpts = append(identityOpts, identity.WithParams(ssmClient, cfg.Params.Prefix))
	}
	identityProvider, err := identity.New(cfg.IdentityValue(), cfg.StaticCapabilities(), identityOpts...)
	if err != nil {
		return nil, err
	}

	// ---- Session persistence ----
	a := &app{}
	kv, err := openStore(cfg, dynamoClient, a)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			a.closeStores()
		}
	}()
	usageStore, err := session.NewUsageStore(kv)
	if err != nil {
		return nil, err
	}
	selectionStore, err := session.NewSelectionStore(kv)
	if err != nil {
		return nil, err
	}

	// ---- Backend ----
	backendOpts := []backend.Option{
		backend.WithBaseURL(cfg.Backend.BaseURL),
		backend.WithIdentity(cfg.IdentityValue()),
	}
	if cfg.Backend.Timeout > 0 {
		backendOpts = append(backendOpts, backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}))
	}
	// Without a parameter store the configured token is used as-is, empty
	// meaning an unauthenticated backend.
	if cfg.Backend.APIToken != "" || ssmClient == nil {
		backendOpts = append(backendOpts, backend.WithToken(cfg.Backend.APIToken))
	}
	var tokenGetter backend.Getter
	if ssmClient != nil {
		tokenGetter = ssmClient
	}
	backendClient, err := backend.NewClient(tokenGetter, cfg.Params.Prefix, backendOpts...)
	if err != nil {
		return nil, err
	}

	// ---- Orchestrator ----
	limits := usecase.UploadLimits{
		MaxFiles:     cfg.Uploads.MaxFiles,
		MaxFileBytes: cfg.Uploads.MaxFileBytes,
		AllowedTypes: cfg.Uploads.AllowedTypes,
	}
	a.orchestrator, err = usecase.NewOrchestrator(usecase.Services{
		Conversations: backendClient,
		Chat:          backendClient,
		Uploads:       backendClient,
		Identity:      identityProvider,
		Usage:         usageStore,
		Selection:     selectionStore,
	}, usecase.WithLogger(logger), usecase.WithUploadLimits(limits))
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) closeStores() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("store close failed", "err", err)
		}
	}
}

func openStore(cfg *config.Config, dynamoClient *awsdynamodb.Client, a *app) (repository.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreDynamoDB:
		return repository.New(dynamoClient, cfg.Store.Table)
	case config.StoreRedis:
		store, client, err := repository.DialRedis(cfg.Store.RedisAddr, cfg.Store.RedisPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return store, nil
	case config.StoreSQLite:
		store, err := repository.NewSQLiteStore(cfg.Store.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return repository.NewMemoryStore(), nil
	}
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func runList(ctx context.Context, configPath string, out io.Writer) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.orchestrator.Start(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, handler.RenderConversations(a.orchestrator.Snapshot()))
	return err
}

func runChat(ctx context.Context, configPath string, in io.Reader, out io.Writer) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	var printer handler.StreamPrinter
	unsubscribe := a.orchestrator.Subscribe(func(st usecase.State) {
		if s := printer.Next(st); s != "" {
			fmt.Fprint(out, s)
		}
	})
	defer unsubscribe()

	if err := a.orchestrator.Start(ctx); err != nil {
		return err
	}
	h, err := handler.NewHandler(a.orchestrator)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, handler.Render(a.orchestrator.Snapshot()))
	fmt.Fprintln(out, "type /help for commands")

	// The scanner cannot be interrupted, so it feeds the loop from outside
	// the group.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-groupCtx.Done()
		a.orchestrator.Close()
		return nil
	})
	eg.Go(func() error {
		for {
			fmt.Fprint(out, "> ")
			var line string
			var ok bool
			select {
			case <-groupCtx.Done():
				return nil
			case line, ok = <-lines:
				if !ok {
					return errQuit
				}
			}
			resp, err := h.Handle(groupCtx, line)
			if err != nil {
				return err
			}
			if resp.Output != "" {
				fmt.Fprintln(out, resp.Output)
			}
			if resp.Quit {
				return errQuit
			}
		}
	})
	if err := eg.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
