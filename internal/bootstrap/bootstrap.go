package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	httpadapter "github.com/kirillkom/document-intake/internal/adapters/http"
	"github.com/kirillkom/document-intake/internal/config"
	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/ports"
	"github.com/kirillkom/document-intake/internal/core/registry"
	"github.com/kirillkom/document-intake/internal/core/usecase"
	"github.com/kirillkom/document-intake/internal/infrastructure/background"
	"github.com/kirillkom/document-intake/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/document-intake/internal/infrastructure/llm/openai"
	"github.com/kirillkom/document-intake/internal/infrastructure/parser/azuredi"
	"github.com/kirillkom/document-intake/internal/infrastructure/parser/llamaparse"
	"github.com/kirillkom/document-intake/internal/infrastructure/parser/localtext"
	"github.com/kirillkom/document-intake/internal/infrastructure/queue/nats"
	"github.com/kirillkom/document-intake/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/document-intake/internal/infrastructure/resilience"
	"github.com/kirillkom/document-intake/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/document-intake/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Registry *registry.Registry
	Ingest   *usecase.IngestService
	Jobs     *usecase.JobQueryService
	Orders   *usecase.RecordService[*domain.Order]
	Invoices *usecase.RecordService[*domain.Invoice]

	Runner          *background.Runner
	HTTPMetrics     *metrics.HTTPServerMetrics
	PipelineMetrics *metrics.PipelineMetrics

	closeFn func()
}

// New wires the full service: postgres, local storage, the optional NATS
// event bus, the background runner and every provider the config enables.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	pipelineMetrics := metrics.NewPipelineMetrics("api")
	runner := background.New(background.Config{
		Workers:     cfg.BackgroundWorkers,
		QueueSize:   cfg.BackgroundQueueSize,
		TaskTimeout: cfg.BackgroundTimeout,
	}, logger, pipelineMetrics)

	var events ports.JobEventPublisher = nats.Noop{}
	var bus *nats.EventBus
	if strings.TrimSpace(cfg.NATSURL) != "" {
		bus, err = nats.New(cfg.NATSURL, nats.Options{
			Subject: cfg.NATSSubject,
			ResilienceExecutor: resilience.NewExecutor(resilience.EventPolicy(),
				resilience.WithLogger(logger), resilience.WithObserver(pipelineMetrics)),
			Observer: pipelineMetrics,
			Logger:   logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init event bus: %w", err)
		}
		events = bus
	} else {
		logger.Info("job_events_disabled", "reason", "NATS_URL is empty")
	}

	orders := usecase.NewRecordService[*domain.Order](postgres.NewOrderRepository(db), xlsx.NewOrderExporter(logger))
	invoices := usecase.NewRecordService[*domain.Invoice](postgres.NewInvoiceRepository(db), xlsx.NewInvoiceExporter(logger))

	reg, err := NewRegistry(cfg, logger, pipelineMetrics, map[domain.DocumentType]ports.RecordPersister{
		domain.DocumentOrder:   orders,
		domain.DocumentInvoice: invoices,
	})
	if err != nil {
		if bus != nil {
			bus.Close()
		}
		_ = db.Close()
		return nil, err
	}

	ingest := usecase.NewIngestService(
		reg,
		postgres.NewJobRepository(db),
		postgres.NewUserRepository(db),
		storage,
		events,
		runner,
		pipelineMetrics,
		logger,
		ingestConfig(cfg),
	)

	return &App{
		Config:          cfg,
		Logger:          logger,
		Registry:        reg,
		Ingest:          ingest,
		Jobs:            usecase.NewJobQueryService(postgres.NewJobRepository(db)),
		Orders:          orders,
		Invoices:        invoices,
		Runner:          runner,
		HTTPMetrics:     metrics.NewHTTPServerMetrics("api"),
		PipelineMetrics: pipelineMetrics,
		closeFn: func() {
			if bus != nil {
				bus.Close()
			}
			_ = db.Close()
		},
	}, nil
}

// HTTPHandler builds the API router over the app's use cases.
func (a *App) HTTPHandler() http.Handler {
	services := httpadapter.Services{
		Generator: a.Ingest,
		Uploader:  a.Ingest,
		Email:     a.Ingest,
		Jobs:      a.Jobs,
		Orders:    a.Orders,
		Invoices:  a.Invoices,
	}
	return httpadapter.NewRouter(a.Config, services,
		httpadapter.WithLogger(a.Logger),
		httpadapter.WithMetrics(a.HTTPMetrics, metrics.Handler(a.HTTPMetrics.Registry(), a.PipelineMetrics.Registry())),
	).Handler()
}

// Shutdown waits for background tasks, then releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.Runner != nil {
		err = a.Runner.Shutdown(ctx)
	}
	a.Close()
	return err
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
		a.closeFn = nil
	}
}

// NewProcessor builds an ingest service without a database. Only ProcessFile
// without job tracking or persistence may be used on it.
func NewProcessor(cfg config.Config, logger *slog.Logger) (*usecase.IngestService, *registry.Registry, error) {
	reg, err := NewRegistry(cfg, logger, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	svc := usecase.NewIngestService(reg, nil, nil, nil, nil, nil, nil, logger, ingestConfig(cfg))
	return svc, reg, nil
}

// NewRegistry registers every parser and model the configuration enables.
// llamaparse, local and openai are always present; azure parser and azure
// model need their endpoints. observer may be nil.
func NewRegistry(cfg config.Config, logger *slog.Logger, observer resilience.Observer, persisters map[domain.DocumentType]ports.RecordPersister) (*registry.Registry, error) {
	schemas, err := registry.DefaultSchemas()
	if err != nil {
		return nil, fmt.Errorf("build schemas: %w", err)
	}

	b := registry.NewBuilder()
	for _, schema := range schemas {
		b.Schema(schema)
	}

	llama := llamaparse.NewClient(llamaparse.Config{
		APIKey:       cfg.LlamaParseAPIKey,
		BaseURL:      cfg.LlamaParseBaseURL,
		PollInterval: cfg.LlamaParsePollInterval,
		MaxWait:      cfg.LlamaParseMaxWait,
	}, providerExecutor(cfg, logger, observer), logger)
	b.Parser("llamaparse", llama.Factory)

	if strings.TrimSpace(cfg.AzureDIEndpoint) != "" {
		azure, err := azuredi.NewClient(azuredi.Config{
			Endpoint:     cfg.AzureDIEndpoint,
			APIKey:       cfg.AzureDIAPIKey,
			APIVersion:   cfg.AzureDIAPIVersion,
			PollInterval: cfg.LlamaParsePollInterval,
			MaxWait:      cfg.LlamaParseMaxWait,
		}, providerExecutor(cfg, logger, observer), logger)
		if err != nil {
			return nil, fmt.Errorf("init azure document intelligence: %w", err)
		}
		b.Parser("azure", azure.Factory)
	}

	b.Parser("local", func(path, language string) (ports.DocumentParser, error) {
		p, err := localtext.New(path, language)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	models := []openai.Config{{
		Flavor:      openai.FlavorOpenAI,
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	}}
	if strings.TrimSpace(cfg.AzureOpenAIEndpoint) != "" {
		models = append(models, openai.Config{
			Flavor:      openai.FlavorAzure,
			APIKey:      cfg.AzureOpenAIAPIKey,
			BaseURL:     cfg.AzureOpenAIEndpoint,
			Deployment:  cfg.AzureOpenAIDeployment,
			APIVersion:  cfg.AzureOpenAIAPIVersion,
			Temperature: cfg.LLMTemperature,
			Timeout:     cfg.LLMTimeout,
		})
	}
	for _, modelCfg := range models {
		if err := registerModel(b, modelCfg, schemas, providerExecutor(cfg, logger, observer), logger); err != nil {
			return nil, err
		}
	}

	for docType, persister := range persisters {
		b.Persister(docType, persister)
	}
	return b.Build()
}

func registerModel(b *registry.Builder, modelCfg openai.Config, schemas []registry.Schema, exec *resilience.Executor, logger *slog.Logger) error {
	client, err := openai.New(modelCfg, exec, logger)
	if err != nil {
		return fmt.Errorf("init %s model: %w", modelCfg.Flavor, err)
	}
	name := client.Flavor()

	classifier := openai.NewClassifier(client)
	b.Classifier(name, func() ports.DocumentClassifier { return classifier })

	for _, schema := range schemas {
		var extractor ports.RecordExtractor
		switch schema.DocumentType {
		case domain.DocumentOrder:
			extractor, err = openai.NewExtractor[*domain.Order](client, schema)
		case domain.DocumentInvoice:
			extractor, err = openai.NewExtractor[*domain.Invoice](client, schema)
		default:
			err = errors.New("no record type for schema " + schema.Name)
		}
		if err != nil {
			return fmt.Errorf("init %s extractor: %w", name, err)
		}
		b.Extractor(name, schema.DocumentType, func() ports.RecordExtractor { return extractor })
	}
	return nil
}

func providerPolicy(cfg config.Config) resilience.Config {
	return resilience.ProviderPolicy(cfg.ProviderRetryMaxAttempts, cfg.ProviderBreakerEnabled)
}

func providerExecutor(cfg config.Config, logger *slog.Logger, observer resilience.Observer) *resilience.Executor {
	opts := []resilience.Option{resilience.WithLogger(logger)}
	if observer != nil {
		opts = append(opts, resilience.WithObserver(observer))
	}
	return resilience.NewExecutor(providerPolicy(cfg), opts...)
}

func ingestConfig(cfg config.Config) usecase.IngestConfig {
	return usecase.IngestConfig{
		DefaultParser:   cfg.DefaultParser,
		DefaultModel:    cfg.DefaultModel,
		DefaultLanguage: cfg.DefaultLanguage,
		TempDir:         cfg.TempDir,
	}
}
