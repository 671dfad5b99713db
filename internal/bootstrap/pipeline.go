package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/sentinel-backend/internal/alert"
	"github.com/eleven-am/sentinel-backend/internal/classifier"
	"github.com/eleven-am/sentinel-backend/internal/escalation"
	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/incident"
	"github.com/eleven-am/sentinel-backend/internal/monitor"
	"github.com/eleven-am/sentinel-backend/internal/shared"
	"github.com/eleven-am/sentinel-backend/internal/videocomp"
	"go.uber.org/fx"
)

func ProvideClassifierClient(cfg *Config) *classifier.Client {
	return classifier.NewClient(classifier.Config{
		BaseURL: cfg.ClassifierURL,
		Model:   cfg.ClassifierModel,
		Timeout: cfg.ClassifierTimeout,
	})
}

func ProvideClassifier(client *classifier.Client) classifier.Classifier {
	return client
}

func ProvideExtractor(cfg *Config) frame.Extractor {
	return frame.Extractor{
		Short: cfg.ShortWindow,
		Long:  cfg.LongWindow,
	}
}

func ProvideCompiler(cfg *Config, logger *slog.Logger) *videocomp.Compiler {
	return videocomp.NewCompiler(videocomp.Config{
		FFmpegPath:     cfg.FFmpegPath,
		OutputDir:      cfg.VideoDir,
		FPS:            cfg.AnalysisFPS,
		Format:         cfg.VideoFormat,
		FallbackFormat: cfg.VideoFallbackFormat,
		Timeout:        cfg.VideoTimeout,
	}, logger)
}

func ProvideDispatcher(
	cfg *Config,
	compiler *videocomp.Compiler,
	store *incident.Store,
	journal *incident.Journal,
	logger *slog.Logger,
) *alert.Dispatcher {
	alertCfg := alert.Config{
		HostingURL: cfg.HostingURL,
		WebhookURL: cfg.WebhookURL,
		Token:      cfg.DeliveryToken,
		Timeout:    cfg.DeliveryTimeout,
	}
	return alert.NewDispatcher(alert.DispatcherConfig{
		Hosting:          alert.NewHostingClient(alertCfg),
		Notifier:         alert.NewWebhookNotifier(alertCfg),
		Compiler:         compiler,
		Store:            store,
		Journal:          journal,
		Backoff:          shared.BackoffConfig{},
		MaxArtifactBytes: cfg.MaxArtifactBytes,
		Logger:           logger,
	})
}

func ProvideEscalator(
	cfg *Config,
	registry *frame.Registry,
	extractor frame.Extractor,
	cls classifier.Classifier,
	compiler *videocomp.Compiler,
	dispatcher *alert.Dispatcher,
	store *incident.Store,
	logger *slog.Logger,
) *escalation.Escalator {
	return escalation.NewEscalator(escalation.EscalatorParams{
		Registry:   registry,
		Extractor:  extractor,
		Classifier: cls,
		Compiler:   compiler,
		Dispatcher: dispatcher,
		Store:      store,
		Config: escalation.Config{
			Stride:            cfg.AnalysisStride,
			Margin:            cfg.RangeMargin,
			ClassifierTimeout: cfg.ClassifierTimeout,
		},
		Logger: logger,
	})
}

func ProvideMonitor(
	cfg *Config,
	registry *frame.Registry,
	extractor frame.Extractor,
	cls classifier.Classifier,
	escalator *escalation.Escalator,
	logger *slog.Logger,
) *monitor.Monitor {
	return monitor.New(monitor.MonitorParams{
		Registry:   registry,
		Extractor:  extractor,
		Classifier: cls,
		Escalator:  escalator,
		Config: monitor.Config{
			Interval:          cfg.ShortWindow,
			ClassifierTimeout: cfg.ClassifierTimeout,
		},
		Logger: logger,
	})
}

// StartPipeline ties the registry lifecycle to per-client monitoring: a new
// client store starts its watcher, a reclaimed one stops it.
func StartPipeline(lc fx.Lifecycle, registry *frame.Registry, mon *monitor.Monitor) {
	registry.OnCreate(mon.Watch)
	registry.OnRemove(mon.Unwatch)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			registry.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			registry.Stop()
			mon.Close()
			return nil
		},
	})
}

var PipelineModule = fx.Options(
	fx.Provide(
		ProvideClassifierClient,
		ProvideClassifier,
		ProvideExtractor,
		ProvideCompiler,
		ProvideDispatcher,
		ProvideEscalator,
		ProvideMonitor,
	),
	fx.Invoke(StartPipeline),
)
