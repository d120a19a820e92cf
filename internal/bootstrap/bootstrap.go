// Package bootstrap provides dependency initialization for poiclip.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/poiclip/internal/audio"
	"github.com/maauso/poiclip/internal/clip"
	"github.com/maauso/poiclip/internal/config"
	"github.com/maauso/poiclip/internal/diarize"
	"github.com/maauso/poiclip/internal/face"
	"github.com/maauso/poiclip/internal/media"
	"github.com/maauso/poiclip/internal/oracle"
	"github.com/maauso/poiclip/internal/pipeline"
	"github.com/maauso/poiclip/internal/poi"
	"github.com/maauso/poiclip/internal/segment"
	"github.com/maauso/poiclip/internal/storage"
	"github.com/maauso/poiclip/internal/voice"
)

// Dependencies holds all initialized dependencies of the pipeline.
type Dependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    storage.Storage
	Layout   poi.Layout
	Clipper  media.Clipper
	Diarizer diarize.Diarizer
	Voice    voice.Matcher
	// Face reports service failures as errors. The engine wraps it in
	// face.Lenient.
	Face   face.Matcher
	Engine *segment.Engine
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Initialize storage
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize model service clients
	diarizer, err := initDiarizer(cfg, logger)
	if err != nil {
		return nil, err
	}

	voiceClient, err := newOracleClient(cfg.VoiceURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("create voice client: %w", err)
	}
	voiceMatcher := voice.NewHTTPMatcher(voiceClient)

	faceClient, err := newOracleClient(cfg.FaceURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("create face client: %w", err)
	}
	faceMatcher, err := face.NewHTTPMatcher(faceClient, face.ModelConfig{
		ModelName:       cfg.FaceModelName,
		DistanceMetric:  cfg.FaceDistanceMetric,
		DetectorBackend: cfg.FaceDetectorBackend,
	})
	if err != nil {
		return nil, fmt.Errorf("create face matcher: %w", err)
	}

	// Initialize media clipper and clip writer
	clipper := media.NewFFmpegClipper(cfg.FFmpegPath)

	writerOpts := []clip.Option{clip.WithLogger(logger)}
	if cfg.ExportVideo {
		writerOpts = append(writerOpts, clip.WithVideoExport(clipper, cfg.OracleTimeout))
	}
	if cfg.S3Enabled() {
		writerOpts = append(writerOpts, clip.WithS3Mirror(cfg.S3Prefix))
	}
	writer, err := clip.NewWriter(store, audio.NewWAVSplitter(), cfg.MaxSegmentLen, cfg.ChunkLen(), writerOpts...)
	if err != nil {
		return nil, fmt.Errorf("create clip writer: %w", err)
	}

	// Initialize decision engine
	engine := segment.NewEngine(clipper, voiceMatcher, faceMatcher, writer, segment.Settings{
		MinSegmentLen:  cfg.MinSegmentLen,
		VoiceThreshold: cfg.VoiceThreshold,
		CallTimeout:    cfg.OracleTimeout,
	}, logger)

	return &Dependencies{
		Config: cfg,
		Logger: logger,
		Store:  store,
		Layout: poi.Layout{
			RecordingsDir: cfg.RecordingsDir(),
			OutputDir:     cfg.OutputDir(),
			RefAudioDir:   cfg.RefAudioDir,
			RefImagesDir:  cfg.RefImagesDir,
		},
		Clipper:  clipper,
		Diarizer: diarizer,
		Voice:    voiceMatcher,
		Face:     faceMatcher,
		Engine:   engine,
	}, nil
}

// NewDriver builds the pipeline driver. opts are applied after the
// configured defaults.
func (d *Dependencies) NewDriver(opts ...pipeline.Option) *pipeline.Driver {
	base := []pipeline.Option{
		pipeline.WithWorkers(d.Config.Workers),
		pipeline.WithLogger(d.Logger),
	}
	// RTTM files are read from local disk and need no stall bound.
	if d.Config.DiarizerBackend == config.DiarizerHTTP {
		base = append(base, pipeline.WithDiarizeTimeout(d.Config.OracleTimeout))
	}
	return pipeline.NewDriver(d.Layout, d.Diarizer, d.Engine, d.Store, append(base, opts...)...)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TmpFolder, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 mirror configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("prefix", cfg.S3Prefix),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TmpFolder)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TmpFolder),
	)
	return localStore, nil
}

// initDiarizer creates the configured diarization backend.
func initDiarizer(cfg *config.Config, logger *slog.Logger) (diarize.Diarizer, error) {
	if cfg.DiarizerBackend == config.DiarizerRTTM {
		logger.Info("using RTTM diarization", slog.String("folder", cfg.RTTMFolder))
		return diarize.NewRTTMDiarizer(cfg.RTTMFolder), nil
	}

	client, err := newOracleClient(cfg.DiarizerURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("create diarizer client: %w", err)
	}
	logger.Info("using diarization service", slog.String("url", client.BaseURL()))
	return diarize.NewHTTPDiarizer(client), nil
}

func newOracleClient(baseURL string, cfg *config.Config) (*oracle.Client, error) {
	return oracle.NewClient(baseURL,
		oracle.WithAPIKey(cfg.OracleAPIKey),
		oracle.WithMaxRetries(cfg.OracleMaxRetries),
	)
}
