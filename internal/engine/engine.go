// Package engine is the composition root: it constructs every component
// (C1-C9) and wires them together explicitly, rather than relying on
// global singletons (spec §9's "dependency injection over globals"
// redesign note). Callers get back one Engine and drive everything
// through it.
package engine

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/association"
	"github.com/anima-systems/anima-memory/internal/config"
	"github.com/anima-systems/anima-memory/internal/consolidate"
	"github.com/anima-systems/anima-memory/internal/embedding"
	embeddingcache "github.com/anima-systems/anima-memory/internal/embedding/cache"
	"github.com/anima-systems/anima-memory/internal/handshake"
	"github.com/anima-systems/anima-memory/internal/memory"
	"github.com/anima-systems/anima-memory/internal/reflection"
	"github.com/anima-systems/anima-memory/internal/storage"
	"github.com/anima-systems/anima-memory/internal/tier"
	"github.com/anima-systems/anima-memory/internal/worker"
)

// Engine owns every component and is the single object cmd/animad and
// internal/api depend on.
type Engine struct {
	Config       *config.Config
	Storage      *storage.Adapter
	Embedding    *embedding.Gateway
	Cache        *embeddingcache.Cache
	Consolidate  *consolidate.Consolidator
	Tier         *tier.Engine
	Association  *association.Engine
	Handshake    *handshake.Engine
	Reflection   *reflection.Recorder
	Memory       *memory.Service
	Worker       *worker.Pool

	hintBus *embeddingcache.HintBus
	logger  zerolog.Logger
}

// New builds an Engine from cfg. It opens the storage pool and, if
// REDIS_URL is set, the optional embedding-cache invalidation hint bus;
// all in-process components are then wired against those two resources.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Engine, error) {
	db, err := storage.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	cache := embeddingcache.New(cfg.EmbeddingCacheSize, cfg.EmbeddingCacheTTL, logger)

	var hintBus *embeddingcache.HintBus
	if cfg.RedisURL != "" {
		hb, err := embeddingcache.NewHintBus(cfg.RedisURL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("embedding cache hint bus init failed — continuing without cross-process invalidation")
		} else if err := hb.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("embedding cache hint bus ping failed — continuing without cross-process invalidation")
		} else {
			hb.Subscribe(ctx, cache)
			hintBus = hb
			logger.Info().Msg("embedding cache hint bus connected")
		}
	}

	primary, fallback := selectProviders(cfg)
	gw := embedding.New(cfg, primary, fallback, logger)

	consolidator := consolidate.New(db, hintBus, logger)
	tiers := tier.New(db, logger)
	associations := association.New(db, logger)
	hs := handshake.New(db, logger)
	refl := reflection.New(db, associations, logger)

	workerPool := worker.New(worker.DefaultConfig(), db, consolidator, associations, memory.HeuristicProbe{}, logger)

	mem := memory.New(db, gw, cache, consolidator, tiers, workerPool, cfg.SemanticConsolidation, logger)

	workerPool.Start(ctx)

	return &Engine{
		Config: cfg, Storage: db, Embedding: gw, Cache: cache,
		Consolidate: consolidator, Tier: tiers, Association: associations,
		Handshake: hs, Reflection: refl, Memory: mem, Worker: workerPool,
		hintBus: hintBus,
		logger:  logger.With().Str("component", "engine").Logger(),
	}, nil
}

// selectProviders resolves cfg.EmbeddingProvider into a primary/fallback
// pair. A remote primary always falls back to the local provider; a local
// primary has no fallback. If the remote-secondary provider cannot be
// built, the local provider becomes the primary with no fallback.
func selectProviders(cfg *config.Config) (embedding.Provider, embedding.Provider) {
	local := embedding.NewLocalProvider(cfg.EmbeddingDim)

	switch cfg.EmbeddingProvider {
	case config.ProviderRemotePrimary:
		primary := embedding.NewOpenAIProvider(cfg.EmbeddingAPIKey, cfg.EmbeddingDim)
		return primary, local
	case config.ProviderRemoteSecondary:
		primary := newBedrockProviderOrNil(cfg)
		if primary == nil {
			return local, nil
		}
		return primary, local
	default:
		return local, nil
	}
}

// newBedrockProviderOrNil builds a BedrockProvider using the AWS SDK's
// standard config chain (env vars, shared config, instance role). Returns
// nil if the default config cannot be loaded, letting the caller fall
// back to the local provider rather than failing startup outright.
func newBedrockProviderOrNil(cfg *config.Config) embedding.Provider {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil
	}
	client := bedrockruntime.NewFromConfig(awsCfg)
	modelID := cfg.EmbeddingEndpoint
	if modelID == "" {
		modelID = "amazon.titan-embed-text-v1"
	}
	return embedding.NewBedrockProvider(client, modelID, cfg.EmbeddingDim)
}

// Close releases every resource the engine opened. Stop order is the
// reverse of construction: background workers first, then external
// connections.
func (e *Engine) Close() {
	if e.Worker != nil {
		e.Worker.Stop()
	}
	if e.hintBus != nil {
		_ = e.hintBus.Close()
	}
	if e.Storage != nil {
		_ = e.Storage.Close()
	}
}
