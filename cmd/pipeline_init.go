package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/fetcher"
	"github.com/brokerdesk/callpipe/internal/pipeline"
	"github.com/brokerdesk/callpipe/internal/registry"
	"github.com/brokerdesk/callpipe/internal/state"
	"github.com/brokerdesk/callpipe/internal/store"
	"github.com/brokerdesk/callpipe/pkg/bubble"
	"github.com/brokerdesk/callpipe/pkg/llm"
	"github.com/brokerdesk/callpipe/pkg/speech"
	"github.com/brokerdesk/callpipe/pkg/telephony"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "callpipe.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv holds the ledger, store, clients, and the pipeline needed by
// the run/stage/serve commands.
type pipelineEnv struct {
	Ledger   *state.Store
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline opens the ledger and store, builds all vendor clients, loads
// the question registry, and assembles the Pipeline. Callers should defer
// env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	ledger, err := state.Open(cfg.BaseDir)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	telClient := telephony.NewClient(
		cfg.Telephony.BaseURL,
		cfg.Telephony.ClientID,
		cfg.Telephony.ClientSecret,
		telephony.WithPageSize(cfg.Telephony.PageSize),
	)

	speechOpts := []speech.Option{
		speech.WithSpeakerLabels(cfg.Speech.SpeakerLabels),
		speech.WithLanguageCode(cfg.Speech.LanguageCode),
		speech.WithPollInterval(time.Duration(cfg.Speech.PollIntervalSec) * time.Second),
		speech.WithPollTimeout(time.Duration(cfg.Speech.PollTimeoutSec) * time.Second),
	}
	if cfg.Speech.BaseURL != "" {
		speechOpts = append(speechOpts, speech.WithBaseURL(cfg.Speech.BaseURL))
	}
	speechClient := speech.NewClient(cfg.Speech.Key, speechOpts...)

	bubbleClient := bubble.NewClient(cfg.Bubble.BaseURL, cfg.Bubble.APIToken)
	llmClient := llm.NewClient(cfg.Anthropic.Key)

	// Recording URLs are gated behind the same OAuth token as the call-log
	// API. A token failure here still lets ledger-only commands work.
	var bearer string
	if cfg.Telephony.ClientID != "" {
		bearer, err = telClient.Token(ctx)
		if err != nil {
			zap.L().Warn("telephony token fetch failed, downloads may be unauthorized", zap.Error(err))
		}
	}

	dispatcher := fetcher.NewDispatcher(
		fetcher.HTTPOptions{
			BearerToken: bearer,
			Timeout:     time.Duration(cfg.Pipeline.DownloadTimeoutSec) * time.Second,
			RatePerSec:  cfg.Pipeline.DownloadRatePerSec,
			Retries:     cfg.Pipeline.DownloadRetries,
			RetryDelay:  time.Duration(cfg.Pipeline.DownloadRetryDelay) * time.Second,
		},
		fetcher.FTPOptions{
			Timeout: time.Duration(cfg.Pipeline.DownloadTimeoutSec) * time.Second,
		},
	)

	questions, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load question registry")
	}
	zap.L().Info("question registry loaded",
		zap.Int("questions", len(questions.ActiveQuestions())),
		zap.Int("categories", len(questions.Categories)),
	)

	p := pipeline.New(cfg, ledger, st, telClient, speechClient, bubbleClient, llmClient, dispatcher, questions)

	return &pipelineEnv{
		Ledger:   ledger,
		Store:    st,
		Pipeline: p,
	}, nil
}
