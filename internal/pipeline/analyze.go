package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brokerdesk/callpipe/internal/model"
	"github.com/brokerdesk/callpipe/internal/state"
	"github.com/brokerdesk/callpipe/pkg/llm"
)

const analyzeSystemPrompt = `You are an analyst reviewing call-center transcripts for an insurance brokerage. Answer strictly in JSON.`

const analyzePromptTemplate = `Analyze the following call transcript.

Allowed categories: %s
Allowed sentiments: %s

Answer these questions:
%s

Return a single JSON object with keys "category", "sentiment", and one key per question as listed above. Use JSON booleans for yes/no questions and arrays of strings for list questions.

Transcript:
%s`

// Analyze runs the LLM over every transcript that has been uploaded but not
// yet analyzed, and writes the results to the run-history store and the
// backend app.
func (p *Pipeline) Analyze(ctx context.Context) (int, int, error) {
	pending := p.ledger.CallsForProcessing(model.StageAnalyze)
	if len(pending) == 0 {
		zap.L().Info("analyze: nothing pending")
		return 0, 0, nil
	}

	zap.L().Info("analyze: starting",
		zap.Int("calls", len(pending)),
		zap.Int("workers", p.cfg.Pipeline.AnalyzeWorkers),
	)

	var mu sync.Mutex
	var processed, failed int

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.AnalyzeWorkers)

	for _, callID := range pending {
		g.Go(func() error {
			err := p.analyzeOne(gCtx, callID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var ledgerErr *ledgerWriteError
				if errors.As(err, &ledgerErr) {
					return ledgerErr.err
				}
				failed++
				return nil
			}
			processed++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return processed, failed, err
	}
	return processed, failed, nil
}

func (p *Pipeline) analyzeOne(ctx context.Context, callID string) error {
	entry, ok := p.ledger.TranscribedEntry(callID)
	if !ok {
		return &ledgerWriteError{eris.Errorf("analyze: no transcript entry for %s", callID)}
	}

	transcript, err := os.ReadFile(entry.TranscriptPath)
	if err != nil {
		wrapped := eris.Wrapf(err, "analyze: read transcript for %s", callID)
		if markErr := p.ledger.MarkAnalysisFailed(callID, wrapped); markErr != nil {
			return &ledgerWriteError{markErr}
		}
		return wrapped
	}

	analysis, err := p.analyzeTranscript(ctx, string(transcript))
	if err != nil {
		zap.L().Warn("analyze: failed",
			zap.String("call_id", callID),
			zap.Error(err),
		)
		if markErr := p.ledger.MarkAnalysisFailed(callID, err); markErr != nil {
			return &ledgerWriteError{markErr}
		}
		return err
	}

	if err := p.store.SaveAnalysis(ctx, callID, *analysis); err != nil {
		if markErr := p.ledger.MarkAnalysisFailed(callID, err); markErr != nil {
			return &ledgerWriteError{markErr}
		}
		return err
	}

	payload := map[string]any{
		"call_id":    callID,
		"category":   analysis.Category,
		"sentiment":  analysis.Sentiment,
		"summary":    analysis.Summary,
		"escalation": analysis.Escalation,
	}
	if uploaded, ok := p.ledger.UploadedEntry(callID); ok {
		payload["audio_url"] = uploaded.URL
	}
	if err := p.bubble.TriggerWorkflow(ctx, "save_analysis", payload); err != nil {
		zap.L().Warn("analyze: backend write failed",
			zap.String("call_id", callID),
			zap.Error(err),
		)
		if markErr := p.ledger.MarkAnalysisFailed(callID, err); markErr != nil {
			return &ledgerWriteError{markErr}
		}
		return err
	}

	if err := p.ledger.MarkAnalyzed(callID, analysis.Category); err != nil {
		return &ledgerWriteError{err}
	}

	if p.cfg.Pipeline.ArchiveAfterAnalyze {
		if _, err := p.ledger.ArchiveFile(entry.TranscriptPath, state.CategoryTranscripts, callID); err != nil {
			zap.L().Warn("analyze: transcript archive failed",
				zap.String("call_id", callID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// analyzeTranscript builds the prompt, calls the model, and maps the JSON
// answer onto an Analysis.
func (p *Pipeline) analyzeTranscript(ctx context.Context, transcript string) (*model.Analysis, error) {
	var questions strings.Builder
	for _, q := range p.questions.ActiveQuestions() {
		fmt.Fprintf(&questions, "- %q (%s): %s\n", q.FieldKey, q.OutputFormat, q.Text)
	}

	prompt := fmt.Sprintf(analyzePromptTemplate,
		strings.Join(p.questions.Categories, ", "),
		strings.Join(p.questions.Sentiments, ", "),
		questions.String(),
		transcript,
	)

	resp, err := p.llm.CreateMessage(ctx, llm.MessageRequest{
		Model:     p.cfg.Anthropic.Model,
		MaxTokens: int64(p.cfg.Anthropic.MaxTokens),
		System:    analyzeSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(p.cfg.Anthropic.Model, "analyze")

	raw, err := llm.ExtractJSON(resp.Text())
	if err != nil {
		return nil, err
	}

	var answer struct {
		Category    string   `json:"category"`
		Sentiment   string   `json:"sentiment"`
		Summary     string   `json:"summary"`
		ActionItems []string `json:"action_items"`
		Escalation  bool     `json:"escalation"`
		RootCause   string   `json:"root_cause"`
	}
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, eris.Wrap(err, "analyze: unmarshal model answer")
	}

	category := answer.Category
	if !p.questions.ValidCategory(category) {
		zap.L().Warn("analyze: model returned unknown category",
			zap.String("category", category),
		)
		category = "other"
	}

	return &model.Analysis{
		Category:    category,
		Sentiment:   answer.Sentiment,
		Summary:     answer.Summary,
		ActionItems: answer.ActionItems,
		Escalation:  answer.Escalation,
		RootCause:   answer.RootCause,
	}, nil
}
