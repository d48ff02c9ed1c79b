package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/modelcatalog/internal/codec"
	"github.com/timmy/modelcatalog/internal/domain"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/prompts"
)

// completerFunc adapts a function to TextCompleter.
type completerFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// rewriteTable returns a provider that decodes the table it was sent,
// applies edit to every record and replies with the re-encoded table.
func rewriteTable(calls *int32, edit func(r *domain.Record)) TextCompleter {
	return completerFunc(func(_ context.Context, _, user string) (string, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		records, err := codec.Decode(user)
		if err != nil {
			return "", err
		}
		for i := range records {
			edit(&records[i])
		}
		return "```csv\n" + codec.Encode(records) + "```\n", nil
	})
}

func catalogRecords(n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{
			ID:       fmt.Sprintf("rec-%d", i),
			Name:     fmt.Sprintf("Model %d", i),
			Provider: "Acme",
			Domain:   domain.DomainLLM,
			License:  domain.License{Name: "MIT", Type: domain.LicenseOSI},
		}
	}
	return out
}

func newTestValidator(cfg *ValidatorConfig) *CatalogValidator {
	if cfg == nil {
		cfg = &ValidatorConfig{}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	return NewCatalogValidator(cfg, logger.Nop(), nil)
}

func noPause() *time.Duration {
	d := time.Duration(0)
	return &d
}

func ids(records []domain.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestSelectStrategyRecordBoundary(t *testing.T) {
	v := newTestValidator(&ValidatorConfig{RecordThreshold: 250, TokenThreshold: 1 << 30})

	strategy, _ := v.SelectStrategy(catalogRecords(250))
	assert.Equal(t, StrategySingle, strategy)

	strategy, _ = v.SelectStrategy(catalogRecords(251))
	assert.Equal(t, StrategyBatch, strategy)
}

func TestSelectStrategyTokenBoundary(t *testing.T) {
	records := catalogRecords(3)
	tokens := newTestValidator(nil).EstimateTokens(codec.Encode(records))
	require.Greater(t, tokens, 1)

	atThreshold := newTestValidator(&ValidatorConfig{TokenThreshold: tokens, RecordThreshold: 1000})
	strategy, estimated := atThreshold.SelectStrategy(records)
	assert.Equal(t, StrategyBatch, strategy)
	assert.Equal(t, tokens, estimated)

	above := newTestValidator(&ValidatorConfig{TokenThreshold: tokens + 1, RecordThreshold: 1000})
	strategy, _ = above.SelectStrategy(records)
	assert.Equal(t, StrategySingle, strategy)
}

func TestEstimateTokensRoundsUp(t *testing.T) {
	v := newTestValidator(&ValidatorConfig{CharsPerToken: 4})
	assert.Equal(t, 0, v.EstimateTokens(""))
	assert.Equal(t, 1, v.EstimateTokens("abc"))
	assert.Equal(t, 1, v.EstimateTokens("abcd"))
	assert.Equal(t, 2, v.EstimateTokens("abcde"))
	assert.Equal(t, 1, v.EstimateTokens("模型"))
}

func TestValidateCatalogBatchCapKeepsRemainder(t *testing.T) {
	v := newTestValidator(&ValidatorConfig{RecordThreshold: 1})
	records := catalogRecords(5)
	var calls int32
	provider := rewriteTable(&calls, func(r *domain.Record) { r.Description = "checked" })

	var progress [][2]int
	res := v.ValidateCatalog(context.Background(), provider, records, &ValidationOptions{
		BatchSize:  2,
		MaxBatches: 2,
		Pause:      noPause(),
		OnProgress: func(processed, total int) { progress = append(progress, [2]int{processed, total}) },
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, StrategyBatch, res.Strategy)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 3, res.BatchesTotal)
	assert.Equal(t, 2, res.BatchesProcessed)
	require.Len(t, res.UpdatedRecords, 5)
	assert.Equal(t, ids(records), ids(res.UpdatedRecords))
	for i := 0; i < 4; i++ {
		assert.Equal(t, "checked", res.UpdatedRecords[i].Description)
	}
	assert.Empty(t, res.UpdatedRecords[4].Description)
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}}, progress)

	require.NotNil(t, res.Summary)
	assert.Equal(t, 4, res.Summary.ModelsUpdated)
	assert.Equal(t, 4, res.Summary.FieldUpdates.Description)
	assert.Equal(t, 5, res.Summary.TotalModels)
	assert.Len(t, res.Summary.Changes, 4)
	assert.Equal(t, "description", res.Summary.Changes[0].Field)
	assert.Equal(t, "checked", res.Summary.Changes[0].NewValue)
}

func TestValidateCatalogRepairsPartialReply(t *testing.T) {
	v := newTestValidator(&ValidatorConfig{RecordThreshold: 1})
	records := catalogRecords(4)
	records[1].IsFavorite = true

	provider := completerFunc(func(_ context.Context, _, user string) (string, error) {
		sent, err := codec.Decode(user)
		if err != nil {
			return "", err
		}
		// Only the second record of each chunk comes back, with the favorite flag dropped.
		kept := sent[len(sent)-1]
		kept.Description = "repaired"
		kept.IsFavorite = false
		return codec.Encode([]domain.Record{kept}), nil
	})

	res := v.ValidateCatalog(context.Background(), provider, records, &ValidationOptions{BatchSize: 2, Pause: noPause()})

	require.True(t, res.Success, res.Error)
	require.Len(t, res.UpdatedRecords, 4)
	assert.Equal(t, ids(records), ids(res.UpdatedRecords))
	assert.Empty(t, res.UpdatedRecords[0].Description)
	assert.Equal(t, "repaired", res.UpdatedRecords[1].Description)
	assert.True(t, res.UpdatedRecords[1].IsFavorite)
	assert.Equal(t, "repaired", res.UpdatedRecords[3].Description)
}

func TestValidateCatalogDroppedColumnsKeepCuratedValues(t *testing.T) {
	v := newTestValidator(nil)
	records := []domain.Record{{
		ID:        "a",
		Name:      "Alpha",
		Domain:    domain.DomainLLM,
		Indemnity: domain.IndemnityVendorProgram,
		License:   domain.License{Name: "Acme EULA", Type: domain.LicenseProprietary, CommercialUse: true, AttributionRequired: true},
		Hosting:   domain.Hosting{Providers: domain.StringArray{"acme"}},
	}}
	provider := completerFunc(func(context.Context, string, string) (string, error) {
		return "id,name,description\n\"a\",\"Alpha\",\"A model\"\n", nil
	})

	res := v.ValidateCatalog(context.Background(), provider, records, nil)

	require.True(t, res.Success, res.Error)
	require.Len(t, res.UpdatedRecords, 1)
	got := res.UpdatedRecords[0]
	assert.Equal(t, "A model", got.Description)
	assert.Equal(t, records[0].License, got.License)
	assert.Equal(t, records[0].Hosting, got.Hosting)
	assert.Equal(t, domain.DomainLLM, got.Domain)
	assert.Equal(t, domain.IndemnityVendorProgram, got.Indemnity)

	require.Len(t, res.Summary.Changes, 1)
	assert.Equal(t, "description", res.Summary.Changes[0].Field)
}

func TestValidateCatalogChunkErrorKeepsOriginals(t *testing.T) {
	v := newTestValidator(&ValidatorConfig{RecordThreshold: 1})
	records := catalogRecords(4)

	var calls int32
	good := rewriteTable(nil, func(r *domain.Record) { r.Parameters = "7B" })
	provider := completerFunc(func(ctx context.Context, sys, user string) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", &ProviderError{StatusCode: 500, Message: "upstream exploded"}
		}
		return good.Complete(ctx, sys, user)
	})

	res := v.ValidateCatalog(context.Background(), provider, records, &ValidationOptions{BatchSize: 2, Pause: noPause()})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.BatchesProcessed)
	assert.Empty(t, res.UpdatedRecords[0].Parameters)
	assert.Empty(t, res.UpdatedRecords[1].Parameters)
	assert.Equal(t, "7B", res.UpdatedRecords[2].Parameters)
	assert.Equal(t, "7B", res.UpdatedRecords[3].Parameters)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 1, res.Summary.Errors)
	assert.Equal(t, 2, res.Summary.FieldUpdates.Parameters)
}

func TestValidateCatalogEmptyChunkReplyIsNoop(t *testing.T) {
	v := newTestValidator(&ValidatorConfig{RecordThreshold: 1})
	records := catalogRecords(3)
	provider := completerFunc(func(context.Context, string, string) (string, error) {
		return codec.Encode(nil), nil
	})

	res := v.ValidateCatalog(context.Background(), provider, records, &ValidationOptions{BatchSize: 2, Pause: noPause()})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, records, res.UpdatedRecords)
	assert.Zero(t, res.Summary.ModelsUpdated)
}

func TestValidateCatalogCancelDuringPause(t *testing.T) {
	v := newTestValidator(&ValidatorConfig{RecordThreshold: 1, PollInterval: 100 * time.Millisecond})
	records := catalogRecords(2)
	provider := rewriteTable(nil, func(r *domain.Record) { r.Description = "first" })

	firstDone := make(chan struct{})
	var once sync.Once
	pause := 60 * time.Second
	resCh := make(chan *ValidationResult, 1)
	go func() {
		resCh <- v.ValidateCatalog(context.Background(), provider, records, &ValidationOptions{
			BatchSize:  1,
			Pause:      &pause,
			OnProgress: func(int, int) { once.Do(func() { close(firstDone) }) },
		})
	}()

	<-firstDone
	time.Sleep(50 * time.Millisecond)
	cancelledAt := time.Now()
	require.True(t, v.Cancel())

	select {
	case res := <-resCh:
		assert.Less(t, time.Since(cancelledAt), time.Second)
		assert.False(t, res.Success)
		assert.True(t, res.Cancelled)
		assert.Equal(t, ErrorKindCancelled, res.ErrorKind)
		assert.Equal(t, "cancelled by user", res.Error)
		require.Len(t, res.UpdatedRecords, 2)
		assert.Equal(t, "first", res.UpdatedRecords[0].Description)
		assert.Empty(t, res.UpdatedRecords[1].Description)
		require.NotNil(t, res.Summary)
		assert.Equal(t, 1, res.Summary.ModelsUpdated)
	case <-time.After(5 * time.Second):
		t.Fatal("validation did not stop after cancel")
	}
	assert.False(t, v.Status().Running)
}

func TestValidateCatalogCancelAbortsInFlightCall(t *testing.T) {
	v := newTestValidator(nil)
	started := make(chan struct{})
	provider := completerFunc(func(ctx context.Context, _, _ string) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	resCh := make(chan *ValidationResult, 1)
	go func() {
		resCh <- v.ValidateCatalog(context.Background(), provider, catalogRecords(2), nil)
	}()
	<-started
	v.Cancel()

	res := <-resCh
	assert.True(t, res.Cancelled)
	assert.Len(t, res.UpdatedRecords, 2)
}

func TestValidateCatalogSingleModeFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		kind  ErrorKind
	}{
		{name: "no header", reply: "I could not validate these models.", kind: ErrorKindStructural},
		{name: "empty table", reply: codec.Encode(nil), kind: ErrorKindStructural},
		{name: "unauthorized", err: &ProviderError{StatusCode: 401, Message: "bad key"}, kind: ErrorKindUnauthorized},
		{name: "rate limited", err: errors.New("Too Many Requests"), kind: ErrorKindRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(nil)
			provider := completerFunc(func(context.Context, string, string) (string, error) {
				return tt.reply, tt.err
			})

			res := v.ValidateCatalog(context.Background(), provider, catalogRecords(2), nil)

			assert.Equal(t, StrategySingle, res.Strategy)
			assert.False(t, res.Success)
			assert.False(t, res.Cancelled)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.NotEmpty(t, res.Error)
			assert.Nil(t, res.UpdatedRecords)
			assert.Nil(t, res.Summary)
		})
	}
}

func TestValidateCatalogSingleModeProtectsUserFlags(t *testing.T) {
	v := newTestValidator(nil)
	records := catalogRecords(3)
	records[0].IsFavorite = true
	records[2].IsNSFWFlagged = true
	records[2].FlaggedImageURLs = domain.StringArray{"https://img/1.png"}

	provider := rewriteTable(nil, func(r *domain.Record) {
		r.IsFavorite = false
		r.IsNSFWFlagged = false
		r.FlaggedImageURLs = nil
		r.ContextWindow = "128k"
	})

	res := v.ValidateCatalog(context.Background(), provider, records, nil)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.BatchesTotal)
	assert.True(t, res.UpdatedRecords[0].IsFavorite)
	assert.True(t, res.UpdatedRecords[2].IsNSFWFlagged)
	assert.Equal(t, []string{"https://img/1.png"}, []string(res.UpdatedRecords[2].FlaggedImageURLs))
	assert.Equal(t, "128k", res.UpdatedRecords[1].ContextWindow)
	assert.Equal(t, 3, res.Summary.FieldUpdates.ContextWindow)
	for _, c := range res.Summary.Changes {
		assert.NotContains(t, []string{"isFavorite", "isNSFWFlagged", "flaggedImageUrls"}, c.Field)
	}
}

func TestValidateCatalogWebSearchPrompt(t *testing.T) {
	v := newTestValidator(nil)
	var system string
	provider := completerFunc(func(_ context.Context, sys, user string) (string, error) {
		system = sys
		records, _ := codec.Decode(user)
		return codec.Encode(records), nil
	})
	on := true

	res := v.ValidateCatalog(context.Background(), provider, catalogRecords(1), &ValidationOptions{WebSearch: &on})

	require.True(t, res.Success, res.Error)
	assert.True(t, res.Summary.WebSearchUsed)
	assert.Equal(t, prompts.ValidationSystem(true), system)
}

func TestValidateCatalogWithoutProvider(t *testing.T) {
	v := newTestValidator(nil)

	res := v.ValidateCatalog(context.Background(), nil, catalogRecords(1), nil)
	assert.False(t, res.Success)
	assert.Equal(t, ErrorKindNoProvider, res.ErrorKind)

	unconfigured := NewLLMService(&LLMConfig{Provider: "openai"})
	res = v.ValidateCatalog(context.Background(), unconfigured, catalogRecords(1), nil)
	assert.Equal(t, ErrorKindNoProvider, res.ErrorKind)
	assert.False(t, v.Status().Running)
}

func TestValidateCatalogEmptyCatalog(t *testing.T) {
	v := newTestValidator(nil)
	provider := completerFunc(func(context.Context, string, string) (string, error) {
		t.Fatal("provider must not be called for an empty catalog")
		return "", nil
	})

	res := v.ValidateCatalog(context.Background(), provider, nil, nil)
	assert.True(t, res.Success)
	assert.Empty(t, res.UpdatedRecords)
	require.NotNil(t, res.Summary)
	assert.Zero(t, res.Summary.TotalModels)
}

func TestValidateCatalogRejectsConcurrentRun(t *testing.T) {
	v := newTestValidator(nil)
	release := make(chan struct{})
	started := make(chan struct{})
	provider := completerFunc(func(_ context.Context, _, user string) (string, error) {
		close(started)
		<-release
		records, _ := codec.Decode(user)
		return codec.Encode(records), nil
	})

	resCh := make(chan *ValidationResult, 1)
	go func() {
		resCh <- v.ValidateCatalog(context.Background(), provider, catalogRecords(1), nil)
	}()
	<-started
	assert.True(t, v.Status().Running)

	second := v.ValidateCatalog(context.Background(), provider, catalogRecords(1), nil)
	assert.False(t, second.Success)
	assert.Equal(t, ErrValidationRunning.Error(), second.Error)

	close(release)
	first := <-resCh
	assert.True(t, first.Success, first.Error)
	assert.False(t, v.Cancel())
}

func TestChunkRecords(t *testing.T) {
	chunks := chunkRecords(catalogRecords(5), 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[2], 1)
	assert.Empty(t, chunkRecords(nil, 2))
}
