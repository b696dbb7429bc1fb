package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"forge/internal/config"
	"forge/internal/model"

	"github.com/rs/zerolog"
)

type fakeAIClient struct {
	calls   int
	lastKey string
}

func (f *fakeAIClient) StreamChatCompletion(_ context.Context, apiKey, modelID string, messages []model.ChatMessage, maxTokens int) (io.ReadCloser, error) {
	f.calls++
	f.lastKey = apiKey
	return io.NopCloser(strings.NewReader("data: {}\n\n")), nil
}

type fakeSecrets struct {
	keys map[string]string
}

func (f *fakeSecrets) StoreProviderKey(_ context.Context, userID, provider, apiKey string) error {
	if f.keys == nil {
		f.keys = make(map[string]string)
	}
	f.keys[userID+"/"+provider] = apiKey
	return nil
}

func (f *fakeSecrets) GetProviderKey(_ context.Context, userID, provider string) (string, error) {
	key, ok := f.keys[userID+"/"+provider]
	if !ok {
		return "", errors.New("secret not found")
	}
	return key, nil
}

func (f *fakeSecrets) DeleteProviderKey(_ context.Context, userID, provider string) error {
	delete(f.keys, userID+"/"+provider)
	return nil
}

func newGenerationFixture(tier string) (GenerationService, *fakeAIClient, *fakeRateLimitRepo, *fakeSecrets) {
	cfg := &config.Config{
		GroqAPIKey:   "platform-key",
		DefaultModel: "llama-3.3-70b-versatile",
	}
	repo := newFakeRateLimitRepo()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rlSvc := newTestRateLimitService(repo, func() time.Time { return base })
	subRepo := &fakeSubscriptionRepo{}
	if tier != model.TierFree {
		subRepo.sub = subWith(model.SubscriptionStatusActive, tier, false)
	}
	subSvc := NewSubscriptionService(subRepo, zerolog.Nop())
	ai := &fakeAIClient{}
	secrets := &fakeSecrets{}
	svc := NewGenerationService(cfg, subSvc, rlSvc, ai, secrets, zerolog.Nop())
	return svc, ai, repo, secrets
}

func TestStreamCompletionRecordsUsage(t *testing.T) {
	svc, ai, repo, _ := newGenerationFixture(model.TierPro)

	stream, err := svc.StreamCompletion(context.Background(), "user-1", []model.ChatMessage{
		{Role: "user", Content: "build me a landing page"},
	}, "", 512)
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	defer stream.Close()

	if ai.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", ai.calls)
	}
	st, err := repo.GetState(context.Background(), "user-1", OperationChatCompletion)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st == nil || st.RequestCount != 1 {
		t.Fatalf("expected recorded usage, got %+v", st)
	}
	if st.TotalCost <= 0 {
		t.Fatal("expected a positive estimated cost")
	}
}

func TestStreamCompletionDeniedBeforeProviderCall(t *testing.T) {
	svc, ai, _, _ := newGenerationFixture(model.TierFree)

	ctx := context.Background()
	msgs := []model.ChatMessage{{Role: "user", Content: "hi"}}
	for i := 0; i < 5; i++ {
		stream, err := svc.StreamCompletion(ctx, "user-1", msgs, "", 64)
		if err != nil {
			t.Fatalf("request %d unexpectedly denied: %v", i+1, err)
		}
		stream.Close()
	}

	_, err := svc.StreamCompletion(ctx, "user-1", msgs, "", 64)
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.Kind != LimitKindCount {
		t.Fatalf("expected kind %s, got %s", LimitKindCount, rle.Kind)
	}
	// The denial must short-circuit: no sixth provider call.
	if ai.calls != 5 {
		t.Fatalf("provider called despite denial: %d calls", ai.calls)
	}
}

func TestStreamCompletionPrefersUserProviderKey(t *testing.T) {
	svc, ai, _, secrets := newGenerationFixture(model.TierPro)
	if err := secrets.StoreProviderKey(context.Background(), "user-1", "groq", "user-key"); err != nil {
		t.Fatalf("StoreProviderKey: %v", err)
	}

	stream, err := svc.StreamCompletion(context.Background(), "user-1", []model.ChatMessage{
		{Role: "user", Content: "hi"},
	}, "", 64)
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	stream.Close()

	if ai.lastKey != "user-key" {
		t.Fatalf("expected user key, got %q", ai.lastKey)
	}
}

func TestStreamCompletionFallsBackToPlatformKey(t *testing.T) {
	svc, ai, _, _ := newGenerationFixture(model.TierPro)

	stream, err := svc.StreamCompletion(context.Background(), "user-1", []model.ChatMessage{
		{Role: "user", Content: "hi"},
	}, "", 64)
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	stream.Close()

	if ai.lastKey != "platform-key" {
		t.Fatalf("expected platform key, got %q", ai.lastKey)
	}
}
