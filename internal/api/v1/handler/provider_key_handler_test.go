package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"forge/internal/middleware"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type fakeSecretStore struct {
	keys map[string]string
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{keys: make(map[string]string)}
}

func (f *fakeSecretStore) StoreProviderKey(_ context.Context, userID, provider, apiKey string) error {
	f.keys[userID+"/"+provider] = apiKey
	return nil
}

func (f *fakeSecretStore) GetProviderKey(_ context.Context, userID, provider string) (string, error) {
	return f.keys[userID+"/"+provider], nil
}

func (f *fakeSecretStore) DeleteProviderKey(_ context.Context, userID, provider string) error {
	delete(f.keys, userID+"/"+provider)
	return nil
}

func newProviderKeyFixture() (*ProviderKeyHandler, *fakeSecretStore) {
	secrets := newFakeSecretStore()
	h := NewProviderKeyHandler(secrets, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
	return h, secrets
}

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey, "user-1"))
}

func TestPutProviderKeyStoresKey(t *testing.T) {
	h, secrets := newProviderKeyFixture()
	req := authedRequest(http.MethodPut, "/users/me/provider-keys", `{"provider":"groq","api_key":"gsk_test_key"}`)
	rec := httptest.NewRecorder()
	h.handleProviderKeys(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if secrets.keys["user-1/groq"] != "gsk_test_key" {
		t.Fatalf("key not stored: %v", secrets.keys)
	}
}

func TestDeleteProviderKeyRemovesKey(t *testing.T) {
	h, secrets := newProviderKeyFixture()
	secrets.keys["user-1/groq"] = "gsk_test_key"

	req := authedRequest(http.MethodDelete, "/users/me/provider-keys?provider=groq", "")
	rec := httptest.NewRecorder()
	h.handleProviderKeys(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := secrets.keys["user-1/groq"]; ok {
		t.Fatal("key still present after delete")
	}
}

func TestDeleteProviderKeyRejectsUnknownProvider(t *testing.T) {
	h, secrets := newProviderKeyFixture()
	secrets.keys["user-1/groq"] = "gsk_test_key"

	req := authedRequest(http.MethodDelete, "/users/me/provider-keys?provider=ebay", "")
	rec := httptest.NewRecorder()
	h.handleProviderKeys(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if _, ok := secrets.keys["user-1/groq"]; !ok {
		t.Fatal("stored key removed by invalid request")
	}
}
