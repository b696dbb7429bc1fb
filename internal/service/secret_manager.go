package service

import (
	"context"
	"fmt"

	"forge/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretManagerService stores user-supplied AI provider API keys. Users who
// bring their own key are billed by the provider directly; the platform key
// is the default.
type SecretManagerService interface {
	StoreProviderKey(ctx context.Context, userID, provider, apiKey string) error
	GetProviderKey(ctx context.Context, userID, provider string) (string, error)
	DeleteProviderKey(ctx context.Context, userID, provider string) error
}

type secretManagerService struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManagerService(ctx context.Context, cfg *config.Config) (SecretManagerService, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP project ID is not set")
	}

	var opts []option.ClientOption
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}

	return &secretManagerService{
		client:    client,
		projectID: cfg.GCPProjectID,
	}, nil
}

func (s *secretManagerService) secretName(userID, provider string) string {
	return fmt.Sprintf("user-%s-%s-key", userID, provider)
}

func (s *secretManagerService) StoreProviderKey(ctx context.Context, userID, provider, apiKey string) error {
	secretName := s.secretName(userID, provider)
	secretPath := fmt.Sprintf("projects/%s/secrets/%s", s.projectID, secretName)

	_, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: secretPath})
	if err != nil {
		createReq := &secretmanagerpb.CreateSecretRequest{
			Parent:   fmt.Sprintf("projects/%s", s.projectID),
			SecretId: secretName,
			Secret: &secretmanagerpb.Secret{
				Replication: &secretmanagerpb.Replication{
					Replication: &secretmanagerpb.Replication_Automatic_{
						Automatic: &secretmanagerpb.Replication_Automatic{},
					},
				},
			},
		}
		if _, err := s.client.CreateSecret(ctx, createReq); err != nil {
			return fmt.Errorf("failed to create secret: %w", err)
		}
	}

	_, err = s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  secretPath,
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(apiKey)},
	})
	if err != nil {
		return fmt.Errorf("failed to add secret version: %w", err)
	}
	return nil
}

func (s *secretManagerService) GetProviderKey(ctx context.Context, userID, provider string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, s.secretName(userID, provider))
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resourceName})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}
	return string(result.Payload.Data), nil
}

func (s *secretManagerService) DeleteProviderKey(ctx context.Context, userID, provider string) error {
	secretPath := fmt.Sprintf("projects/%s/secrets/%s", s.projectID, s.secretName(userID, provider))
	if err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: secretPath}); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
