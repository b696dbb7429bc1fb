package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// OperationProjectExport is the rate-limited operation name for project
// bundle exports.
const OperationProjectExport = "project-export"

// ExportService hands out presigned URLs for generated project bundles.
// Uploads count against the caller's export rate limit; downloads do not.
type ExportService interface {
	CreateUploadURL(ctx context.Context, userID, projectID string) (string, error)
	GetDownloadURL(ctx context.Context, userID, projectID string) (string, error)
}

type exportService struct {
	presignClient *s3.PresignClient
	bucketName    string
	subSvc        SubscriptionService
	rlSvc         RateLimitService
	logger        zerolog.Logger
}

// NewExportService creates an ExportService with a scoped logger.
func NewExportService(s3Client *s3.Client, bucketName string, subSvc SubscriptionService, rlSvc RateLimitService, logger zerolog.Logger) ExportService {
	return &exportService{
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    bucketName,
		subSvc:        subSvc,
		rlSvc:         rlSvc,
		logger:        logger.With().Str("service", "ExportService").Logger(),
	}
}

func exportObjectKey(userID, projectID string) string {
	return fmt.Sprintf("exports/%s/%s.tar.gz", userID, projectID)
}

// CreateUploadURL enforces the export rate limit, then generates a presigned
// PUT URL for the project bundle.
func (s *exportService) CreateUploadURL(ctx context.Context, userID, projectID string) (string, error) {
	tier, err := s.subSvc.TierFor(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolving tier: %w", err)
	}
	if err := s.rlSvc.Enforce(ctx, userID, OperationProjectExport, tier, EnforceOptions{}); err != nil {
		return "", err
	}

	request, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(exportObjectKey(userID, projectID)),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("project_id", projectID).Msg("Failed to generate presigned PUT URL")
		return "", fmt.Errorf("failed to generate presigned PUT URL: %w", err)
	}
	return request.URL, nil
}

// GetDownloadURL generates a presigned GET URL for a previously exported
// bundle.
func (s *exportService) GetDownloadURL(ctx context.Context, userID, projectID string) (string, error) {
	resp, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(exportObjectKey(userID, projectID)),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("project_id", projectID).Msg("Failed to generate presigned URL")
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return resp.URL, nil
}
