package textract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/google/uuid"

	cfg "github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	s3storage "github.com/feichai0017/document-ingestor/pkg/storage/s3"
)

var (
	ErrJobFailed  = errors.New("textract job failed")
	ErrJobTimeout = errors.New("textract job did not finish in time")
)

// API is the subset of the Textract client used for asynchronous text detection.
type API interface {
	StartDocumentTextDetection(ctx context.Context, params *textract.StartDocumentTextDetectionInput, optFns ...func(*textract.Options)) (*textract.StartDocumentTextDetectionOutput, error)
	GetDocumentTextDetection(ctx context.Context, params *textract.GetDocumentTextDetectionInput, optFns ...func(*textract.Options)) (*textract.GetDocumentTextDetectionOutput, error)
}

// Stager holds documents in the bucket Textract reads from.
type Stager interface {
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Extractor runs Textract text detection on PDFs staged in S3. Multi-page
// PDFs are only accepted by the asynchronous API, hence the staging.
type Extractor struct {
	api    API
	stager Stager
	config cfg.TextractConfig
	logger logger.Logger
}

func NewExtractor(api API, stager Stager, config cfg.TextractConfig, log logger.Logger) *Extractor {
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	return &Extractor{
		api:    api,
		stager: stager,
		config: config,
		logger: log,
	}
}

// NewFromConfig builds a Textract client with the same credentials as S3.
func NewFromConfig(ctx context.Context, awsConfig cfg.S3Config, config cfg.TextractConfig, stager Stager, log logger.Logger) (*Extractor, error) {
	awsCfg, err := s3storage.LoadAWSConfig(ctx, awsConfig)
	if err != nil {
		return nil, err
	}

	return NewExtractor(textract.NewFromConfig(awsCfg), stager, config, log), nil
}

func (e *Extractor) Name() string {
	return "textract"
}

func (e *Extractor) Extract(ctx context.Context, doc []byte) (string, error) {
	key := e.config.StagingPrefix + uuid.NewString() + ".pdf"
	if _, err := e.stager.Store(ctx, bytes.NewReader(doc), key); err != nil {
		return "", fmt.Errorf("%w: failed to stage document: %w", models.ErrExtractionFailed, err)
	}
	defer func() {
		if err := e.stager.Delete(context.WithoutCancel(ctx), key); err != nil {
			e.logger.Warn("Failed to delete staged document",
				logger.String("key", key),
				logger.Error(err),
			)
		}
	}()

	start, err := e.api.StartDocumentTextDetection(ctx, &textract.StartDocumentTextDetectionInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(e.stager.Bucket()),
				Name:   aws.String(key),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to start text detection: %w", models.ErrExtractionFailed, err)
	}

	jobID := aws.ToString(start.JobId)
	log := e.logger.With(logger.String("jobId", jobID))
	log.Info("Started textract job", logger.String("key", key))

	lines, err := e.collect(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrExtractionFailed, err)
	}

	log.Info("Textract job finished", logger.Int("lines", len(lines)))
	return strings.Join(lines, "\n"), nil
}

// collect waits for the job and gathers LINE blocks across result pages.
func (e *Extractor) collect(ctx context.Context, jobID string) ([]string, error) {
	var deadline time.Time
	if e.config.MaxWait > 0 {
		deadline = time.Now().Add(e.config.MaxWait)
	}

	var (
		lines     []string
		nextToken *string
	)
	for {
		out, err := e.api.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{
			JobId:     aws.String(jobID),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get text detection results: %w", err)
		}

		switch out.JobStatus {
		case types.JobStatusInProgress:
			if !deadline.IsZero() && time.Now().After(deadline) {
				return nil, ErrJobTimeout
			}
			if err := sleep(ctx, e.config.PollInterval); err != nil {
				return nil, err
			}
			continue
		case types.JobStatusFailed:
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, aws.ToString(out.StatusMessage))
		case types.JobStatusPartialSuccess:
			e.logger.Warn("Textract job partially succeeded",
				logger.String("jobId", jobID),
				logger.String("message", aws.ToString(out.StatusMessage)),
			)
		}

		for _, block := range out.Blocks {
			if block.BlockType == types.BlockTypeLine && block.Text != nil {
				lines = append(lines, *block.Text)
			}
		}

		if out.NextToken == nil || *out.NextToken == "" {
			return lines, nil
		}
		nextToken = out.NextToken
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
