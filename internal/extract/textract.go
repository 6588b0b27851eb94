package extract

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/studyforge/material-pipeline/pkg/logger"
)

// TextractExtractor runs OCR on uploaded images through AWS Textract.
type TextractExtractor struct {
	client *textract.Client
	logger logger.Logger
	cfg    *TextractConfig
}

type TextractConfig struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

func NewTextractExtractor(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractExtractor, error) {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKey,
		cfg.SecretKey,
		"",
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &TextractExtractor{
		client: textract.NewFromConfig(awsCfg),
		logger: log,
		cfg:    cfg,
	}, nil
}

func (t *TextractExtractor) Extract(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	result, err := t.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{
			Bytes: data,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to detect text: %w", err)
	}

	lines := make([]string, 0, len(result.Blocks))
	for _, block := range result.Blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < t.cfg.MinConfidence {
			continue
		}
		lines = append(lines, *block.Text)
	}

	t.logger.Debug("Textract OCR finished",
		logger.Int("blocks", len(result.Blocks)),
		logger.Int("lines", len(lines)),
	)
	return strings.Join(lines, "\n"), nil
}
