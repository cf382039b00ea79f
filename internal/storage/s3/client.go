package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wukibaka/cloudpaste/pkg/types"
)

// newClient builds an S3 client for one stored configuration with its
// already-decrypted secret. Custom endpoints and path-style addressing cover
// non-AWS providers (MinIO, R2, Backblaze and friends).
func newClient(ctx context.Context, cfg *types.S3Config, secretKey string) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		// Providers that ignore the region still require one for signing.
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, secretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
	})
	return client, nil
}
