package config

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSConfig holds configuration for SQS connection
type SQSConfig struct {
	Region   string `env:"REGION" envDefault:"us-east-1"`
	Prefix   string `env:"PREFIX"`   // Queue URL prefix, e.g. https://sqs.us-east-1.amazonaws.com/123456789012
	Profile  string `env:"PROFILE"`  // Optional AWS profile
	Endpoint string `env:"ENDPOINT"` // Optional endpoint override, e.g. a local emulator
}

// LoadSQSClient builds an SQS client from the default AWS credential chain
func LoadSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
