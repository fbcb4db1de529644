// Package aws provides an AWS SNS/SQS transport for pipeflow. Each topic maps
// to an SNS topic and every receiver reads from an SQS queue named after it.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/pipeflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

// Register adds the AWS transport to r.
func Register(r *transport.Registry) {
	r.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// Build creates a new AWS SNS/SQS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	endpoint, err := endpointURL(cfg.GetAWSEndpoint())
	if err != nil {
		return transport.Transport{}, err
	}

	awsCfg, err := loadConfig(ctx, cfg)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": cfg.GetAWSRegion()})
		return transport.Transport{}, err
	}

	accountID := resolveAccountID(cfg.GetAWSAccountID(), endpoint != nil, logger)
	logger.Info("Building AWS transport", watermill.LogFields{
		"account_id":      accountID,
		"region":          awsCfg.Region,
		"custom_endpoint": endpoint != nil,
	})

	topicResolver, err := TopicResolverFactory(accountID, awsCfg.Region)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("aws: topic resolver: %w", err)
	}
	snsOpts, sqsOpts := endpointOptions(endpoint)

	publisher, err := PublisherFactory(sns.PublisherConfig{
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		TopicResolver: topicResolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		sns.SubscriberConfig{
			AWSConfig:            awsCfg,
			OptFns:               snsOpts,
			TopicResolver:        topicResolver,
			GenerateSqsQueueName: queueNameFromTopic,
		},
		sqs.SubscriberConfig{
			AWSConfig: awsCfg,
			OptFns:    sqsOpts,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

func loadConfig(ctx context.Context, cfg transport.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	region := cfg.GetAWSRegion()
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, ""),
		))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	// Some loaders ignore the region option.
	if region != "" {
		awsCfg.Region = region
	}
	return awsCfg, nil
}

// resolveAccountID falls back to the LocalStack account when a custom
// endpoint is used without a valid account ID.
func resolveAccountID(raw string, customEndpoint bool, logger watermill.LoggerAdapter) string {
	accountID := strings.Trim(raw, "\"' ")
	if !customEndpoint || len(accountID) == awsAccountIDLength {
		return accountID
	}
	logger.Info("Using LocalStack account ID", watermill.LogFields{"configured": accountID})
	return localstackAccountID
}

func endpointURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("aws: parse endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("aws: endpoint %q must be an absolute URL", raw)
	}
	return parsed, nil
}

func endpointOptions(endpoint *url.URL) ([]func(*amazonsns.Options), []func(*amazonsqs.Options)) {
	if endpoint == nil {
		return nil, nil
	}
	resolved := smithyendpoints.Endpoint{URI: *endpoint}
	return []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: resolved}),
		}, []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: resolved}),
		}
}

func queueNameFromTopic(ctx context.Context, topicArn sns.TopicArn) (string, error) {
	topic, err := sns.ExtractTopicNameFromTopicArn(topicArn)
	if err != nil {
		return "", err
	}
	return string(topic), nil
}
