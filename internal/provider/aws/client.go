// Package aws implements the EC2 compute provider for powerswitch.
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/smithy-go"
)

// Client talks to EC2 in one region.
type Client struct {
	region  string
	ec2     EC2API
	tracker CallTracker
}

// Config holds AWS client configuration.
type Config struct {
	Region  string
	Profile string
}

// New creates a client from the default credential chain.
func New(ctx context.Context, cfg Config, tracker CallTracker) (*Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewWithAPI(cfg.Region, ec2.NewFromConfig(awsCfg), tracker), nil
}

// NewWithAPI wraps an existing EC2 API implementation.
func NewWithAPI(region string, api EC2API, tracker CallTracker) *Client {
	if tracker == nil {
		tracker = noopTracker{}
	}
	return &Client{region: region, ec2: api, tracker: tracker}
}

// Region returns the client region.
func (c *Client) Region() string {
	return c.region
}

func (c *Client) track(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, done := c.tracker.TrackCall(ctx, op)
	err := fn(ctx)
	done(err)
	return err
}

// ErrorCode returns the AWS API error code wrapped in err, or "" when err did
// not come from the API.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
