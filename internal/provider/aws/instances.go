package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/powerswitch/pkg/instance"
)

// InstancesInState returns every instance currently in state, keyed by id.
// Reservations across all pages are flattened; a repeated id keeps the last
// record seen.
func (c *Client) InstancesInState(ctx context.Context, state instance.State) (map[string]instance.Record, error) {
	return c.describe(ctx, []ec2types.Filter{{
		Name:   aws.String("instance-state-name"),
		Values: []string{string(state)},
	}})
}

// DescribeInstances returns the requested instances in any state. Unknown ids
// are absent from the result rather than an error.
func (c *Client) DescribeInstances(ctx context.Context, ids []string) (map[string]instance.Record, error) {
	if len(ids) == 0 {
		return map[string]instance.Record{}, nil
	}
	return c.describe(ctx, []ec2types.Filter{{
		Name:   aws.String("instance-id"),
		Values: ids,
	}})
}

func (c *Client) describe(ctx context.Context, filters []ec2types.Filter) (map[string]instance.Record, error) {
	records := make(map[string]instance.Record)
	var nextToken *string

	for {
		var output *ec2.DescribeInstancesOutput
		err := c.track(ctx, "DescribeInstances", func(ctx context.Context) error {
			var err error
			output, err = c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
				Filters:   filters,
				NextToken: nextToken,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, inst := range reservation.Instances {
				r := convertInstance(inst)
				records[r.ID] = r
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return records, nil
}

// StartInstances starts ids in one call.
func (c *Client) StartInstances(ctx context.Context, ids []string) error {
	err := c.track(ctx, "StartInstances", func(ctx context.Context) error {
		_, err := c.ec2.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: ids})
		return err
	})
	if err != nil {
		return fmt.Errorf("start instances: %w", err)
	}
	return nil
}

// StopInstances stops ids in one call.
func (c *Client) StopInstances(ctx context.Context, ids []string) error {
	err := c.track(ctx, "StopInstances", func(ctx context.Context) error {
		_, err := c.ec2.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: ids})
		return err
	})
	if err != nil {
		return fmt.Errorf("stop instances: %w", err)
	}
	return nil
}

func convertInstance(inst ec2types.Instance) instance.Record {
	r := instance.Record{
		ID:               aws.ToString(inst.InstanceId),
		PublicAddress:    inst.PublicIpAddress,
		SecurityGroupIDs: primaryGroupIDs(inst),
		Tags:             make(map[string]string, len(inst.Tags)),
	}
	if inst.State != nil {
		r.State = instance.State(inst.State.Name)
	}
	if r.PublicAddress != nil && *r.PublicAddress == "" {
		r.PublicAddress = nil
	}
	for _, tag := range inst.Tags {
		r.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return r
}

// primaryGroupIDs lists the groups on the device-index-0 interface, falling
// back to the instance-level group list.
func primaryGroupIDs(inst ec2types.Instance) []string {
	for _, ni := range inst.NetworkInterfaces {
		if ni.Attachment == nil || aws.ToInt32(ni.Attachment.DeviceIndex) != 0 {
			continue
		}
		ids := make([]string, 0, len(ni.Groups))
		for _, g := range ni.Groups {
			ids = append(ids, aws.ToString(g.GroupId))
		}
		return ids
	}

	ids := make([]string, 0, len(inst.SecurityGroups))
	for _, g := range inst.SecurityGroups {
		ids = append(ids, aws.ToString(g.GroupId))
	}
	return ids
}
