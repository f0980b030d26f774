package aws

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/powerswitch/internal/ingress"
)

// ReplaceIngress revokes every inbound rule of groupID and authorizes perms.
func (c *Client) ReplaceIngress(ctx context.Context, groupID string, perms []ingress.Permission) error {
	var existing []ec2types.IpPermission
	err := c.track(ctx, "DescribeSecurityGroups", func(ctx context.Context) error {
		out, err := c.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			GroupIds: []string{groupID},
		})
		if err != nil {
			return err
		}
		for _, sg := range out.SecurityGroups {
			existing = append(existing, sg.IpPermissions...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("describe security group %s: %w", groupID, err)
	}

	if len(existing) > 0 {
		err = c.track(ctx, "RevokeSecurityGroupIngress", func(ctx context.Context) error {
			_, err := c.ec2.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
				GroupId:       aws.String(groupID),
				IpPermissions: existing,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("revoke ingress %s: %w", groupID, err)
		}
	}

	if len(perms) == 0 {
		return nil
	}

	err = c.track(ctx, "AuthorizeSecurityGroupIngress", func(ctx context.Context) error {
		_, err := c.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: toIPPermissions(perms),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("authorize ingress %s: %w", groupID, err)
	}
	return nil
}

func toIPPermissions(perms []ingress.Permission) []ec2types.IpPermission {
	out := make([]ec2types.IpPermission, 0, len(perms))
	for _, p := range perms {
		ipp := ec2types.IpPermission{
			IpProtocol: aws.String(p.Protocol),
			FromPort:   aws.Int32(p.FromPort),
			ToPort:     aws.Int32(p.ToPort),
		}
		for _, cidr := range p.CIDRs {
			if prefix, err := netip.ParsePrefix(cidr); err == nil && prefix.Addr().Is6() {
				ipp.Ipv6Ranges = append(ipp.Ipv6Ranges, ec2types.Ipv6Range{CidrIpv6: aws.String(cidr)})
				continue
			}
			ipp.IpRanges = append(ipp.IpRanges, ec2types.IpRange{CidrIp: aws.String(cidr)})
		}
		out = append(out, ipp)
	}
	return out
}
