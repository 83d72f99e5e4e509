package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"

	"github.com/driftwood-io/driftwood/internal/provider"
)

func (p *Provider) createScalingGroup(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	input := &autoscaling.CreateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(req.Name),
		MinSize:              aws.Int32(intAttr(req.Attributes, "minSize")),
		MaxSize:              aws.Int32(intAttr(req.Attributes, "maxSize")),
		DesiredCapacity:      aws.Int32(intAttr(req.Attributes, "desiredCapacity")),
	}
	if lt := strAttr(req.Attributes, "launchTemplate"); lt != "" {
		input.LaunchTemplate = &asgtypes.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(lt),
		}
	}
	if subnets := strSliceAttr(req.Attributes, "subnets"); len(subnets) > 0 {
		input.VPCZoneIdentifier = aws.String(strings.Join(subnets, ","))
	}
	if grace := intAttr(req.Attributes, "healthCheckGracePeriod"); grace > 0 {
		input.HealthCheckGracePeriod = aws.Int32(grace)
	}
	if tgs := strSliceAttr(req.Attributes, "targetGroups"); len(tgs) > 0 {
		input.TargetGroupARNs = tgs
	}

	_, err := p.asg.CreateAutoScalingGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create scaling group %s: %w", req.Name, err)
	}

	// The group name is its identity; there is no separate id.
	return &provider.CreateResponse{ID: req.Name}, nil
}

func (p *Provider) updateScalingGroup(ctx context.Context, req *provider.UpdateRequest) (*provider.UpdateResponse, error) {
	input := &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(req.ID),
		MinSize:              aws.Int32(intAttr(req.Attributes, "minSize")),
		MaxSize:              aws.Int32(intAttr(req.Attributes, "maxSize")),
		DesiredCapacity:      aws.Int32(intAttr(req.Attributes, "desiredCapacity")),
	}
	if lt := strAttr(req.Attributes, "launchTemplate"); lt != "" {
		input.LaunchTemplate = &asgtypes.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(lt),
		}
	}
	if grace := intAttr(req.Attributes, "healthCheckGracePeriod"); grace > 0 {
		input.HealthCheckGracePeriod = aws.Int32(grace)
	}

	_, err := p.asg.UpdateAutoScalingGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("update scaling group %s: %w", req.ID, err)
	}
	return &provider.UpdateResponse{}, nil
}

func (p *Provider) deleteScalingGroup(ctx context.Context, id string) error {
	_, err := p.asg.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(id),
		ForceDelete:          aws.Bool(true),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete scaling group %s: %w", id, err)
	}
	return nil
}

func (p *Provider) readScalingGroup(ctx context.Context, id string) (*provider.ReadResponse, error) {
	out, err := p.asg.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{id},
	})
	if err != nil {
		if isNotFound(err) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, err
	}
	if len(out.AutoScalingGroups) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}

	group := out.AutoScalingGroups[0]
	inService := 0
	for _, inst := range group.Instances {
		if inst.LifecycleState == asgtypes.LifecycleStateInService {
			inService++
		}
	}
	desired := int(aws.ToInt32(group.DesiredCapacity))

	return &provider.ReadResponse{
		Exists: true,
		Ready:  inService >= desired,
		Outputs: map[string]any{
			"inService": inService,
		},
	}, nil
}
