package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/driftwood-io/driftwood/internal/ir"
	"github.com/driftwood-io/driftwood/internal/provider"
)

func (p *Provider) createLoadBalancer(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	input := &elbv2.CreateLoadBalancerInput{
		Name:           aws.String(req.Name),
		Subnets:        strSliceAttr(req.Attributes, "subnets"),
		SecurityGroups: strSliceAttr(req.Attributes, "securityGroups"),
		Type:           elbv2types.LoadBalancerTypeEnumApplication,
	}
	if strAttr(req.Attributes, "scheme") == "internal" {
		input.Scheme = elbv2types.LoadBalancerSchemeEnumInternal
	} else {
		input.Scheme = elbv2types.LoadBalancerSchemeEnumInternetFacing
	}

	out, err := p.elb.CreateLoadBalancer(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create load balancer %s: %w", req.Name, err)
	}
	if len(out.LoadBalancers) == 0 {
		return nil, fmt.Errorf("create load balancer %s returned nothing", req.Name)
	}

	lb := out.LoadBalancers[0]
	return &provider.CreateResponse{
		ID: aws.ToString(lb.LoadBalancerArn),
		Outputs: map[string]any{
			"dnsName": aws.ToString(lb.DNSName),
		},
	}, nil
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, id string) error {
	_, err := p.elb.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{
		LoadBalancerArn: aws.String(id),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete load balancer %s: %w", id, err)
	}
	return nil
}

func (p *Provider) readLoadBalancer(ctx context.Context, id string) (*provider.ReadResponse, error) {
	out, err := p.elb.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{id},
	})
	if err != nil {
		if isNotFound(err) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, err
	}
	if len(out.LoadBalancers) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	lb := out.LoadBalancers[0]
	return &provider.ReadResponse{
		Exists: true,
		Ready:  lb.State != nil && lb.State.Code == elbv2types.LoadBalancerStateEnumActive,
		Outputs: map[string]any{
			"dnsName": aws.ToString(lb.DNSName),
		},
	}, nil
}

func (p *Provider) createTargetGroup(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	input := &elbv2.CreateTargetGroupInput{
		Name:     aws.String(req.Name),
		Port:     aws.Int32(intAttr(req.Attributes, "port")),
		Protocol: elbv2types.ProtocolEnum(strAttr(req.Attributes, "protocol")),
		VpcId:    aws.String(strAttr(req.Attributes, "vpc")),
	}
	if path := strAttr(req.Attributes, "healthCheckPath"); path != "" {
		input.HealthCheckPath = aws.String(path)
	}

	out, err := p.elb.CreateTargetGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create target group %s: %w", req.Name, err)
	}
	if len(out.TargetGroups) == 0 {
		return nil, fmt.Errorf("create target group %s returned nothing", req.Name)
	}

	return &provider.CreateResponse{
		ID: aws.ToString(out.TargetGroups[0].TargetGroupArn),
	}, nil
}

func (p *Provider) deleteTargetGroup(ctx context.Context, id string) error {
	_, err := p.elb.DeleteTargetGroup(ctx, &elbv2.DeleteTargetGroupInput{
		TargetGroupArn: aws.String(id),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete target group %s: %w", id, err)
	}
	return nil
}

func (p *Provider) readTargetGroup(ctx context.Context, id string) (*provider.ReadResponse, error) {
	out, err := p.elb.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{
		TargetGroupArns: []string{id},
	})
	if err != nil {
		if isNotFound(err) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, err
	}
	if len(out.TargetGroups) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	return &provider.ReadResponse{Exists: true, Ready: true}, nil
}

// TargetGroupHealth adapts DescribeTargetHealth to the controller's health
// source. Group names are mapped to target group ARNs at construction.
type TargetGroupHealth struct {
	client *elbv2.Client
	arns   map[string]string // group name -> target group ARN
}

func NewTargetGroupHealth(p *Provider, arns map[string]string) *TargetGroupHealth {
	return &TargetGroupHealth{client: p.elb, arns: arns}
}

func (h *TargetGroupHealth) Signals(ctx context.Context, group string) ([]ir.HealthSignal, error) {
	arn, ok := h.arns[group]
	if !ok {
		return nil, fmt.Errorf("no target group registered for %s", group)
	}

	out, err := h.client.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("describe target health for %s: %w", group, err)
	}

	signals := make([]ir.HealthSignal, 0, len(out.TargetHealthDescriptions))
	for _, desc := range out.TargetHealthDescriptions {
		if desc.Target == nil || desc.TargetHealth == nil {
			continue
		}
		signals = append(signals, ir.HealthSignal{
			MemberID: aws.ToString(desc.Target.Id),
			Healthy:  desc.TargetHealth.State == elbv2types.TargetHealthStateEnumHealthy,
			Source:   ir.HealthSourceLoadBalancer,
		})
	}
	return signals, nil
}
