// Package aws binds the web-tier resource types to AWS. It covers the
// surface the engine needs (security groups, launch templates, instances,
// load balancers, target groups, scaling groups, AMI lookup) plus the
// CloudWatch metric source and target-group health source consumed by the
// autoscaling controller.
package aws

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"

	"github.com/driftwood-io/driftwood/internal/provider"
)

// Resource types handled by this provider.
const (
	TypeAmiLookup        = "aws.AmiLookup"
	TypeSecurityGroup    = "aws.SecurityGroup"
	TypeLaunchTemplate   = "aws.LaunchTemplate"
	TypeInstance         = "aws.Instance"
	TypeLoadBalancer     = "aws.LoadBalancer"
	TypeTargetGroup      = "aws.TargetGroup"
	TypeAutoScalingGroup = "aws.AutoScalingGroup"
)

type Provider struct {
	ec2    *ec2.Client
	elb    *elbv2.Client
	asg    *autoscaling.Client
	cw     *cloudwatch.Client
	region string
}

// New builds a provider from the default AWS credential chain.
func New(ctx context.Context, region string) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &Provider{
		ec2:    ec2.NewFromConfig(cfg),
		elb:    elbv2.NewFromConfig(cfg),
		asg:    autoscaling.NewFromConfig(cfg),
		cw:     cloudwatch.NewFromConfig(cfg),
		region: cfg.Region,
	}, nil
}

var schemas = map[string]map[string]bool{
	TypeAmiLookup:      {"owners": true, "namePattern": true},
	TypeSecurityGroup:  {"ingress": true, "vpc": true},
	TypeLaunchTemplate: {"ami": true},
	TypeInstance:       {"launchTemplate": true, "subnet": true},
	TypeLoadBalancer:   {"scheme": true, "type": true},
	TypeTargetGroup:    {"port": true, "protocol": true, "vpc": true},
}

func (p *Provider) Schema(resourceType string) (*provider.Schema, error) {
	return &provider.Schema{
		Type:      resourceType,
		Immutable: schemas[resourceType],
	}, nil
}

func (p *Provider) Create(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	switch req.Type {
	case TypeAmiLookup:
		return p.lookupAmi(ctx, req)
	case TypeSecurityGroup:
		return p.createSecurityGroup(ctx, req)
	case TypeLaunchTemplate:
		return p.createLaunchTemplate(ctx, req)
	case TypeInstance:
		return p.createInstance(ctx, req)
	case TypeLoadBalancer:
		return p.createLoadBalancer(ctx, req)
	case TypeTargetGroup:
		return p.createTargetGroup(ctx, req)
	case TypeAutoScalingGroup:
		return p.createScalingGroup(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported resource type: %s", req.Type)
	}
}

func (p *Provider) Update(ctx context.Context, req *provider.UpdateRequest) (*provider.UpdateResponse, error) {
	switch req.Type {
	case TypeSecurityGroup:
		return p.updateSecurityGroup(ctx, req)
	case TypeLaunchTemplate:
		return p.updateLaunchTemplate(ctx, req)
	case TypeLoadBalancer, TypeTargetGroup:
		// Mutable attributes on these types are tags only; nothing to push.
		return &provider.UpdateResponse{}, nil
	case TypeAutoScalingGroup:
		return p.updateScalingGroup(ctx, req)
	default:
		return nil, fmt.Errorf("type %s does not support in-place update", req.Type)
	}
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	switch req.Type {
	case TypeAmiLookup:
		return nil // lookup results own nothing
	case TypeSecurityGroup:
		return p.deleteSecurityGroup(ctx, req.ID)
	case TypeLaunchTemplate:
		return p.deleteLaunchTemplate(ctx, req.ID)
	case TypeInstance:
		return p.terminateInstance(ctx, req.ID)
	case TypeLoadBalancer:
		return p.deleteLoadBalancer(ctx, req.ID)
	case TypeTargetGroup:
		return p.deleteTargetGroup(ctx, req.ID)
	case TypeAutoScalingGroup:
		return p.deleteScalingGroup(ctx, req.ID)
	default:
		return fmt.Errorf("unsupported resource type: %s", req.Type)
	}
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	switch req.Type {
	case TypeAmiLookup:
		return &provider.ReadResponse{Exists: true, Ready: true}, nil
	case TypeSecurityGroup:
		return p.readSecurityGroup(ctx, req.ID)
	case TypeLaunchTemplate:
		return p.readLaunchTemplate(ctx, req.ID)
	case TypeInstance:
		return p.readInstance(ctx, req.ID)
	case TypeLoadBalancer:
		return p.readLoadBalancer(ctx, req.ID)
	case TypeTargetGroup:
		return p.readTargetGroup(ctx, req.ID)
	case TypeAutoScalingGroup:
		return p.readScalingGroup(ctx, req.ID)
	default:
		return nil, fmt.Errorf("unsupported resource type: %s", req.Type)
	}
}

// attribute helpers

func strAttr(attrs map[string]any, key string) string {
	v, _ := attrs[key].(string)
	return v
}

func strSliceAttr(attrs map[string]any, key string) []string {
	raw, ok := attrs[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intAttr(attrs map[string]any, key string) int32 {
	switch v := attrs[key].(type) {
	case int:
		return int32(v)
	case int32:
		return v
	case int64:
		return int32(v)
	case float64:
		return int32(v)
	default:
		return 0
	}
}
