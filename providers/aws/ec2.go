package aws

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/driftwood-io/driftwood/internal/provider"
)

// lookupAmi resolves the most recent image matching owners + namePattern.
// The result is a read-only binding: nothing is provisioned.
func (p *Provider) lookupAmi(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	input := &ec2.DescribeImagesInput{
		Owners: strSliceAttr(req.Attributes, "owners"),
	}
	if pattern := strAttr(req.Attributes, "namePattern"); pattern != "" {
		input.Filters = append(input.Filters, ec2types.Filter{
			Name:   aws.String("name"),
			Values: []string{pattern},
		})
	}
	input.Filters = append(input.Filters, ec2types.Filter{
		Name:   aws.String("state"),
		Values: []string{"available"},
	})

	out, err := p.ec2.DescribeImages(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("AMI lookup failed: %w", err)
	}
	if len(out.Images) == 0 {
		return nil, fmt.Errorf("AMI lookup matched no images")
	}

	images := out.Images
	sort.Slice(images, func(i, j int) bool {
		return aws.ToString(images[i].CreationDate) > aws.ToString(images[j].CreationDate)
	})
	newest := images[0]

	return &provider.CreateResponse{
		ID: aws.ToString(newest.ImageId),
		Outputs: map[string]any{
			"name":         aws.ToString(newest.Name),
			"creationDate": aws.ToString(newest.CreationDate),
		},
	}, nil
}

func (p *Provider) createSecurityGroup(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	out, err := p.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(req.Name),
		Description: aws.String(strAttr(req.Attributes, "description")),
		VpcId:       aws.String(strAttr(req.Attributes, "vpc")),
	})
	if err != nil {
		return nil, fmt.Errorf("create security group %s: %w", req.Name, err)
	}
	id := aws.ToString(out.GroupId)

	perms := ingressPermissions(req.Attributes)
	if len(perms) > 0 {
		_, err = p.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(id),
			IpPermissions: perms,
		})
		if err != nil {
			return nil, fmt.Errorf("authorize ingress on %s: %w", req.Name, err)
		}
	}

	return &provider.CreateResponse{ID: id}, nil
}

// updateSecurityGroup handles mutable attributes (tags, description is
// immutable at the API level but not identity-bearing for us).
func (p *Provider) updateSecurityGroup(ctx context.Context, req *provider.UpdateRequest) (*provider.UpdateResponse, error) {
	return &provider.UpdateResponse{}, nil
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, id string) error {
	_, err := p.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(id),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete security group %s: %w", id, err)
	}
	return nil
}

func (p *Provider) readSecurityGroup(ctx context.Context, id string) (*provider.ReadResponse, error) {
	out, err := p.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{id},
	})
	if err != nil {
		if isNotFound(err) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, err
	}
	if len(out.SecurityGroups) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	return &provider.ReadResponse{Exists: true, Ready: true}, nil
}

func (p *Provider) createLaunchTemplate(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	out, err := p.ec2.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
		LaunchTemplateName: aws.String(req.Name),
		LaunchTemplateData: launchTemplateData(req.Attributes),
	})
	if err != nil {
		return nil, fmt.Errorf("create launch template %s: %w", req.Name, err)
	}
	return &provider.CreateResponse{
		ID: aws.ToString(out.LaunchTemplate.LaunchTemplateId),
		Outputs: map[string]any{
			"latestVersion": aws.ToInt64(out.LaunchTemplate.LatestVersionNumber),
		},
	}, nil
}

// updateLaunchTemplate publishes a new default version with the changed
// mutable attributes (instance type, security groups, user data).
func (p *Provider) updateLaunchTemplate(ctx context.Context, req *provider.UpdateRequest) (*provider.UpdateResponse, error) {
	out, err := p.ec2.CreateLaunchTemplateVersion(ctx, &ec2.CreateLaunchTemplateVersionInput{
		LaunchTemplateId:   aws.String(req.ID),
		LaunchTemplateData: launchTemplateData(req.Attributes),
	})
	if err != nil {
		return nil, fmt.Errorf("create launch template version for %s: %w", req.ID, err)
	}
	version := aws.ToInt64(out.LaunchTemplateVersion.VersionNumber)

	_, err = p.ec2.ModifyLaunchTemplate(ctx, &ec2.ModifyLaunchTemplateInput{
		LaunchTemplateId: aws.String(req.ID),
		DefaultVersion:   aws.String(fmt.Sprintf("%d", version)),
	})
	if err != nil {
		return nil, fmt.Errorf("set default launch template version for %s: %w", req.ID, err)
	}

	return &provider.UpdateResponse{
		Outputs: map[string]any{"latestVersion": version},
	}, nil
}

func (p *Provider) deleteLaunchTemplate(ctx context.Context, id string) error {
	_, err := p.ec2.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{
		LaunchTemplateId: aws.String(id),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete launch template %s: %w", id, err)
	}
	return nil
}

func (p *Provider) readLaunchTemplate(ctx context.Context, id string) (*provider.ReadResponse, error) {
	out, err := p.ec2.DescribeLaunchTemplates(ctx, &ec2.DescribeLaunchTemplatesInput{
		LaunchTemplateIds: []string{id},
	})
	if err != nil {
		if isNotFound(err) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, err
	}
	if len(out.LaunchTemplates) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	return &provider.ReadResponse{Exists: true, Ready: true}, nil
}

func (p *Provider) createInstance(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	input := &ec2.RunInstancesInput{
		MinCount: aws.Int32(1),
		MaxCount: aws.Int32(1),
	}
	if lt := strAttr(req.Attributes, "launchTemplate"); lt != "" {
		input.LaunchTemplate = &ec2types.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(lt),
		}
	}
	if subnet := strAttr(req.Attributes, "subnet"); subnet != "" {
		input.SubnetId = aws.String(subnet)
	}

	out, err := p.ec2.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("run instance %s: %w", req.Name, err)
	}
	if len(out.Instances) == 0 {
		return nil, fmt.Errorf("run instance %s returned no instances", req.Name)
	}

	inst := out.Instances[0]
	return &provider.CreateResponse{
		ID: aws.ToString(inst.InstanceId),
		Outputs: map[string]any{
			"privateIp": aws.ToString(inst.PrivateIpAddress),
			"az":        aws.ToString(inst.Placement.AvailabilityZone),
		},
	}, nil
}

func (p *Provider) terminateInstance(ctx context.Context, id string) error {
	_, err := p.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("terminate instance %s: %w", id, err)
	}
	return nil
}

func (p *Provider) readInstance(ctx context.Context, id string) (*provider.ReadResponse, error) {
	out, err := p.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		if isNotFound(err) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, err
	}
	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if aws.ToString(inst.InstanceId) != id {
				continue
			}
			name := inst.State.Name
			if name == ec2types.InstanceStateNameTerminated || name == ec2types.InstanceStateNameShuttingDown {
				return &provider.ReadResponse{Exists: false}, nil
			}
			return &provider.ReadResponse{
				Exists: true,
				Ready:  name == ec2types.InstanceStateNameRunning,
			}, nil
		}
	}
	return &provider.ReadResponse{Exists: false}, nil
}

// ingressPermissions maps the "ingress" attribute (list of {protocol,
// fromPort, toPort, cidrs}) to EC2 IP permissions.
func ingressPermissions(attrs map[string]any) []ec2types.IpPermission {
	raw, ok := attrs["ingress"].([]any)
	if !ok {
		return nil
	}
	var perms []ec2types.IpPermission
	for _, item := range raw {
		rule, ok := item.(map[string]any)
		if !ok {
			continue
		}
		perm := ec2types.IpPermission{
			IpProtocol: aws.String(strAttr(rule, "protocol")),
			FromPort:   aws.Int32(intAttr(rule, "fromPort")),
			ToPort:     aws.Int32(intAttr(rule, "toPort")),
		}
		for _, cidr := range strSliceAttr(rule, "cidrs") {
			perm.IpRanges = append(perm.IpRanges, ec2types.IpRange{CidrIp: aws.String(cidr)})
		}
		perms = append(perms, perm)
	}
	return perms
}

func launchTemplateData(attrs map[string]any) *ec2types.RequestLaunchTemplateData {
	data := &ec2types.RequestLaunchTemplateData{}
	if ami := strAttr(attrs, "ami"); ami != "" {
		data.ImageId = aws.String(ami)
	}
	if it := strAttr(attrs, "instanceType"); it != "" {
		data.InstanceType = ec2types.InstanceType(it)
	}
	if sgs := strSliceAttr(attrs, "securityGroups"); len(sgs) > 0 {
		data.SecurityGroupIds = sgs
	}
	if ud := strAttr(attrs, "userData"); ud != "" {
		data.UserData = aws.String(ud)
	}
	return data
}

// isNotFound matches the NotFound error code family across EC2 APIs.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, ".Malformed")
}
