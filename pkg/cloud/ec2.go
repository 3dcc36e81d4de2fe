package cloud

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// RoleTag marks fleet worker instances. ListWorkers only sees instances
// carrying this tag, so operator machines and unrelated instances never
// participate in leader election.
const (
	RoleTagKey   = "nightfleet:role"
	RoleTagValue = "worker"
)

// EC2Provider implements ComputeProvider against the EC2 control plane.
// Workers are launched from a named launch template and discovered by tag.
type EC2Provider struct {
	client         *ec2.Client
	launchTemplate string
}

// NewEC2Provider creates a compute provider for the given region. The
// launch template name may be empty when only discovery is needed
// (worker-side leader election).
func NewEC2Provider(ctx context.Context, region, launchTemplate string) (*EC2Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &EC2Provider{
		client:         ec2.NewFromConfig(cfg),
		launchTemplate: launchTemplate,
	}, nil
}

func (p *EC2Provider) ListWorkers(ctx context.Context) ([]string, error) {
	var ids []string
	paginator := ec2.NewDescribeInstancesPaginator(p.client, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + RoleTagKey), Values: []string{RoleTagValue}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe worker instances: %w", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				ids = append(ids, aws.ToString(inst.InstanceId))
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *EC2Provider) LaunchWorkers(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if p.launchTemplate == "" {
		return fmt.Errorf("no launch template configured")
	}
	_, err := p.client.RunInstances(ctx, &ec2.RunInstancesInput{
		MinCount: aws.Int32(int32(n)),
		MaxCount: aws.Int32(int32(n)),
		LaunchTemplate: &ec2types.LaunchTemplateSpecification{
			LaunchTemplateName: aws.String(p.launchTemplate),
		},
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String(RoleTagKey), Value: aws.String(RoleTagValue)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to launch %d workers: %w", n, err)
	}
	return nil
}

func (p *EC2Provider) SetDesiredCount(ctx context.Context, n int) error {
	live, err := p.ListWorkers(ctx)
	if err != nil {
		return err
	}
	switch {
	case len(live) < n:
		return p.LaunchWorkers(ctx, n-len(live))
	case len(live) > n:
		// ListWorkers sorts; terminate from the tail so the election
		// leader (lowest ID) survives scale-down when possible.
		return p.TerminateWorkers(ctx, live[n:])
	}
	return nil
}

func (p *EC2Provider) TerminateWorkers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: ids,
	})
	if err != nil {
		return fmt.Errorf("failed to terminate workers: %w", err)
	}
	return nil
}

var _ ComputeProvider = (*EC2Provider)(nil)
