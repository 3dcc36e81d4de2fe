package cloud

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// IMDSMetadata resolves worker identity from the EC2 instance metadata
// service (IMDSv2, token-protected).
type IMDSMetadata struct {
	client *imds.Client
}

// NewIMDSMetadata creates a metadata provider backed by the instance
// metadata endpoint.
func NewIMDSMetadata(ctx context.Context) (*IMDSMetadata, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &IMDSMetadata{client: imds.NewFromConfig(cfg)}, nil
}

func (m *IMDSMetadata) metadata(ctx context.Context, path string) (string, error) {
	out, err := m.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return "", fmt.Errorf("imds %s: %w", path, err)
	}
	defer out.Content.Close()
	data, err := io.ReadAll(out.Content)
	if err != nil {
		return "", fmt.Errorf("imds %s read: %w", path, err)
	}
	return string(data), nil
}

func (m *IMDSMetadata) WorkerID(ctx context.Context) (string, error) {
	return m.metadata(ctx, "instance-id")
}

func (m *IMDSMetadata) Region(ctx context.Context) (string, error) {
	out, err := m.client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("imds region: %w", err)
	}
	return out.Region, nil
}

// PublicEndpoint returns the instance's public hostname, or an empty string
// when the instance has none (private-subnet workers).
func (m *IMDSMetadata) PublicEndpoint(ctx context.Context) (string, error) {
	host, err := m.metadata(ctx, "public-hostname")
	if err != nil {
		return "", nil
	}
	return host, nil
}

func (m *IMDSMetadata) AccountID(ctx context.Context) (string, error) {
	out, err := m.client.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return "", fmt.Errorf("imds identity document: %w", err)
	}
	return out.AccountID, nil
}

var _ MetadataProvider = (*IMDSMetadata)(nil)
