package cloud

import "context"

// MetadataProvider tells a worker who and where it is. Production workers
// use the instance metadata service; tests and local runs inject static
// values.
type MetadataProvider interface {
	WorkerID(ctx context.Context) (string, error)
	Region(ctx context.Context) (string, error)
	PublicEndpoint(ctx context.Context) (string, error)
	AccountID(ctx context.Context) (string, error)
}

// ComputeProvider is the minimal control-plane surface the coordinator
// needs: peer discovery for leader election plus operator scaling actions.
type ComputeProvider interface {
	// ListWorkers returns the IDs of live worker instances in the region.
	ListWorkers(ctx context.Context) ([]string, error)

	// LaunchWorkers starts n additional worker instances.
	LaunchWorkers(ctx context.Context, n int) error

	// SetDesiredCount launches or terminates workers until the live count
	// matches n.
	SetDesiredCount(ctx context.Context, n int) error

	// TerminateWorkers terminates the given instances.
	TerminateWorkers(ctx context.Context, ids []string) error
}

// StaticMetadata is a MetadataProvider with fixed values, for workstation
// runs and tests.
type StaticMetadata struct {
	ID       string
	Zone     string
	Endpoint string
	Account  string
}

func (s StaticMetadata) WorkerID(ctx context.Context) (string, error) {
	return s.ID, nil
}

func (s StaticMetadata) Region(ctx context.Context) (string, error) {
	return s.Zone, nil
}

func (s StaticMetadata) PublicEndpoint(ctx context.Context) (string, error) {
	return s.Endpoint, nil
}

func (s StaticMetadata) AccountID(ctx context.Context) (string, error) {
	return s.Account, nil
}
