package controller

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightcloud/nightfleet/pkg/objectstore"
	"github.com/nightcloud/nightfleet/pkg/registry"
	"github.com/nightcloud/nightfleet/pkg/types"
)

type fakeCompute struct {
	workers    []string
	launched   int
	desired    int
	terminated []string
}

func (f *fakeCompute) ListWorkers(ctx context.Context) ([]string, error) {
	return f.workers, nil
}

func (f *fakeCompute) LaunchWorkers(ctx context.Context, n int) error {
	f.launched += n
	return nil
}

func (f *fakeCompute) SetDesiredCount(ctx context.Context, n int) error {
	f.desired = n
	return nil
}

func (f *fakeCompute) TerminateWorkers(ctx context.Context, ids []string) error {
	f.terminated = append(f.terminated, ids...)
	return nil
}

func writeAddressFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "addresses.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestController(t *testing.T) (*Controller, *objectstore.MemoryStore, *fakeCompute, *clock.Mock) {
	t.Helper()
	store := objectstore.NewMemoryStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reg := registry.NewClient(store, clk)
	reg.SetBackoff(time.Millisecond, 5*time.Millisecond)
	compute := &fakeCompute{}
	return New(store, reg, compute, clk), store, compute, clk
}

func TestReadAddressFile(t *testing.T) {
	path := writeAddressFile(t, "# fleet addresses\na1\n\na2\n  a3  \n")

	addrs, err := ReadAddressFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "a3"}, addrs)
}

func TestReadAddressFileRejectsDuplicates(t *testing.T) {
	path := writeAddressFile(t, "a1\na2\na1\n")
	_, err := ReadAddressFile(path)
	assert.Error(t, err)
}

func TestReadAddressFileRejectsEmpty(t *testing.T) {
	path := writeAddressFile(t, "# only comments\n\n")
	_, err := ReadAddressFile(path)
	assert.Error(t, err)
}

func TestSeedRegistry(t *testing.T) {
	c, store, _, _ := newTestController(t)
	path := writeAddressFile(t, "a1\na2\na3\na4\n")

	n, err := c.SeedRegistry(context.Background(), path, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	obj, err := store.Get(context.Background(), objectstore.KeyRegistry)
	require.NoError(t, err)
	var reg types.Registry
	require.NoError(t, json.Unmarshal(obj.Data, &reg))
	assert.Len(t, reg.Addresses, 4)
	assert.Equal(t, 2, reg.AddressesPerInstance)
}

func TestMinerCodeRoundTrip(t *testing.T) {
	c, store, _, _ := newTestController(t)

	src := filepath.Join(t.TempDir(), "miner-code.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("pretend archive bytes"), 0644))

	digest, err := c.UploadMinerCode(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	dest := filepath.Join(t.TempDir(), "install", "miner-code.tar.gz")
	require.NoError(t, FetchMinerCode(context.Background(), store, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("pretend archive bytes"), got)
}

func TestFetchMinerCodeRejectsTamperedArchive(t *testing.T) {
	c, store, _, _ := newTestController(t)

	src := filepath.Join(t.TempDir(), "miner-code.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("original"), 0644))
	_, err := c.UploadMinerCode(context.Background(), src)
	require.NoError(t, err)

	// Overwrite the object without refreshing the checksum metadata.
	require.NoError(t, store.Put(context.Background(), objectstore.KeyMinerCode,
		[]byte("tampered"), map[string]string{metaSHA256: "0000"}))

	dest := filepath.Join(t.TempDir(), "miner-code.tar.gz")
	err = FetchMinerCode(context.Background(), store, dest)
	assert.Error(t, err)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no file must be left behind")
}

func TestFetchMinerCodeRequiresChecksum(t *testing.T) {
	_, store, _, _ := newTestController(t)
	require.NoError(t, store.Put(context.Background(), objectstore.KeyMinerCode,
		[]byte("bytes"), nil))

	err := FetchMinerCode(context.Background(), store, filepath.Join(t.TempDir(), "out"))
	assert.Error(t, err)
}

func TestScaleAndLaunch(t *testing.T) {
	c, _, compute, _ := newTestController(t)

	require.NoError(t, c.Launch(context.Background(), 3))
	assert.Equal(t, 3, compute.launched)

	require.NoError(t, c.Scale(context.Background(), 10))
	assert.Equal(t, 10, compute.desired)

	require.NoError(t, c.Terminate(context.Background(), []string{"i-0a", "i-0b"}))
	assert.Equal(t, []string{"i-0a", "i-0b"}, compute.terminated)

	assert.Error(t, c.Launch(context.Background(), 0))
	assert.Error(t, c.Scale(context.Background(), -1))
	assert.Error(t, c.Terminate(context.Background(), nil))
}

func TestStatus(t *testing.T) {
	c, store, _, clk := newTestController(t)
	ctx := context.Background()

	path := writeAddressFile(t, "a1\na2\na3\na4\n")
	_, err := c.SeedRegistry(ctx, path, 2)
	require.NoError(t, err)

	// One worker holds the first slice.
	_, err = c.reg.Update(ctx, registry.AllocatorAttempts, func(r *types.Registry) error {
		now := clk.Now().UTC()
		r.Assignments["w1"] = &types.Assignment{
			WorkerID:     "w1",
			StartAddress: 0,
			EndAddress:   1,
			Addresses:    []string{"a1", "a2"},
			AssignedAt:   now,
		}
		r.NextAvailable = 2
		return nil
	})
	require.NoError(t, err)

	beat := types.Heartbeat{LastHeartbeat: clk.Now().UTC()}
	data, _ := json.Marshal(beat)
	require.NoError(t, store.Put(ctx, objectstore.HeartbeatKey("w1"), data, nil))

	status, err := c.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, status.TotalAddresses)
	assert.Equal(t, 2, status.AssignedAddresses)
	assert.Equal(t, 2, status.NextAvailable)
	require.Len(t, status.Workers, 1)
	assert.Equal(t, "w1", status.Workers[0].WorkerID)
	require.NotNil(t, status.Workers[0].LastHeartbeat)
	assert.Equal(t, clk.Now().UTC(), *status.Workers[0].LastHeartbeat)
}

func TestStatusMissingRegistry(t *testing.T) {
	c, _, _, _ := newTestController(t)
	_, err := c.Status(context.Background())
	assert.ErrorIs(t, err, registry.ErrRegistryMissing)
}

func TestIsSeeded(t *testing.T) {
	c, _, _, _ := newTestController(t)
	ctx := context.Background()

	seeded, err := c.IsSeeded(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)

	path := writeAddressFile(t, "a1\na2\n")
	_, err = c.SeedRegistry(ctx, path, 1)
	require.NoError(t, err)

	seeded, err = c.IsSeeded(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)
}
