package subarray

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/radioastro/subarray-core/internal/infrastructure/config"
	"github.com/radioastro/subarray-core/internal/infrastructure/logging"
	"github.com/radioastro/subarray-core/internal/observing"
	"github.com/radioastro/subarray-core/internal/sbi"
	"github.com/radioastro/subarray-core/internal/schema"
)

// memStore is an in-memory SnapshotStore for tests.
type memStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]Snapshot)}
}

func (m *memStore) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = *snap
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return &snap, nil
}

func (m *memStore) List(_ context.Context) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.snaps))
	for _, snap := range m.snaps {
		out = append(out, snap)
	}
	return out, nil
}

// flakyStore is a memStore whose Save can be made to fail on demand.
type flakyStore struct {
	*memStore
	fail bool
}

func (f *flakyStore) Save(ctx context.Context, snap *Snapshot) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.memStore.Save(ctx, snap)
}

// failingStore rejects every Save; Get behaves like an empty store.
type failingStore struct{}

func (failingStore) Save(context.Context, *Snapshot) error { return errors.New("disk full") }
func (failingStore) Get(context.Context, string) (*Snapshot, error) {
	return nil, ErrSnapshotNotFound
}
func (failingStore) List(context.Context) ([]Snapshot, error) { return nil, nil }

// fakeEvents records published attribute changes as "entity/attribute/value".
type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) PublishPowerState(entity string, state observing.PowerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, entity+"/power_state/"+state.String())
}

func (f *fakeEvents) PublishObsState(entity string, state observing.ObsState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, entity+"/obs_state/"+state.String())
}

func (f *fakeEvents) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// fakeRecorder records command telemetry calls.
type fakeRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeRecorder) RecordCommand(entity string, cmd observing.Command, _, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, fmt.Sprintf("%s/%s/%s", entity, cmd, outcome))
}

func (f *fakeRecorder) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.entries...)
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func newTestService(t *testing.T, store SnapshotStore) (*Service, *fakeEvents, *fakeRecorder) {
	t.Helper()
	registry, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	events := &fakeEvents{}
	recorder := &fakeRecorder{}
	svc := NewService(Config{
		Registry: registry,
		Store:    store,
		Events:   events,
		Recorder: recorder,
		Logger:   testLogger(),
	})
	return svc, events, recorder
}

// assignPayload builds a 0.3 AssignResources payload with one realtime and
// one batch processing block.
func assignPayload(ebID, rtID, batchID string) []byte {
	return []byte(`{
		"interface": "https://schema.radioastro.dev/sdp-assignres/0.3",
		"eb_id": "` + ebID + `",
		"max_length": 3600.0,
		"scan_types": [
			{"scan_type_id": "science", "reference_frame": "ICRS", "ra": "02:42:40.77", "dec": "-00:00:47.84"}
		],
		"processing_blocks": [
			{
				"pb_id": "` + rtID + `",
				"workflow": {"kind": "realtime", "name": "vis_receive", "version": "0.2.1"},
				"parameters": {}
			},
			{
				"pb_id": "` + batchID + `",
				"workflow": {"kind": "batch", "name": "ical", "version": "0.1.0"},
				"parameters": {},
				"dependencies": [{"pb_id": "` + rtID + `", "kind": ["visibilities"]}]
			}
		]
	}`)
}

var (
	configurePayload = []byte(`{
		"interface": "https://schema.radioastro.dev/sdp-configure/0.3",
		"scan_type": "science"
	}`)
	scanPayload = []byte(`{
		"interface": "https://schema.radioastro.dev/sdp-scan/0.3",
		"scan_id": 1
	}`)
)

// turnOn drives a freshly added subarray to ON.
func turnOn(t *testing.T, svc *Service, id string) {
	t.Helper()
	if _, err := svc.Execute(context.Background(), id, observing.CommandOn, nil); err != nil {
		t.Fatalf("On failed: %v", err)
	}
}

func TestService_AddAndGet(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	sub, err := svc.Add(ctx, "subarray-01")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if sub.PowerState() != observing.PowerOff {
		t.Errorf("initial power state = %s, want OFF", sub.PowerState())
	}
	if sub.ObsState() != observing.ObsEmpty {
		t.Errorf("initial obs state = %s, want EMPTY", sub.ObsState())
	}
	if sub.HealthState() != observing.HealthOK {
		t.Errorf("initial health = %s, want OK", sub.HealthState())
	}
	if sub.ScanType() != NoScanType {
		t.Errorf("initial scan type = %q, want %q", sub.ScanType(), NoScanType)
	}
	if sub.ScanID() != 0 {
		t.Errorf("initial scan id = %d, want 0", sub.ScanID())
	}
	if len(sub.AssignedResources()) != 0 {
		t.Errorf("initial assigned resources = %v, want empty", sub.AssignedResources())
	}

	if _, err := svc.Add(ctx, "subarray-01"); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Add = %v, want ErrExists", err)
	}
	if _, err := svc.Get("subarray-99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestService_ExecuteUnknownSubarray(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if _, err := svc.Execute(context.Background(), "subarray-99", observing.CommandOn, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Execute = %v, want ErrNotFound", err)
	}
}

func TestService_PowerCommands(t *testing.T) {
	svc, events, _ := newTestService(t, nil)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")

	// Standby from OFF.
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandStandby, nil); err != nil {
		t.Fatalf("Standby failed: %v", err)
	}
	if sub.PowerState() != observing.PowerStandby {
		t.Errorf("power = %s, want STANDBY", sub.PowerState())
	}

	// Standby again is rejected from its own resulting state.
	_, err := svc.Execute(ctx, "subarray-01", observing.CommandStandby, nil)
	if !errors.Is(err, observing.ErrInvalidState) {
		t.Fatalf("repeated Standby = %v, want ErrInvalidState", err)
	}
	if sub.PowerState() != observing.PowerStandby {
		t.Errorf("rejected command mutated power state: %s", sub.PowerState())
	}

	// On activates the observing machine.
	turnOn(t, svc, "subarray-01")
	if sub.PowerState() != observing.PowerOn {
		t.Errorf("power = %s, want ON", sub.PowerState())
	}
	if sub.ObsState() != observing.ObsEmpty {
		t.Errorf("obs = %s, want EMPTY after activation", sub.ObsState())
	}

	got := events.all()
	want := []string{
		"subarray-01/power_state/STANDBY",
		"subarray-01/power_state/ON",
		"subarray-01/obs_state/EMPTY",
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestService_ObsCommandRejectedWhilePoweredDown(t *testing.T) {
	svc, _, recorder := newTestService(t, nil)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")

	_, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-1", "pb-a", "pb-b"))
	if !errors.Is(err, observing.ErrInvalidState) {
		t.Fatalf("AssignResources while OFF = %v, want ErrInvalidState", err)
	}
	if sub.ObsState() != observing.ObsEmpty {
		t.Errorf("rejected command mutated obs state: %s", sub.ObsState())
	}

	entries := recorder.all()
	if len(entries) != 1 || entries[0] != "subarray-01/AssignResources/rejected" {
		t.Errorf("recorder = %v", entries)
	}
}

func TestService_FullObservationLifecycle(t *testing.T) {
	svc, _, recorder := newTestService(t, newMemStore())
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")

	steps := []struct {
		cmd      observing.Command
		payload  []byte
		obsState observing.ObsState
	}{
		{observing.CommandAssignResources, assignPayload("eb-1", "pb-rt", "pb-batch"), observing.ObsIdle},
		{observing.CommandConfigure, configurePayload, observing.ObsReady},
		{observing.CommandScan, scanPayload, observing.ObsScanning},
		{observing.CommandEndScan, nil, observing.ObsReady},
		{observing.CommandEnd, nil, observing.ObsIdle},
		{observing.CommandReleaseResources, nil, observing.ObsEmpty},
	}

	for _, step := range steps {
		if _, err := svc.Execute(ctx, "subarray-01", step.cmd, step.payload); err != nil {
			t.Fatalf("%s failed: %v", step.cmd, err)
		}
		if sub.ObsState() != step.obsState {
			t.Fatalf("after %s: obs = %s, want %s", step.cmd, sub.ObsState(), step.obsState)
		}

		switch step.cmd {
		case observing.CommandAssignResources:
			resources := sub.AssignedResources()
			if len(resources) != 2 || resources[0] != "pb-batch" || resources[1] != "pb-rt" {
				t.Errorf("assigned resources = %v", resources)
			}
		case observing.CommandConfigure:
			if sub.ScanType() != "science" {
				t.Errorf("scan type = %q, want science", sub.ScanType())
			}
		case observing.CommandScan:
			if sub.ScanID() != 1 {
				t.Errorf("scan id = %d, want 1", sub.ScanID())
			}
		case observing.CommandEndScan:
			if sub.ScanID() != 0 {
				t.Errorf("scan id after EndScan = %d, want 0", sub.ScanID())
			}
			if sub.ScanType() != "science" {
				t.Errorf("EndScan cleared scan type: %q", sub.ScanType())
			}
		case observing.CommandEnd:
			if sub.ScanType() != NoScanType {
				t.Errorf("scan type after End = %q, want %q", sub.ScanType(), NoScanType)
			}
		case observing.CommandReleaseResources:
			if len(sub.AssignedResources()) != 0 {
				t.Errorf("resources after release = %v", sub.AssignedResources())
			}
		}
	}

	for _, entry := range recorder.all() {
		if !strings.HasSuffix(entry, "/success") {
			t.Errorf("unexpected outcome: %s", entry)
		}
	}
}

func TestService_TransientStatesPublished(t *testing.T) {
	svc, events, _ := newTestService(t, nil)
	ctx := context.Background()
	svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")

	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-1", "pb-a", "pb-b")); err != nil {
		t.Fatalf("AssignResources failed: %v", err)
	}

	got := events.all()
	// Last two events are the transient and terminal observing states.
	if len(got) < 2 {
		t.Fatalf("events = %v", got)
	}
	if got[len(got)-2] != "subarray-01/obs_state/RESOURCING" {
		t.Errorf("transient event = %q, want RESOURCING", got[len(got)-2])
	}
	if got[len(got)-1] != "subarray-01/obs_state/IDLE" {
		t.Errorf("terminal event = %q, want IDLE", got[len(got)-1])
	}
}

func TestService_TransactionID(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	svc.Add(ctx, "subarray-01")

	// A declared transaction id is used as-is.
	txn, err := svc.Execute(ctx, "subarray-01", observing.CommandOn, []byte(`{"transaction_id": "txn-caller-0001"}`))
	if err != nil {
		t.Fatalf("On failed: %v", err)
	}
	if txn != "txn-caller-0001" {
		t.Errorf("txn = %q, want caller-supplied id", txn)
	}

	// Without one, an id is generated.
	txn, err = svc.Execute(ctx, "subarray-01", observing.CommandOff, nil)
	if err != nil {
		t.Fatalf("Off failed: %v", err)
	}
	if !strings.HasPrefix(txn, "txn-") || len(txn) <= len("txn-") {
		t.Errorf("generated txn = %q", txn)
	}
}

func TestService_ValidationRejectionIsSideEffectFree(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")

	// Structurally invalid payload.
	_, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, []byte(`{"eb_id": "eb-1"}`))
	if !errors.Is(err, schema.ErrValidation) {
		t.Fatalf("Execute = %v, want ErrValidation", err)
	}
	if sub.ObsState() != observing.ObsEmpty {
		t.Errorf("validation failure mutated obs state: %s", sub.ObsState())
	}
	if len(sub.AssignedResources()) != 0 {
		t.Errorf("validation failure assigned resources: %v", sub.AssignedResources())
	}
}

func TestService_DependencyRejectionIsSideEffectFree(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")

	// Batch block depending on an undeclared id.
	payload := []byte(`{
		"interface": "https://schema.radioastro.dev/sdp-assignres/0.3",
		"eb_id": "eb-1",
		"max_length": 100.0,
		"scan_types": [{"scan_type_id": "science"}],
		"processing_blocks": [
			{
				"pb_id": "pb-a",
				"workflow": {"kind": "batch", "name": "ical", "version": "0.1.0"},
				"parameters": {},
				"dependencies": [{"pb_id": "pb-missing", "kind": ["calibration"]}]
			}
		]
	}`)

	_, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, payload)
	if !errors.Is(err, sbi.ErrDependency) {
		t.Fatalf("Execute = %v, want ErrDependency", err)
	}
	if sub.ObsState() != observing.ObsEmpty {
		t.Errorf("dependency failure mutated obs state: %s", sub.ObsState())
	}
}

func TestService_ConfigureUnknownScanType(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-1", "pb-a", "pb-b")); err != nil {
		t.Fatalf("AssignResources failed: %v", err)
	}

	payload := []byte(`{
		"interface": "https://schema.radioastro.dev/sdp-configure/0.3",
		"scan_type": "pulsar"
	}`)
	_, err := svc.Execute(ctx, "subarray-01", observing.CommandConfigure, payload)
	if !errors.Is(err, sbi.ErrUnknownScanType) {
		t.Fatalf("Configure = %v, want ErrUnknownScanType", err)
	}
	if sub.ObsState() != observing.ObsIdle {
		t.Errorf("rejected Configure mutated obs state: %s", sub.ObsState())
	}
	if sub.ScanType() != NoScanType {
		t.Errorf("rejected Configure set scan type: %q", sub.ScanType())
	}
}

func TestService_ConfigureWithNewScanTypes(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-1", "pb-a", "pb-b")); err != nil {
		t.Fatalf("AssignResources failed: %v", err)
	}

	payload := []byte(`{
		"interface": "https://schema.radioastro.dev/sdp-configure/0.3",
		"scan_type": "pulsar",
		"new_scan_types": [{"scan_type_id": "pulsar", "reference_frame": "ICRS"}]
	}`)
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandConfigure, payload); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if sub.ScanType() != "pulsar" {
		t.Errorf("scan type = %q, want pulsar", sub.ScanType())
	}
	if !sub.SchedulingBlock().HasScanType("pulsar") {
		t.Error("new scan type should be appended to the scheduling block")
	}
}

func TestService_AbortKeepsContext(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")
	for _, step := range []struct {
		cmd     observing.Command
		payload []byte
	}{
		{observing.CommandAssignResources, assignPayload("eb-1", "pb-a", "pb-b")},
		{observing.CommandConfigure, configurePayload},
		{observing.CommandScan, scanPayload},
	} {
		if _, err := svc.Execute(ctx, "subarray-01", step.cmd, step.payload); err != nil {
			t.Fatalf("%s failed: %v", step.cmd, err)
		}
	}

	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAbort, nil); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if sub.ObsState() != observing.ObsAborted {
		t.Fatalf("obs = %s, want ABORTED", sub.ObsState())
	}
	// Abort keeps resources and scan context for post-mortem inspection.
	if len(sub.AssignedResources()) != 2 {
		t.Errorf("Abort released resources: %v", sub.AssignedResources())
	}
	if sub.ScanType() != "science" || sub.ScanID() != 1 {
		t.Errorf("Abort cleared scan context: type=%q id=%d", sub.ScanType(), sub.ScanID())
	}

	// ObsReset clears the scan context but keeps the scheduling block.
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandObsReset, nil); err != nil {
		t.Fatalf("ObsReset failed: %v", err)
	}
	if sub.ObsState() != observing.ObsIdle {
		t.Errorf("obs = %s, want IDLE", sub.ObsState())
	}
	if len(sub.AssignedResources()) != 2 {
		t.Errorf("ObsReset released resources: %v", sub.AssignedResources())
	}
	if sub.ScanType() != NoScanType || sub.ScanID() != 0 {
		t.Errorf("ObsReset kept scan context: type=%q id=%d", sub.ScanType(), sub.ScanID())
	}
}

func TestService_RestartReleasesButRemembersCommitted(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-1", "pb-a", "pb-b")); err != nil {
		t.Fatalf("AssignResources failed: %v", err)
	}
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAbort, nil); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandRestart, nil); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if sub.ObsState() != observing.ObsEmpty {
		t.Fatalf("obs = %s, want EMPTY", sub.ObsState())
	}
	if len(sub.AssignedResources()) != 0 {
		t.Errorf("resources after Restart = %v", sub.AssignedResources())
	}

	// Reusing the released block's pb ids collides with the committed set.
	_, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-2", "pb-a", "pb-b2"))
	if !errors.Is(err, sbi.ErrDependency) {
		t.Fatalf("reused pb id = %v, want ErrDependency", err)
	}

	// A new block may depend on committed blocks from the released one.
	payload := []byte(`{
		"interface": "https://schema.radioastro.dev/sdp-assignres/0.3",
		"eb_id": "eb-3",
		"max_length": 100.0,
		"scan_types": [{"scan_type_id": "science"}],
		"processing_blocks": [
			{
				"pb_id": "pb-c",
				"workflow": {"kind": "batch", "name": "dpreb", "version": "0.1.0"},
				"parameters": {},
				"dependencies": [{"pb_id": "pb-a", "kind": ["calibration"]}]
			}
		]
	}`)
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, payload); err != nil {
		t.Fatalf("cross-SBI dependency rejected: %v", err)
	}
}

func TestService_AssignRejectsReusedSchedulingBlockID(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")

	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-1", "pb-a", "pb-b")); err != nil {
		t.Fatalf("AssignResources failed: %v", err)
	}
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandReleaseResources, nil); err != nil {
		t.Fatalf("ReleaseResources failed: %v", err)
	}

	// The released scheduling block's id stays committed; a new block may
	// not reuse it even with fresh processing block ids.
	_, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-1", "pb-c", "pb-d"))
	if !errors.Is(err, sbi.ErrDependency) {
		t.Fatalf("reused eb id = %v, want ErrDependency", err)
	}
	var depErr *sbi.DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("error should be *DependencyError, got %T", err)
	}
	if depErr.SBID != "eb-1" {
		t.Errorf("SBID = %q, want eb-1", depErr.SBID)
	}
	if sub.ObsState() != observing.ObsEmpty {
		t.Errorf("rejected command mutated obs state: %s", sub.ObsState())
	}

	// A fresh id is fine.
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-2", "pb-c", "pb-d")); err != nil {
		t.Fatalf("fresh eb id rejected: %v", err)
	}
}

func TestService_ReleaseFailureKeepsResources(t *testing.T) {
	store := &flakyStore{memStore: newMemStore()}
	svc, _, _ := newTestService(t, store)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-1", "pb-a", "pb-b")); err != nil {
		t.Fatalf("AssignResources failed: %v", err)
	}

	store.fail = true
	_, err := svc.Execute(ctx, "subarray-01", observing.CommandReleaseResources, nil)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("ReleaseResources = %v, want ErrInternal", err)
	}
	if sub.ObsState() != observing.ObsFault {
		t.Fatalf("obs = %s, want FAULT", sub.ObsState())
	}
	// The failed release must not have let the resources go; FAULT keeps
	// the scheduling block of the state it faulted from.
	if len(sub.AssignedResources()) != 2 {
		t.Errorf("resources after failed release = %v", sub.AssignedResources())
	}

	// Once the store recovers, ObsReset returns to IDLE with the block
	// still assigned.
	store.fail = false
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandObsReset, nil); err != nil {
		t.Fatalf("ObsReset failed: %v", err)
	}
	if sub.ObsState() != observing.ObsIdle {
		t.Errorf("obs = %s, want IDLE", sub.ObsState())
	}
	if len(sub.AssignedResources()) != 2 {
		t.Errorf("resources after ObsReset = %v", sub.AssignedResources())
	}
}

func TestService_StoreFailureDrivesFault(t *testing.T) {
	svc, events, recorder := newTestService(t, failingStore{})
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")

	_, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-1", "pb-a", "pb-b"))
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Execute = %v, want ErrInternal", err)
	}
	var intErr *InternalError
	if !errors.As(err, &intErr) {
		t.Fatalf("error should be *InternalError, got %T", err)
	}
	if intErr.Command != observing.CommandAssignResources {
		t.Errorf("Command = %s", intErr.Command)
	}

	if sub.ObsState() != observing.ObsFault {
		t.Errorf("obs = %s, want FAULT", sub.ObsState())
	}
	// Nothing was persisted, so nothing stays assigned or committed.
	if len(sub.AssignedResources()) != 0 {
		t.Errorf("failed assign left resources: %v", sub.AssignedResources())
	}
	if len(sub.CommittedBlocks()) != 0 {
		t.Errorf("failed assign left committed ids: %v", sub.CommittedBlocks())
	}

	got := events.all()
	if got[len(got)-1] != "subarray-01/obs_state/FAULT" {
		t.Errorf("last event = %q, want FAULT", got[len(got)-1])
	}

	entries := recorder.all()
	if entries[len(entries)-1] != "subarray-01/AssignResources/fault" {
		t.Errorf("recorder = %v", entries)
	}

	// ObsReset recovers from FAULT even though snapshots keep failing:
	// persistence failure puts the subarray back into FAULT, but the
	// admissibility check accepted the command.
	_, err = svc.Execute(ctx, "subarray-01", observing.CommandObsReset, nil)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("ObsReset with failing store = %v, want ErrInternal", err)
	}
}

func TestService_BusyRejection(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	sub, _ := svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")

	// Hold the command slot, as an in-flight command would.
	if !sub.tryAcquire() {
		t.Fatal("command slot should be free")
	}
	sub.setObs(observing.ObsResourcing)
	defer sub.release()

	_, err := svc.Execute(ctx, "subarray-01", observing.CommandConfigure, configurePayload)
	if !errors.Is(err, observing.ErrInvalidState) {
		t.Fatalf("busy Execute = %v, want ErrInvalidState", err)
	}

	var stateErr *observing.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("error should be *InvalidStateError, got %T", err)
	}
	if stateErr.Current != "RESOURCING" {
		t.Errorf("Current = %q, want the in-flight transient state", stateErr.Current)
	}
}

func TestService_RestoreFromSnapshot(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	svc, _, _ := newTestService(t, store)
	svc.Add(ctx, "subarray-01")
	turnOn(t, svc, "subarray-01")
	if _, err := svc.Execute(ctx, "subarray-01", observing.CommandAssignResources, assignPayload("eb-1", "pb-a", "pb-b")); err != nil {
		t.Fatalf("AssignResources failed: %v", err)
	}

	// A new service over the same store restores the persisted state.
	svc2, _, _ := newTestService(t, store)
	sub, err := svc2.Add(ctx, "subarray-01")
	if err != nil {
		t.Fatalf("Add with snapshot failed: %v", err)
	}
	if sub.PowerState() != observing.PowerOn {
		t.Errorf("restored power = %s, want ON", sub.PowerState())
	}
	if sub.ObsState() != observing.ObsIdle {
		t.Errorf("restored obs = %s, want IDLE", sub.ObsState())
	}
	resources := sub.AssignedResources()
	if len(resources) != 2 {
		t.Errorf("restored resources = %v", resources)
	}

	// On after restore must not reset the observing state; the device was
	// already activated.
	if _, err := svc2.Execute(ctx, "subarray-01", observing.CommandOff, nil); err != nil {
		t.Fatalf("Off failed: %v", err)
	}
	turnOn(t, svc2, "subarray-01")
	if sub.ObsState() != observing.ObsIdle {
		t.Errorf("re-activation reset obs state: %s", sub.ObsState())
	}
}

func TestService_RestoreTransientSnapshotAsFault(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	// Simulate a crash mid-operation: the stored snapshot carries a
	// transient observing state.
	store.Save(ctx, &Snapshot{
		ID:          "subarray-01",
		PowerState:  "ON",
		ObsState:    "RESOURCING",
		Activated:   true,
		HealthState: "OK",
		UpdatedAt:   time.Now().UTC(),
	})

	svc, _, _ := newTestService(t, store)
	sub, err := svc.Add(ctx, "subarray-01")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if sub.ObsState() != observing.ObsFault {
		t.Errorf("restored obs = %s, want FAULT", sub.ObsState())
	}
}
