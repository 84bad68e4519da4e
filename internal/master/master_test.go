package master

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/radioastro/subarray-core/internal/infrastructure/config"
	"github.com/radioastro/subarray-core/internal/infrastructure/logging"
	"github.com/radioastro/subarray-core/internal/observing"
	"github.com/radioastro/subarray-core/internal/subarray"
)

type memStore struct {
	mu    sync.Mutex
	snaps map[string]subarray.Snapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]subarray.Snapshot)}
}

func (m *memStore) Save(_ context.Context, snap *subarray.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = *snap
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*subarray.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return nil, subarray.ErrSnapshotNotFound
	}
	return &snap, nil
}

func (m *memStore) List(_ context.Context) ([]subarray.Snapshot, error) {
	return nil, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	states []string
}

func (f *fakeEvents) PublishPowerState(entity string, state observing.PowerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, entity+"/"+state.String())
}

func (f *fakeEvents) PublishObsState(string, observing.ObsState) {
	panic("master must not publish observing state")
}

type recordedCommand struct {
	Entity  string
	Command observing.Command
	Outcome string
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []recordedCommand
}

func (f *fakeRecorder) RecordCommand(entity string, cmd observing.Command, _, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, recordedCommand{Entity: entity, Command: cmd, Outcome: outcome})
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func newTestMaster(t *testing.T, cfg Config) *Master {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	m, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestMaster_InitialState(t *testing.T) {
	m := newTestMaster(t, Config{})
	if m.PowerState() != observing.PowerStandby {
		t.Errorf("initial power = %s, want STANDBY", m.PowerState())
	}
	if m.HealthState() != observing.HealthOK {
		t.Errorf("initial health = %s, want OK", m.HealthState())
	}
}

func TestMaster_PowerCommands(t *testing.T) {
	events := &fakeEvents{}
	m := newTestMaster(t, Config{Events: events})
	ctx := context.Background()

	steps := []struct {
		cmd  observing.Command
		want observing.PowerState
	}{
		{observing.CommandOn, observing.PowerOn},
		{observing.CommandDisable, observing.PowerDisable},
		{observing.CommandStandby, observing.PowerStandby},
		{observing.CommandOff, observing.PowerOff},
	}
	for _, step := range steps {
		txn, err := m.Execute(ctx, step.cmd, nil)
		if err != nil {
			t.Fatalf("%s failed: %v", step.cmd, err)
		}
		if !strings.HasPrefix(txn, "txn-") {
			t.Errorf("%s: txn = %q", step.cmd, txn)
		}
		if m.PowerState() != step.want {
			t.Errorf("after %s: power = %s, want %s", step.cmd, m.PowerState(), step.want)
		}
	}

	if len(events.states) != len(steps) {
		t.Fatalf("events = %v", events.states)
	}
	for i, step := range steps {
		want := ID + "/" + step.want.String()
		if events.states[i] != want {
			t.Errorf("event[%d] = %q, want %q", i, events.states[i], want)
		}
	}
}

func TestMaster_TransactionID(t *testing.T) {
	m := newTestMaster(t, Config{})
	ctx := context.Background()

	// A transaction id supplied in the payload envelope is used as-is.
	txn, err := m.Execute(ctx, observing.CommandOn, []byte(`{"transaction_id": "txn-caller-0001"}`))
	if err != nil {
		t.Fatalf("On failed: %v", err)
	}
	if txn != "txn-caller-0001" {
		t.Errorf("txn = %q, want caller-supplied id", txn)
	}

	// Without one, an id is generated.
	txn, err = m.Execute(ctx, observing.CommandOff, nil)
	if err != nil {
		t.Fatalf("Off failed: %v", err)
	}
	if !strings.HasPrefix(txn, "txn-") || len(txn) <= len("txn-") {
		t.Errorf("generated txn = %q", txn)
	}
}

func TestMaster_RejectsCommandFromResultState(t *testing.T) {
	m := newTestMaster(t, Config{})

	// Initial state is STANDBY; Standby is inadmissible from it.
	_, err := m.Execute(context.Background(), observing.CommandStandby, nil)
	if !errors.Is(err, observing.ErrInvalidState) {
		t.Fatalf("Standby from STANDBY = %v, want ErrInvalidState", err)
	}
	if m.PowerState() != observing.PowerStandby {
		t.Errorf("rejected command mutated power state: %s", m.PowerState())
	}
}

func TestMaster_RejectsObservingCommands(t *testing.T) {
	recorder := &fakeRecorder{}
	m := newTestMaster(t, Config{Recorder: recorder})
	ctx := context.Background()

	for _, cmd := range []observing.Command{
		observing.CommandAssignResources,
		observing.CommandConfigure,
		observing.CommandScan,
		observing.CommandAbort,
	} {
		_, err := m.Execute(ctx, cmd, nil)
		if !errors.Is(err, ErrObservingCommand) {
			t.Errorf("%s = %v, want ErrObservingCommand", cmd, err)
		}
	}

	for _, entry := range recorder.entries {
		if entry.Entity != ID || entry.Outcome != subarray.OutcomeRejected {
			t.Errorf("recorder entry = %+v", entry)
		}
	}
	if len(recorder.entries) != 4 {
		t.Errorf("recorded %d commands, want 4", len(recorder.entries))
	}
}

func TestMaster_PersistsAndRestores(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	m := newTestMaster(t, Config{Store: store})
	if _, err := m.Execute(ctx, observing.CommandOn, nil); err != nil {
		t.Fatalf("On failed: %v", err)
	}

	snap, err := store.Get(ctx, ID)
	if err != nil {
		t.Fatalf("snapshot missing after command: %v", err)
	}
	if snap.PowerState != "ON" {
		t.Errorf("snapshot power = %s, want ON", snap.PowerState)
	}

	restored := newTestMaster(t, Config{Store: store})
	if restored.PowerState() != observing.PowerOn {
		t.Errorf("restored power = %s, want ON", restored.PowerState())
	}

	// The restored device carries the same admissibility rules.
	if _, err := restored.Execute(ctx, observing.CommandOn, nil); !errors.Is(err, observing.ErrInvalidState) {
		t.Errorf("On from restored ON = %v, want ErrInvalidState", err)
	}
}

func TestMaster_RecordsSuccessOutcome(t *testing.T) {
	recorder := &fakeRecorder{}
	m := newTestMaster(t, Config{Recorder: recorder})

	if _, err := m.Execute(context.Background(), observing.CommandOn, nil); err != nil {
		t.Fatalf("On failed: %v", err)
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("recorder entries = %+v", recorder.entries)
	}
	entry := recorder.entries[0]
	if entry.Entity != ID || entry.Command != observing.CommandOn || entry.Outcome != subarray.OutcomeSuccess {
		t.Errorf("entry = %+v", entry)
	}
}
