package master

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/radioastro/subarray-core/internal/infrastructure/logging"
	"github.com/radioastro/subarray-core/internal/observing"
	"github.com/radioastro/subarray-core/internal/subarray"
)

// ID is the snapshot identifier of the master device. Subarray ids carry
// a numeric suffix so the two namespaces cannot collide.
const ID = "master"

// ErrObservingCommand is returned when an observing command is sent to the
// master, which carries no observing state machine.
var ErrObservingCommand = errors.New("master: observing commands are not supported")

// Master is the telescope-level control device. It carries only the power
// state machine; observing state belongs to the subarrays. Its initial
// power state is STANDBY, unlike a subarray which starts OFF.
type Master struct {
	cmdMu sync.Mutex

	mu     sync.RWMutex
	power  observing.PowerMachine
	health observing.HealthState

	store    subarray.SnapshotStore
	events   subarray.EventPublisher
	recorder subarray.CommandRecorder
	logger   *logging.Logger
}

// Config holds the dependencies of a Master. Logger is required; Store,
// Events and Recorder may be nil.
type Config struct {
	Store    subarray.SnapshotStore
	Events   subarray.EventPublisher
	Recorder subarray.CommandRecorder
	Logger   *logging.Logger
}

// New creates the master device, restoring its power state from the store
// when a snapshot exists. The initial-state log record carries no
// transaction id.
func New(ctx context.Context, cfg Config) (*Master, error) {
	m := &Master{
		power:    observing.NewPowerMachine(observing.PowerStandby),
		health:   observing.HealthOK,
		store:    cfg.Store,
		events:   cfg.Events,
		recorder: cfg.Recorder,
		logger:   cfg.Logger.With("component", "master"),
	}

	if m.store != nil {
		snap, err := m.store.Get(ctx, ID)
		switch {
		case err == nil:
			state, perr := observing.ParsePowerState(snap.PowerState)
			if perr != nil {
				return nil, perr
			}
			m.power.Restore(state)
			if health, herr := observing.ParseHealthState(snap.HealthState); herr == nil {
				m.health = health
			}
		case errors.Is(err, subarray.ErrSnapshotNotFound):
			// First start.
		default:
			return nil, fmt.Errorf("loading master snapshot: %w", err)
		}
	}

	m.logger.Info("master initialised", "power_state", m.power.State().String())
	return m, nil
}

// PowerState returns the current power state.
func (m *Master) PowerState() observing.PowerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.power.State()
}

// HealthState returns the current health state.
func (m *Master) HealthState() observing.HealthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// Execute runs one power command against the master and returns the
// transaction id attached to its log records. A transaction id supplied in
// the payload envelope is honoured, as on the subarray path.
func (m *Master) Execute(ctx context.Context, cmd observing.Command, raw []byte) (string, error) {
	txn := subarray.TransactionID(raw)
	log := m.logger.With("command", string(cmd), "transaction_id", txn)
	log.Info("command received")

	start := time.Now()
	err := m.execute(ctx, cmd)
	outcome := subarray.OutcomeSuccess
	if err != nil {
		outcome = subarray.OutcomeRejected
		log.Warn("command rejected", "error", err)
	} else {
		log.Info("command completed", "power_state", m.PowerState().String())
	}
	if m.recorder != nil {
		m.recorder.RecordCommand(ID, cmd, txn, outcome, time.Since(start))
	}
	return txn, err
}

func (m *Master) execute(ctx context.Context, cmd observing.Command) error {
	if !observing.IsPowerCommand(cmd) {
		return fmt.Errorf("%w: %s", ErrObservingCommand, cmd)
	}
	if !m.cmdMu.TryLock() {
		return &observing.InvalidStateError{
			Command:   cmd,
			Attribute: "power state",
			Current:   m.PowerState().String(),
		}
	}
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	state, err := m.power.Apply(cmd)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if m.events != nil {
		m.events.PublishPowerState(ID, state)
	}
	m.persist(ctx)
	return nil
}

// persist saves the master snapshot best-effort; power commands have no
// FAULT path, so a store failure is logged and the command still succeeds.
func (m *Master) persist(ctx context.Context) {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	snap := subarray.Snapshot{
		ID:          ID,
		PowerState:  m.power.State().String(),
		ObsState:    observing.ObsEmpty.String(),
		HealthState: m.health.String(),
		UpdatedAt:   time.Now().UTC(),
	}
	m.mu.RUnlock()

	if err := m.store.Save(ctx, &snap); err != nil {
		m.logger.Error("snapshot save failed", "error", err)
	}
}
