package subarray

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radioastro/subarray-core/internal/infrastructure/logging"
	"github.com/radioastro/subarray-core/internal/observing"
	"github.com/radioastro/subarray-core/internal/sbi"
	"github.com/radioastro/subarray-core/internal/schema"
)

// EventPublisher pushes attribute changes to external observers. Both the
// transient and the terminal observing state of a command are published.
type EventPublisher interface {
	PublishPowerState(entity string, state observing.PowerState)
	PublishObsState(entity string, state observing.ObsState)
}

// CommandRecorder records per-command telemetry.
type CommandRecorder interface {
	RecordCommand(entity string, cmd observing.Command, txn, outcome string, duration time.Duration)
}

// Command outcomes reported to the CommandRecorder.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFault    = "fault"
)

// Config holds the dependencies of a Service. Registry and Logger are
// required; Store, Events and Recorder may be nil.
type Config struct {
	Registry *schema.Registry
	Store    SnapshotStore
	Events   EventPublisher
	Recorder CommandRecorder
	Logger   *logging.Logger
}

// Service dispatches commands to subarrays. It is the façade the transport
// layer invokes: for each command it resolves a transaction id, checks
// admissibility, validates the payload where one is expected, runs the
// dependency check for resource assignment, and commits the state
// transition as one unit.
type Service struct {
	registry *schema.Registry
	store    SnapshotStore
	events   EventPublisher
	recorder CommandRecorder
	logger   *logging.Logger

	mu        sync.RWMutex
	subarrays map[string]*Subarray
}

// NewService creates a command dispatcher over an empty set of subarrays.
func NewService(cfg Config) *Service {
	return &Service{
		registry:  cfg.Registry,
		store:     cfg.Store,
		events:    cfg.Events,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger.With("component", "subarray"),
		subarrays: make(map[string]*Subarray),
	}
}

// Add registers a new subarray in its initial state. If a snapshot exists
// in the store the state is restored from it instead. The initial-state
// log record carries no transaction id; there is no command to correlate.
func (s *Service) Add(ctx context.Context, id string) (*Subarray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subarrays[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}

	sub := New(id)
	if s.store != nil {
		snap, err := s.store.Get(ctx, id)
		switch {
		case err == nil:
			if err := sub.Restore(*snap); err != nil {
				return nil, fmt.Errorf("restoring subarray %s: %w", id, err)
			}
		case errors.Is(err, ErrSnapshotNotFound):
			// First start for this entity.
		default:
			return nil, fmt.Errorf("loading snapshot for %s: %w", id, err)
		}
	}

	s.subarrays[id] = sub
	s.logger.Info("subarray initialised",
		"subarray", id,
		"power_state", sub.PowerState().String(),
		"obs_state", sub.ObsState().String(),
	)
	return sub, nil
}

// Get returns the subarray with the given id.
func (s *Service) Get(id string) (*Subarray, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subarrays[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sub, nil
}

// IDs returns the registered subarray ids in registration-independent
// map order; callers sort if they need a stable listing.
func (s *Service) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.subarrays))
	for id := range s.subarrays {
		ids = append(ids, id)
	}
	return ids
}

// Execute runs one command against one subarray and returns the transaction
// id attached to its log records. A nil error means the command completed
// and the terminal state is committed; on error the state is unchanged
// unless the error matches ErrInternal, in which case the observing state
// is FAULT.
func (s *Service) Execute(ctx context.Context, id string, cmd observing.Command, raw []byte) (string, error) {
	sub, err := s.Get(id)
	if err != nil {
		return "", err
	}

	txn := TransactionID(raw)
	log := s.logger.With("subarray", id, "command", string(cmd), "transaction_id", txn)
	log.Info("command received")

	start := time.Now()
	err = s.execute(ctx, sub, cmd, raw)
	outcome := OutcomeSuccess
	switch {
	case errors.Is(err, ErrInternal):
		outcome = OutcomeFault
		log.Error("command failed", "error", err)
	case err != nil:
		outcome = OutcomeRejected
		log.Warn("command rejected", "error", err)
	default:
		log.Info("command completed",
			"power_state", sub.PowerState().String(),
			"obs_state", sub.ObsState().String(),
		)
	}
	if s.recorder != nil {
		s.recorder.RecordCommand(id, cmd, txn, outcome, time.Since(start))
	}
	return txn, err
}

// execute dispatches under the entity's single-flight command slot.
func (s *Service) execute(ctx context.Context, sub *Subarray, cmd observing.Command, raw []byte) error {
	if !sub.tryAcquire() {
		return busyError(sub, cmd)
	}
	defer sub.release()

	if observing.IsPowerCommand(cmd) {
		return s.executePower(ctx, sub, cmd)
	}
	return s.executeObs(ctx, sub, cmd, raw)
}

// executePower applies one of On/Off/Standby/Disable.
func (s *Service) executePower(ctx context.Context, sub *Subarray, cmd observing.Command) error {
	if err := sub.checkPower(cmd); err != nil {
		return err
	}
	state, err := sub.applyPower(cmd)
	if err != nil {
		return err
	}
	s.publishPower(sub.ID(), state)
	if cmd == observing.CommandOn {
		// First activation makes the observing state visible as EMPTY.
		s.publishObs(sub.ID(), sub.ObsState())
	}
	s.persist(ctx, sub)
	return nil
}

// executeObs runs one observing command: admissibility, payload validation,
// semantic checks, then the transient/terminal transition. All rejections
// happen before the transition begins, so a rejected command leaves the
// state untouched.
func (s *Service) executeObs(ctx context.Context, sub *Subarray, cmd observing.Command, raw []byte) error {
	tr, err := sub.beginObs(cmd)
	if err != nil {
		return err
	}

	effect, err := s.prepare(sub, cmd, raw)
	if err != nil {
		return err
	}

	if !tr.HasTransient {
		// Instantaneous transition; no FAULT path. A snapshot save
		// failure is logged and the command still succeeds.
		effect(sub)
		sub.setObs(tr.Terminal)
		s.publishObs(sub.ID(), tr.Terminal)
		s.persist(ctx, sub)
		return nil
	}

	sub.setObs(tr.Transient)
	s.publishObs(sub.ID(), tr.Transient)

	// On commit failure the effect's context changes are rolled back, so
	// the FAULT state keeps the resources of the state it faulted from.
	saved := sub.captureContext()
	if err := s.commit(ctx, sub, effect, tr.Terminal); err != nil {
		sub.restoreContext(saved)
		sub.fault()
		s.publishObs(sub.ID(), observing.ObsFault)
		return &InternalError{Command: cmd, Err: err}
	}

	sub.setObs(tr.Terminal)
	s.publishObs(sub.ID(), tr.Terminal)
	return nil
}

// prepare validates the command payload and builds the effect to run during
// the transient phase. Nothing here mutates the subarray.
func (s *Service) prepare(sub *Subarray, cmd observing.Command, raw []byte) (func(*Subarray), error) {
	switch cmd {
	case observing.CommandAssignResources:
		version, payload, err := s.registry.Validate(schema.TagAssignResources, raw)
		if err != nil {
			return nil, err
		}
		block, err := sbi.DecodeAssignResources(version, payload)
		if err != nil {
			return nil, err
		}
		if err := sbi.CheckSchedulingBlockID(block.ID, sub.CommittedSBIs()); err != nil {
			return nil, err
		}
		if err := sbi.CheckDependencies(block.ProcessingBlocks, sub.CommittedBlocks()); err != nil {
			return nil, err
		}
		return func(sub *Subarray) { sub.assignBlock(block) }, nil

	case observing.CommandConfigure:
		version, payload, err := s.registry.Validate(schema.TagConfigure, raw)
		if err != nil {
			return nil, err
		}
		req, err := sbi.DecodeConfigure(version, payload)
		if err != nil {
			return nil, err
		}
		if err := sub.checkScanType(req); err != nil {
			return nil, err
		}
		return func(sub *Subarray) { sub.applyConfigure(req) }, nil

	case observing.CommandScan:
		version, payload, err := s.registry.Validate(schema.TagScan, raw)
		if err != nil {
			return nil, err
		}
		scanID, err := sbi.DecodeScan(version, payload)
		if err != nil {
			return nil, err
		}
		return func(sub *Subarray) { sub.startScan(scanID) }, nil

	case observing.CommandReleaseResources:
		return func(sub *Subarray) { sub.releaseBlock() }, nil
	case observing.CommandEndScan:
		return func(sub *Subarray) { sub.endScan() }, nil
	case observing.CommandEnd:
		return func(sub *Subarray) { sub.clearScanContext() }, nil
	case observing.CommandAbort:
		// Resources and scan context survive an abort; ObsReset or
		// Restart decides what happens to them.
		return func(*Subarray) {}, nil
	case observing.CommandObsReset:
		return func(sub *Subarray) { sub.clearScanContext() }, nil
	case observing.CommandRestart:
		return func(sub *Subarray) { sub.releaseBlock() }, nil
	default:
		return nil, fmt.Errorf("%w: %s", observing.ErrUnknownCommand, cmd)
	}
}

// commit runs the effect and persists the post-command snapshot. A failure
// here happens mid-transition and is reported as internal; the caller
// drives the observing state to FAULT.
func (s *Service) commit(ctx context.Context, sub *Subarray, effect func(*Subarray), terminal observing.ObsState) error {
	effect(sub)
	if s.store == nil {
		return nil
	}
	snap := sub.Snapshot()
	snap.ObsState = terminal.String()
	if err := s.store.Save(ctx, &snap); err != nil {
		return fmt.Errorf("persisting snapshot: %w", err)
	}
	return nil
}

// persist saves the current snapshot after a power command. Power commands
// have no transient phase and no FAULT path, so a store failure is logged
// and the command still succeeds; the next successful save catches up.
func (s *Service) persist(ctx context.Context, sub *Subarray) {
	if s.store == nil {
		return
	}
	snap := sub.Snapshot()
	if err := s.store.Save(ctx, &snap); err != nil {
		s.logger.Error("snapshot save failed", "subarray", sub.ID(), "error", err)
	}
}

func (s *Service) publishPower(id string, state observing.PowerState) {
	if s.events != nil {
		s.events.PublishPowerState(id, state)
	}
}

func (s *Service) publishObs(id string, state observing.ObsState) {
	if s.events != nil {
		s.events.PublishObsState(id, state)
	}
}

// busyError builds the rejection for a command arriving while another is
// in progress. The observing state the caller sees is the transient state
// of the in-flight operation, which no steady-state admissibility row
// contains, so the rejection reads the same as any other invalid-state one.
func busyError(sub *Subarray, cmd observing.Command) error {
	var allowed []string
	if states, ok := observing.AllowedObsStates(cmd); ok {
		allowed = make([]string, len(states))
		for i, st := range states {
			allowed[i] = st.String()
		}
	}
	return &observing.InvalidStateError{
		Command:   cmd,
		Attribute: "obsState",
		Current:   sub.ObsState().String(),
		Allowed:   allowed,
	}
}

// TransactionID extracts the transaction id from a payload envelope, or
// synthesizes one when the payload is absent or carries none. The master
// and the subarray dispatcher resolve ids through the same rule.
func TransactionID(raw []byte) string {
	if len(raw) > 0 {
		var envelope struct {
			TransactionID string `json:"transaction_id"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.TransactionID != "" {
			return envelope.TransactionID
		}
	}
	return "txn-" + uuid.NewString()
}
