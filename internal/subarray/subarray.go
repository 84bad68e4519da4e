package subarray

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radioastro/subarray-core/internal/observing"
	"github.com/radioastro/subarray-core/internal/sbi"
)

// NoScanType is the scanType attribute value when no scan type is configured.
const NoScanType = "null"

// Subarray is one controlled entity: a power machine composed with an
// observing machine, plus the scheduling block and scan context the
// observing commands operate on.
//
// Attribute reads are safe for concurrent use. Command execution is
// serialised by the Service through tryAcquire/release; the mutating
// methods below assume the caller holds the command slot.
type Subarray struct {
	id string

	// cmdMu is the single-flight command slot. It is taken with TryLock
	// so a command arriving while another is in progress is rejected,
	// never queued.
	cmdMu sync.Mutex

	// mu guards every field below.
	mu            sync.RWMutex
	power         observing.PowerMachine
	obs           observing.ObsMachine
	health        observing.HealthState
	block         *sbi.SchedulingBlock
	scanType      string
	scanID        int64
	committed     map[string]struct{}
	committedSBIs map[string]struct{}
	updatedAt     time.Time
}

// New creates a subarray in its initial state: powered OFF, observing
// state EMPTY, health OK, no resources assigned.
func New(id string) *Subarray {
	return &Subarray{
		id:            id,
		power:         observing.NewPowerMachine(observing.PowerOff),
		obs:           observing.NewObsMachine(),
		health:        observing.HealthOK,
		committed:     make(map[string]struct{}),
		committedSBIs: make(map[string]struct{}),
		updatedAt:     time.Now().UTC(),
	}
}

// ID returns the subarray identifier.
func (s *Subarray) ID() string {
	return s.id
}

// PowerState returns the current power state.
func (s *Subarray) PowerState() observing.PowerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.power.State()
}

// ObsState returns the current observing state.
func (s *Subarray) ObsState() observing.ObsState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obs.State()
}

// HealthState returns the current health state.
func (s *Subarray) HealthState() observing.HealthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// ScanType returns the current scan type id, or NoScanType when none is
// configured.
func (s *Subarray) ScanType() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.scanType == "" {
		return NoScanType
	}
	return s.scanType
}

// ScanID returns the current scan id, or 0 when no scan is active.
func (s *Subarray) ScanID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanID
}

// AssignedResources returns the processing block ids of the current
// scheduling block, sorted. The list is empty exactly when no block is
// assigned.
func (s *Subarray) AssignedResources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.block == nil {
		return []string{}
	}
	ids := s.block.ProcessingBlockIDs()
	sort.Strings(ids)
	return ids
}

// SchedulingBlock returns the current scheduling block, or nil when no
// resources are assigned.
func (s *Subarray) SchedulingBlock() *sbi.SchedulingBlock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.block
}

// CommittedBlocks returns a copy of the processing block ids accepted by
// this subarray across all scheduling blocks, including released ones.
// Dependencies in a new scheduling block may reference these.
func (s *Subarray) CommittedBlocks() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.committed))
	for id := range s.committed {
		out[id] = struct{}{}
	}
	return out
}

// CommittedSBIs returns a copy of the scheduling block ids accepted by
// this subarray, including released ones. A new AssignResources call must
// not reuse any of them.
func (s *Subarray) CommittedSBIs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.committedSBIs))
	for id := range s.committedSBIs {
		out[id] = struct{}{}
	}
	return out
}

// tryAcquire claims the command slot without blocking.
func (s *Subarray) tryAcquire() bool {
	return s.cmdMu.TryLock()
}

// release frees the command slot.
func (s *Subarray) release() {
	s.cmdMu.Unlock()
}

// checkPower reports whether a power command is admissible.
func (s *Subarray) checkPower(cmd observing.Command) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.power.Check(cmd)
}

// applyPower commits a power transition. The first successful On also
// activates the observing machine, setting obsState to EMPTY.
func (s *Subarray) applyPower(cmd observing.Command) (observing.PowerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.power.Apply(cmd)
	if err != nil {
		return state, err
	}
	if cmd == observing.CommandOn {
		s.obs.Activate()
	}
	s.updatedAt = time.Now().UTC()
	return state, nil
}

// beginObs checks admissibility of an observing command and returns the
// transition it will take. State is not mutated.
func (s *Subarray) beginObs(cmd observing.Command) (observing.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obs.Begin(cmd, s.power.State())
}

// setObs commits an observing state reached through a transition.
func (s *Subarray) setObs(state observing.ObsState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs.Set(state)
	s.updatedAt = time.Now().UTC()
}

// fault drives the observing state to FAULT after an internal failure.
func (s *Subarray) fault() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs.Fault()
	s.updatedAt = time.Now().UTC()
}

// assignBlock installs a scheduling block and records its id and its
// processing block ids in the committed sets.
func (s *Subarray) assignBlock(block *sbi.SchedulingBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = block
	s.committedSBIs[block.ID] = struct{}{}
	for _, id := range block.ProcessingBlockIDs() {
		s.committed[id] = struct{}{}
	}
	s.updatedAt = time.Now().UTC()
}

// releaseBlock removes the current scheduling block and clears the scan
// context. Committed processing block ids are kept so later scheduling
// blocks can still depend on them.
func (s *Subarray) releaseBlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = nil
	s.scanType = ""
	s.scanID = 0
	s.updatedAt = time.Now().UTC()
}

// checkScanType verifies that req.ScanType resolves against the current
// scheduling block's scan types plus any new ones carried by req. Called
// before any state mutation.
func (s *Subarray) checkScanType(req *sbi.ConfigureRequest) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.block == nil {
		return fmt.Errorf("%w: no scheduling block assigned", sbi.ErrUnknownScanType)
	}
	return s.block.ResolveScanType(req.ScanType, req.NewScanTypes)
}

// applyConfigure appends any new scan types to the scheduling block and
// makes req.ScanType current. checkScanType must have passed.
func (s *Subarray) applyConfigure(req *sbi.ConfigureRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block.AddScanTypes(req.NewScanTypes)
	s.scanType = req.ScanType
	s.updatedAt = time.Now().UTC()
}

// startScan records the active scan id.
func (s *Subarray) startScan(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanID = id
	s.updatedAt = time.Now().UTC()
}

// endScan clears the active scan id.
func (s *Subarray) endScan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanID = 0
	s.updatedAt = time.Now().UTC()
}

// clearScanContext clears both the scan type and scan id. Used by End,
// ObsReset and Restart.
func (s *Subarray) clearScanContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanType = ""
	s.scanID = 0
	s.updatedAt = time.Now().UTC()
}

// obsContext is the observing context a command effect may mutate. The
// dispatcher captures it before running an effect so a failed commit can
// put the context back the way it was.
type obsContext struct {
	block         *sbi.SchedulingBlock
	scanTypes     []sbi.ScanType
	scanType      string
	scanID        int64
	committed     map[string]struct{}
	committedSBIs map[string]struct{}
}

// captureContext copies the observing context. The scheduling block itself
// is shared; only its scan-type list can grow (Configure), so the slice
// header is enough to roll that back.
func (s *Subarray) captureContext() obsContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx := obsContext{
		block:         s.block,
		scanType:      s.scanType,
		scanID:        s.scanID,
		committed:     make(map[string]struct{}, len(s.committed)),
		committedSBIs: make(map[string]struct{}, len(s.committedSBIs)),
	}
	if s.block != nil {
		ctx.scanTypes = s.block.ScanTypes
	}
	for id := range s.committed {
		ctx.committed[id] = struct{}{}
	}
	for id := range s.committedSBIs {
		ctx.committedSBIs[id] = struct{}{}
	}
	return ctx
}

// restoreContext reinstates a captured observing context after a failed
// commit, so a FAULT reached mid-command still satisfies the resource
// invariants of the state it faulted from.
func (s *Subarray) restoreContext(ctx obsContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = ctx.block
	if s.block != nil {
		s.block.ScanTypes = ctx.scanTypes
	}
	s.scanType = ctx.scanType
	s.scanID = ctx.scanID
	s.committed = ctx.committed
	s.committedSBIs = ctx.committedSBIs
	s.updatedAt = time.Now().UTC()
}

// Snapshot captures the current state for persistence.
func (s *Subarray) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	committed := make([]string, 0, len(s.committed))
	for id := range s.committed {
		committed = append(committed, id)
	}
	sort.Strings(committed)
	committedSBIs := make([]string, 0, len(s.committedSBIs))
	for id := range s.committedSBIs {
		committedSBIs = append(committedSBIs, id)
	}
	sort.Strings(committedSBIs)
	return Snapshot{
		ID:            s.id,
		PowerState:    s.power.State().String(),
		ObsState:      s.obs.State().String(),
		Activated:     s.obs.Activated(),
		HealthState:   s.health.String(),
		Block:         s.block,
		ScanType:      s.scanType,
		ScanID:        s.scanID,
		Committed:     committed,
		CommittedSBIs: committedSBIs,
		UpdatedAt:     s.updatedAt,
	}
}

// Restore rebuilds the subarray state from a persisted snapshot. A snapshot
// taken mid-operation carries a transient observing state; the operation it
// belonged to is gone, so the state is restored as FAULT and ObsReset or
// Restart brings the subarray back into service.
func (s *Subarray) Restore(snap Snapshot) error {
	power, err := observing.ParsePowerState(snap.PowerState)
	if err != nil {
		return err
	}
	obs, err := observing.ParseObsState(snap.ObsState)
	if err != nil {
		return err
	}
	health, err := observing.ParseHealthState(snap.HealthState)
	if err != nil {
		return err
	}
	if obs.IsTransient() {
		obs = observing.ObsFault
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.power.Restore(power)
	s.obs.Restore(obs, snap.Activated)
	s.health = health
	s.block = snap.Block
	s.scanType = snap.ScanType
	s.scanID = snap.ScanID
	s.committed = make(map[string]struct{}, len(snap.Committed))
	for _, id := range snap.Committed {
		s.committed[id] = struct{}{}
	}
	s.committedSBIs = make(map[string]struct{}, len(snap.CommittedSBIs))
	for _, id := range snap.CommittedSBIs {
		s.committedSBIs[id] = struct{}{}
	}
	s.updatedAt = snap.UpdatedAt
	return nil
}
