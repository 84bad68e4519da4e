package sbi

// SchedulingBlock is a Scheduling Block Instance (SBI): the description of
// resources, scan types and processing blocks for one observation episode.
// It is created by AssignResources and logically destroyed by
// ReleaseResources or Restart.
type SchedulingBlock struct {
	// ID is the execution block identifier (`id` in schema 0.2, `eb_id`
	// in 0.3).
	ID string `json:"id"`

	// MaxLength is the maximum observation length in seconds.
	MaxLength float64 `json:"max_length"`

	// ScanTypes is the ordered list of scan types declared at assignment.
	// Configure may append further types via new_scan_types.
	ScanTypes []ScanType `json:"scan_types"`

	// ProcessingBlocks is the ordered list of processing blocks.
	ProcessingBlocks []ProcessingBlock `json:"processing_blocks"`
}

// ScanType describes one scan configuration. Beyond the identifier, the
// descriptive fields (coordinate frame, channel maps) are carried opaquely
// in Fields; the control point never interprets them.
type ScanType struct {
	// ID is unique within the SBI (`id` in schema 0.2, `scan_type_id`
	// in 0.3).
	ID string `json:"id"`

	// Fields holds the remaining descriptive properties as supplied.
	Fields map[string]any `json:"fields,omitempty"`
}

// ProcessingBlock is a unit of workflow execution with declared dependencies
// on other processing blocks.
type ProcessingBlock struct {
	// ID is unique within the SBI and across all previously committed
	// SBIs on the same control point.
	ID string `json:"id"`

	// Workflow identifies the workflow to execute.
	Workflow Workflow `json:"workflow"`

	// Parameters is an opaque parameter object passed to the workflow.
	Parameters map[string]any `json:"parameters"`

	// Dependencies lists the processing blocks this one depends on.
	// Only batch workflows may declare dependencies.
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// Workflow kinds.
const (
	WorkflowRealtime = "realtime"
	WorkflowBatch    = "batch"
)

// Workflow identifies a workflow definition.
type Workflow struct {
	// Kind is "realtime" or "batch" (`type` in schema 0.2).
	Kind string `json:"kind"`

	// Name is the workflow name (`id` in schema 0.2).
	Name string `json:"name"`

	// Version is the workflow version string.
	Version string `json:"version"`
}

// Dependency references another processing block.
type Dependency struct {
	// PBID is the referenced processing block id. It must name a block
	// declared earlier in the same SBI or committed by a prior one, and
	// never the declaring block itself.
	PBID string `json:"pb_id"`

	// Kind is a non-empty set of labels describing the dependency
	// (`type` in schema 0.2).
	Kind []string `json:"kind"`
}

// HasScanType reports whether the SBI declares a scan type with the given id.
func (s *SchedulingBlock) HasScanType(id string) bool {
	for _, st := range s.ScanTypes {
		if st.ID == id {
			return true
		}
	}
	return false
}

// AddScanTypes appends new scan types to the SBI. Types whose id is already
// declared replace the existing declaration.
func (s *SchedulingBlock) AddScanTypes(types []ScanType) {
	for _, st := range types {
		replaced := false
		for i := range s.ScanTypes {
			if s.ScanTypes[i].ID == st.ID {
				s.ScanTypes[i] = st
				replaced = true
				break
			}
		}
		if !replaced {
			s.ScanTypes = append(s.ScanTypes, st)
		}
	}
}

// ResolveScanType checks that id names a scan type declared in the SBI or
// carried in extra. On failure it returns a ScanTypeError listing the ids
// that would have resolved.
func (s *SchedulingBlock) ResolveScanType(id string, extra []ScanType) error {
	if s.HasScanType(id) {
		return nil
	}
	for _, st := range extra {
		if st.ID == id {
			return nil
		}
	}
	known := make([]string, 0, len(s.ScanTypes)+len(extra))
	for _, st := range s.ScanTypes {
		known = append(known, st.ID)
	}
	for _, st := range extra {
		known = append(known, st.ID)
	}
	return &ScanTypeError{ScanType: id, Known: known}
}

// ProcessingBlockIDs returns the ids of all processing blocks in order.
func (s *SchedulingBlock) ProcessingBlockIDs() []string {
	ids := make([]string, len(s.ProcessingBlocks))
	for i, pb := range s.ProcessingBlocks {
		ids[i] = pb.ID
	}
	return ids
}
