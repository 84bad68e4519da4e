package sbi

// Dependency graph checking for AssignResources.
//
// The checker verifies reference integrity and acyclicity of the declared
// processing-block dependencies before any resource is committed. It runs
// on the validated payload, so a failure here is always side-effect free.

// dfs colours for cycle detection.
const (
	white = iota // unvisited
	grey         // on the current path
	black        // fully explored
)

// CheckDependencies verifies that the dependency graph over the declared
// processing blocks is well-formed:
//
//   - every block id is unique within the list and does not collide with a
//     previously committed block (committed set)
//   - realtime workflows declare no dependencies
//   - every dependency references a declared block or a committed one, and
//     never the declaring block itself
//   - the dependency relation over the declared blocks is acyclic
//
// committed holds the processing-block ids accepted by earlier
// AssignResources calls; dependencies may cross SBI boundaries through it.
// It may be nil for a self-contained check.
//
// On success the blocks pass through unchanged; any violation is reported
// as a *DependencyError naming the offending ids.
// CheckSchedulingBlockID verifies the scheduling block id has not already
// been accepted by an earlier AssignResources call. Scheduling block and
// processing block ids live in separate namespaces, so the committed set
// here holds scheduling block ids only.
func CheckSchedulingBlockID(id string, committed map[string]struct{}) error {
	if _, exists := committed[id]; exists {
		return &DependencyError{SBID: id, Reason: "scheduling block id already committed"}
	}
	return nil
}

func CheckDependencies(blocks []ProcessingBlock, committed map[string]struct{}) error {
	declared := make(map[string]int, len(blocks))
	for i, pb := range blocks {
		if _, dup := declared[pb.ID]; dup {
			return &DependencyError{PBID: pb.ID, Reason: "duplicate processing block id"}
		}
		if _, exists := committed[pb.ID]; exists {
			return &DependencyError{PBID: pb.ID, Reason: "processing block id already committed"}
		}
		declared[pb.ID] = i
	}

	for _, pb := range blocks {
		if len(pb.Dependencies) > 0 && pb.Workflow.Kind == WorkflowRealtime {
			return &DependencyError{
				PBID:   pb.ID,
				Reason: "dependencies are not allowed on a realtime workflow",
			}
		}
		for _, dep := range pb.Dependencies {
			if dep.PBID == pb.ID {
				return &DependencyError{PBID: pb.ID, Reason: "depends on itself"}
			}
			if _, ok := declared[dep.PBID]; ok {
				continue
			}
			if _, ok := committed[dep.PBID]; ok {
				continue
			}
			return &DependencyError{
				PBID:   pb.ID,
				Ref:    dep.PBID,
				Reason: "dependency references unknown pb_id",
			}
		}
	}

	// Cycle detection over the declared blocks only. Committed blocks were
	// acyclic when accepted and cannot depend on blocks declared later, so
	// edges into the committed set never close a cycle.
	colour := make([]int, len(blocks))
	var stack []string

	var visit func(i int) []string
	visit = func(i int) []string {
		colour[i] = grey
		stack = append(stack, blocks[i].ID)
		for _, dep := range blocks[i].Dependencies {
			j, ok := declared[dep.PBID]
			if !ok {
				continue // committed block, cannot be on a cycle
			}
			switch colour[j] {
			case grey:
				return closeCycle(stack, dep.PBID)
			case white:
				if cycle := visit(j); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[i] = black
		return nil
	}

	for i := range blocks {
		if colour[i] != white {
			continue
		}
		stack = stack[:0]
		if cycle := visit(i); cycle != nil {
			return &DependencyError{Cycle: cycle, Reason: "dependency cycle"}
		}
	}

	return nil
}

// closeCycle trims the traversal stack to the portion forming the cycle and
// repeats the entry block at the end for readability.
func closeCycle(stack []string, entry string) []string {
	start := 0
	for i, id := range stack {
		if id == entry {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(stack)-start+1)
	cycle = append(cycle, stack[start:]...)
	cycle = append(cycle, entry)
	return cycle
}
