// Package sbi models Scheduling Block Instances: the execution block,
// its scan types and its processing blocks, as carried by AssignResources
// and Configure payloads.
//
// The package decodes schema-validated payloads of any supported version
// into one internal model, and checks the semantic rules that JSON schemas
// cannot express: scheduling block and processing block id uniqueness
// against everything committed before, realtime workflows taking no
// dependencies, and the dependency graph being acyclic with every
// reference resolvable against the batch blocks of the same SBI or the set
// of previously committed blocks.
package sbi
