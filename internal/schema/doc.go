// Package schema provides the versioned JSON-schema registry and payload
// validator for the payload-bearing commands (AssignResources, Configure,
// Scan).
//
// Each command has one schema document per supported version, embedded in
// the binary and compiled once at startup. A payload selects its version
// through the optional `interface` field of the envelope:
//
//	{"interface": "https://schema.radioastro.dev/sdp-assignres/0.3", ...}
//
// When no interface is declared, the oldest supported version (0.2) is used
// so that pre-versioning clients keep working. Naming an unregistered
// version is a *VersionError; structural violations are collected into a
// single *ValidationError with one JSON-pointer-located entry per failed
// constraint.
//
// The schemas treat the envelope and scan-type objects as open (extra
// descriptive fields are carried opaquely), while processing-block,
// workflow and dependency objects are closed.
package schema
