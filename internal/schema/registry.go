package schema

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// InterfaceBase is the base URI of the control interface schemas. A payload
// declares its schema as "<base>/sdp-<tag>/<version>" in the `interface`
// field of the envelope.
const InterfaceBase = "https://schema.radioastro.dev"

// Command tags for the payload-bearing commands.
const (
	TagAssignResources = "assignres"
	TagConfigure       = "configure"
	TagScan            = "scan"
)

// Schema versions.
const (
	// VersionDefault is the version used when a payload declares no
	// interface. It is the oldest supported version, kept for backward
	// compatibility with older clients.
	VersionDefault = "0.2"

	// VersionLatest is the most recent schema version.
	VersionLatest = "0.3"
)

//go:embed schemas/*.json
var schemasFS embed.FS

// Registry holds one compiled JSON schema per (command tag, version) pair.
//
// Schemas are embedded in the binary and compiled once at construction;
// nothing is re-read from disk on the command path.
//
// Thread Safety: the registry is immutable after NewRegistry and safe for
// concurrent use.
type Registry struct {
	schemas map[string]*jsonschema.Schema // keyed by "<tag>/<version>"
}

// NewRegistry compiles all embedded schemas and returns the registry.
//
// Schema filenames follow "<tag>-<version>.json"; each document's $id is the
// interface URI it is resolved by.
func NewRegistry() (*Registry, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	entries, err := fs.ReadDir(schemasFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("reading embedded schemas: %w", err)
	}

	r := &Registry{schemas: make(map[string]*jsonschema.Schema, len(entries))}

	type pending struct {
		key string
		uri string
	}
	var all []pending

	for _, entry := range entries {
		name := entry.Name()
		tag, version, ok := parseSchemaFilename(name)
		if !ok {
			continue
		}

		data, err := fs.ReadFile(schemasFS, "schemas/"+name)
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", name, err)
		}

		uri := InterfaceURI(tag, version)
		if err := compiler.AddResource(uri, strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", name, err)
		}
		all = append(all, pending{key: schemaKey(tag, version), uri: uri})
	}

	for _, p := range all {
		compiled, err := compiler.Compile(p.uri)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", p.uri, err)
		}
		r.schemas[p.key] = compiled
	}

	return r, nil
}

// InterfaceURI returns the interface URI for a (tag, version) pair.
//
// Example: InterfaceURI("assignres", "0.3") returns
// "https://schema.radioastro.dev/sdp-assignres/0.3".
func InterfaceURI(tag, version string) string {
	return InterfaceBase + "/sdp-" + tag + "/" + version
}

// Versions returns the registered versions for a command tag, oldest first.
func (r *Registry) Versions(tag string) []string {
	prefix := tag + "/"
	var versions []string
	for key := range r.schemas {
		if strings.HasPrefix(key, prefix) {
			versions = append(versions, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(versions)
	return versions
}

// ResolveVersion determines which schema version a payload should be
// validated against.
//
// If the payload carries an `interface` field, it must name a registered
// version of this command's schema; otherwise the default (oldest) version
// is used. An unregistered or foreign interface yields a *VersionError.
func (r *Registry) ResolveVersion(tag string, payload map[string]any) (string, error) {
	if len(r.Versions(tag)) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, tag)
	}

	raw, declared := payload["interface"]
	if !declared {
		return VersionDefault, nil
	}

	uri, ok := raw.(string)
	if !ok {
		return "", &VersionError{Tag: tag, Interface: fmt.Sprint(raw)}
	}

	prefix := InterfaceBase + "/sdp-" + tag + "/"
	if !strings.HasPrefix(uri, prefix) {
		return "", &VersionError{Tag: tag, Interface: uri}
	}
	version := strings.TrimPrefix(uri, prefix)
	if _, ok := r.schemas[schemaKey(tag, version)]; !ok {
		return "", &VersionError{Tag: tag, Interface: uri, Version: version}
	}
	return version, nil
}

// Validate decodes a raw payload, resolves its schema version and validates
// it structurally.
//
// On success it returns the resolved version and the decoded payload. On
// failure it returns a *VersionError, *ValidationError or an error wrapping
// ErrDecode; in every case the payload has caused no side effects.
func (r *Registry) Validate(tag string, raw []byte) (string, map[string]any, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	payload, ok := decoded.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("%w: got %T", ErrDecode, decoded)
	}

	version, err := r.ResolveVersion(tag, payload)
	if err != nil {
		return "", nil, err
	}

	compiled := r.schemas[schemaKey(tag, version)]
	if err := compiled.Validate(decoded); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return "", nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return "", nil, &ValidationError{
			Tag:        tag,
			Version:    version,
			Violations: flattenViolations(ve),
		}
	}

	return version, payload, nil
}

// schemaKey builds the registry map key for a (tag, version) pair.
func schemaKey(tag, version string) string {
	return tag + "/" + version
}

// parseSchemaFilename extracts tag and version from "<tag>-<version>.json".
func parseSchemaFilename(name string) (tag, version string, ok bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", "", false
	}
	base := strings.TrimSuffix(name, ".json")
	idx := strings.LastIndex(base, "-")
	if idx <= 0 || idx == len(base)-1 {
		return "", "", false
	}
	return base[:idx], base[idx+1:], true
}

// flattenViolations walks the validation error tree and collects the leaf
// causes, each located by its JSON pointer path. The library reports every
// failed constraint, so callers see all violations in one pass.
func flattenViolations(ve *jsonschema.ValidationError) []Violation {
	if len(ve.Causes) == 0 {
		return []Violation{{Path: ve.InstanceLocation, Message: ve.Message}}
	}
	var out []Violation
	for _, cause := range ve.Causes {
		out = append(out, flattenViolations(cause)...)
	}
	return out
}
