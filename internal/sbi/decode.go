package sbi

import (
	"fmt"
)

// Per-version payload decoding.
//
// Versions 0.2 and 0.3 use different field names for the same semantic
// entities (0.2: id/type/coordinate_system, 0.3: eb_id/pb_id/kind/name/
// reference_frame). Each version is validated against its own schema; the
// decoders below normalise both shapes into the internal model, so nothing
// downstream of AssignResources needs to know which version arrived.

// Schema versions understood by the decoders.
const (
	Version02 = "0.2"
	Version03 = "0.3"
)

// ConfigureRequest is the decoded form of a Configure payload.
type ConfigureRequest struct {
	// ScanType is the scan type id to make current.
	ScanType string

	// NewScanTypes are appended to the SBI before ScanType is resolved.
	NewScanTypes []ScanType
}

// DecodeAssignResources converts a schema-validated AssignResources payload
// of the given version into a SchedulingBlock.
func DecodeAssignResources(version string, payload map[string]any) (*SchedulingBlock, error) {
	idField := "eb_id"
	if version == Version02 {
		idField = "id"
	}

	id, ok := payload[idField].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedPayload, idField)
	}
	maxLength, ok := toFloat(payload["max_length"])
	if !ok {
		return nil, fmt.Errorf("%w: missing max_length", ErrMalformedPayload)
	}

	scanTypes, err := decodeScanTypes(version, payload["scan_types"])
	if err != nil {
		return nil, err
	}

	rawBlocks, ok := payload["processing_blocks"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing processing_blocks", ErrMalformedPayload)
	}
	blocks := make([]ProcessingBlock, 0, len(rawBlocks))
	for _, raw := range rawBlocks {
		pb, err := decodeProcessingBlock(version, raw)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, pb)
	}

	return &SchedulingBlock{
		ID:               id,
		MaxLength:        maxLength,
		ScanTypes:        scanTypes,
		ProcessingBlocks: blocks,
	}, nil
}

// DecodeConfigure converts a schema-validated Configure payload of the
// given version into a ConfigureRequest.
func DecodeConfigure(version string, payload map[string]any) (*ConfigureRequest, error) {
	scanType, ok := payload["scan_type"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing scan_type", ErrMalformedPayload)
	}

	req := &ConfigureRequest{ScanType: scanType}
	if raw, present := payload["new_scan_types"]; present {
		types, err := decodeScanTypes(version, raw)
		if err != nil {
			return nil, err
		}
		req.NewScanTypes = types
	}
	return req, nil
}

// DecodeScan converts a schema-validated Scan payload of the given version
// into a scan id.
func DecodeScan(version string, payload map[string]any) (int64, error) {
	idField := "scan_id"
	if version == Version02 {
		idField = "id"
	}
	id, ok := toFloat(payload[idField])
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedPayload, idField)
	}
	return int64(id), nil
}

// decodeScanTypes decodes a scan_types/new_scan_types array, keeping all
// descriptive fields opaque apart from the id.
func decodeScanTypes(version string, raw any) ([]ScanType, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: scan_types is not an array", ErrMalformedPayload)
	}

	idField := "scan_type_id"
	if version == Version02 {
		idField = "id"
	}

	types := make([]ScanType, 0, len(list))
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: scan type is not an object", ErrMalformedPayload)
		}
		id, ok := obj[idField].(string)
		if !ok {
			return nil, fmt.Errorf("%w: scan type missing %s", ErrMalformedPayload, idField)
		}

		fields := make(map[string]any, len(obj))
		for k, v := range obj {
			if k == idField {
				continue
			}
			// 0.2 used coordinate_system for what 0.3 calls reference_frame.
			if version == Version02 && k == "coordinate_system" {
				fields["reference_frame"] = v
				continue
			}
			fields[k] = v
		}
		types = append(types, ScanType{ID: id, Fields: fields})
	}
	return types, nil
}

// decodeProcessingBlock decodes one processing block entry.
func decodeProcessingBlock(version string, raw any) (ProcessingBlock, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return ProcessingBlock{}, fmt.Errorf("%w: processing block is not an object", ErrMalformedPayload)
	}

	idField, kindField, nameField, depKindField := "pb_id", "kind", "name", "kind"
	if version == Version02 {
		idField, kindField, nameField, depKindField = "id", "type", "id", "type"
	}

	id, ok := obj[idField].(string)
	if !ok {
		return ProcessingBlock{}, fmt.Errorf("%w: processing block missing %s", ErrMalformedPayload, idField)
	}

	wfObj, ok := obj["workflow"].(map[string]any)
	if !ok {
		return ProcessingBlock{}, fmt.Errorf("%w: processing block %s missing workflow", ErrMalformedPayload, id)
	}
	kind, _ := wfObj[kindField].(string)
	name, _ := wfObj[nameField].(string)
	wfVersion, _ := wfObj["version"].(string)

	params, _ := obj["parameters"].(map[string]any)

	pb := ProcessingBlock{
		ID:         id,
		Workflow:   Workflow{Kind: kind, Name: name, Version: wfVersion},
		Parameters: params,
	}

	if rawDeps, present := obj["dependencies"]; present {
		deps, ok := rawDeps.([]any)
		if !ok {
			return ProcessingBlock{}, fmt.Errorf("%w: processing block %s dependencies is not an array", ErrMalformedPayload, id)
		}
		for _, rawDep := range deps {
			depObj, ok := rawDep.(map[string]any)
			if !ok {
				return ProcessingBlock{}, fmt.Errorf("%w: processing block %s dependency is not an object", ErrMalformedPayload, id)
			}
			pbID, _ := depObj["pb_id"].(string)
			var labels []string
			if rawLabels, ok := depObj[depKindField].([]any); ok {
				for _, l := range rawLabels {
					if s, ok := l.(string); ok {
						labels = append(labels, s)
					}
				}
			}
			pb.Dependencies = append(pb.Dependencies, Dependency{PBID: pbID, Kind: labels})
		}
	}

	return pb, nil
}

// toFloat converts a decoded JSON number to float64.
func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
