package automation

import (
	"encoding/json"
	"fmt"
)

// DocumentVersion is the current layout version of a registry Document.
const DocumentVersion = 1

// Document is the persisted form of a Registry: its automations in
// evaluation order plus the execution log, newest first.
type Document struct {
	Version     int                 `json:"version"`
	Automations []Automation        `json:"automations"`
	Executions  []ExecutionLogEntry `json:"executions"`
}

// MarshalDocument encodes a document as indented JSON.
func MarshalDocument(doc Document) ([]byte, error) {
	if doc.Automations == nil {
		doc.Automations = []Automation{}
	}
	if doc.Executions == nil {
		doc.Executions = []ExecutionLogEntry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling document: %w", err)
	}
	return data, nil
}

// UnmarshalDocument decodes and structurally checks a document.
//
// Only identity is enforced here: every automation needs a unique ID and a
// name, and every execution entry a unique ID. Action and condition content is accepted as stored, so documents
// written by newer versions still load; unknown action kinds are skipped at
// run time and unknown condition kinds evaluate false.
func UnmarshalDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if doc.Version < 1 || doc.Version > DocumentVersion {
		return Document{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidDocument, doc.Version)
	}

	seen := make(map[string]struct{}, len(doc.Automations))
	for i, a := range doc.Automations {
		if a.ID == "" {
			return Document{}, fmt.Errorf("%w: automation[%d] has no id", ErrInvalidDocument, i)
		}
		if _, dup := seen[a.ID]; dup {
			return Document{}, fmt.Errorf("%w: duplicate automation id %q", ErrInvalidDocument, a.ID)
		}
		seen[a.ID] = struct{}{}
		if err := ValidateName(a.Name); err != nil {
			return Document{}, fmt.Errorf("%w: automation[%d]: %w", ErrInvalidDocument, i, err)
		}
	}

	entries := make(map[string]struct{}, len(doc.Executions))
	for i, e := range doc.Executions {
		if e.ID == "" {
			return Document{}, fmt.Errorf("%w: execution[%d] has no id", ErrInvalidDocument, i)
		}
		if _, dup := entries[e.ID]; dup {
			return Document{}, fmt.Errorf("%w: duplicate execution id %q", ErrInvalidDocument, e.ID)
		}
		entries[e.ID] = struct{}{}
	}
	return doc, nil
}
