// Package models defines the persistent entities of the document service:
// documents, OCR jobs, and access log entries, together with their status
// enums and the domain errors shared across services.
//
// Entities are owned by the metastore; services hold read-through copies and
// apply every mutation through the metastore's typed operations.
package models

// AllModels returns all models for database auto-migration.
func AllModels() []any {
	return []any{
		&Document{},
		&OCRJob{},
		&AccessLog{},
	}
}
