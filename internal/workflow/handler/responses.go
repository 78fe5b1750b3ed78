package handler

import (
	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
	"crvs/pkg/platform/audit"
)

// RecordResponse is the full record bundle plus derived lifecycle fields.
type RecordResponse struct {
	*models.Record
	Status            models.State `json:"status"`
	Version           int64        `json:"version"`
	PendingCorrection bool         `json:"pendingCorrection"`
}

func toRecordResponse(rec *models.Record) RecordResponse {
	return RecordResponse{
		Record:            rec,
		Status:            rec.Status(),
		Version:           rec.Version(),
		PendingCorrection: rec.HasPendingCorrection(),
	}
}

// AuditTrailResponse lists a record's audit events in sequence order.
type AuditTrailResponse struct {
	RecordID id.RecordID   `json:"recordId"`
	Events   []audit.Event `json:"events"`
}
