package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/macrobet/internal/domain"
)

// ReportArchive implements domain.ReportArchive as one JSON object per
// event under settlements/.
type ReportArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewReportArchive creates a ReportArchive.
func NewReportArchive(writer domain.BlobWriter, reader domain.BlobReader) *ReportArchive {
	return &ReportArchive{writer: writer, reader: reader}
}

// reportPath is the object key of an event's report:
//
//	settlements/<event id>.json
func reportPath(eventID string) string {
	return fmt.Sprintf("settlements/%s.json", eventID)
}

// Save uploads report, replacing any earlier copy.
func (a *ReportArchive) Save(ctx context.Context, report domain.SettlementReport) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("s3blob: encode report %s: %w", report.EventID, err)
	}
	if err := a.writer.Put(ctx, reportPath(report.EventID), &buf, "application/json"); err != nil {
		return fmt.Errorf("s3blob: save report: %w", err)
	}
	return nil
}

// Load fetches the report of eventID. It returns domain.ErrNotFound when
// the event was never archived.
func (a *ReportArchive) Load(ctx context.Context, eventID string) (domain.SettlementReport, error) {
	body, err := a.reader.Get(ctx, reportPath(eventID))
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: load report: %w", err)
	}
	defer body.Close()

	var report domain.SettlementReport
	if err := json.NewDecoder(body).Decode(&report); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: decode report %s: %w", eventID, err)
	}
	return report, nil
}

var _ domain.ReportArchive = (*ReportArchive)(nil)
