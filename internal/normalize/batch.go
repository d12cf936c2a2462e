package normalize

import (
	"fmt"

	"github.com/greenworks/execdash/internal/connector"
	"github.com/greenworks/execdash/internal/storage"
)

// Batch holds the rows produced from one connector pull. Records that failed
// normalization are listed in Errors and produce no row.
type Batch struct {
	Calls       []storage.CallRow
	Messages    []storage.MessageRow
	Leads       []storage.LeadRow
	Inspections []storage.InspectionRow
	Errors      []error
}

// Rows returns the number of successfully normalized records.
func (b Batch) Rows() int {
	return len(b.Calls) + len(b.Messages) + len(b.Leads) + len(b.Inspections)
}

// Records normalizes each record independently.
func Records(records []connector.RawRecord) Batch {
	var b Batch
	for _, r := range records {
		if err := b.add(r); err != nil {
			b.Errors = append(b.Errors, err)
		}
	}
	return b
}

func (b *Batch) add(r connector.RawRecord) error {
	switch r.Kind {
	case connector.KindCall:
		row, err := Call(r.Payload)
		if err != nil {
			return err
		}
		b.Calls = append(b.Calls, row)
	case connector.KindMessage:
		row, err := Message(r.Payload)
		if err != nil {
			return err
		}
		b.Messages = append(b.Messages, row)
	case connector.KindLead:
		row, err := Lead(r.Payload)
		if err != nil {
			return err
		}
		b.Leads = append(b.Leads, row)
	case connector.KindInspection:
		row, err := Inspection(r.Payload)
		if err != nil {
			return err
		}
		b.Inspections = append(b.Inspections, row)
	default:
		return &NormalizationError{Kind: r.Kind, Reason: fmt.Sprintf("unknown record kind %q", r.Kind)}
	}
	return nil
}
