package importer

import (
	"encoding/json"
)

// Stats counts the work done by one import run. The JSON form names unit
// counters after the source's unit, e.g. conversations_processed.
type Stats struct {
	Unit                       string
	CurrentUnit                string
	UnitsProcessed             int
	TotalUnits                 int
	MessagesImported           int
	MessagesCreated            int
	MessagesUpdated            int
	AttachmentsFound           int
	AttachmentsMissing         int
	MissingAttachmentFilenames []string
	Errors                     int
	Cancelled                  bool

	missingSeen map[string]bool
}

// NewStats returns empty stats for a unit name such as "conversations".
func NewStats(unit string) *Stats {
	return &Stats{Unit: unit}
}

// RecordStored counts one stored record.
func (s *Stats) RecordStored(updated bool) {
	s.MessagesImported++
	if updated {
		s.MessagesUpdated++
	} else {
		s.MessagesCreated++
	}
}

// RecordMissing counts a missing attachment and remembers its name once per
// unit, as "unit/filename".
func (s *Stats) RecordMissing(unit, filename string) {
	s.AttachmentsMissing++
	key := filename
	if unit != "" {
		key = unit + "/" + filename
	}
	if s.missingSeen == nil {
		s.missingSeen = make(map[string]bool)
	}
	if !s.missingSeen[key] {
		s.missingSeen[key] = true
		s.MissingAttachmentFilenames = append(s.MissingAttachmentFilenames, key)
	}
}

// Clone returns a copy that shares no mutable state with s.
func (s *Stats) Clone() Stats {
	c := *s
	c.MissingAttachmentFilenames = append([]string(nil), s.MissingAttachmentFilenames...)
	c.missingSeen = nil
	return c
}

// Add merges the counters of o into s.
func (s *Stats) Add(o *Stats) {
	s.UnitsProcessed += o.UnitsProcessed
	s.TotalUnits += o.TotalUnits
	s.MessagesImported += o.MessagesImported
	s.MessagesCreated += o.MessagesCreated
	s.MessagesUpdated += o.MessagesUpdated
	s.AttachmentsFound += o.AttachmentsFound
	s.Errors += o.Errors
	s.Cancelled = s.Cancelled || o.Cancelled
	s.AttachmentsMissing += o.AttachmentsMissing
	for _, name := range o.MissingAttachmentFilenames {
		if s.missingSeen == nil {
			s.missingSeen = make(map[string]bool)
			for _, seen := range s.MissingAttachmentFilenames {
				s.missingSeen[seen] = true
			}
		}
		if !s.missingSeen[name] {
			s.missingSeen[name] = true
			s.MissingAttachmentFilenames = append(s.MissingAttachmentFilenames, name)
		}
	}
}

// MarshalJSON encodes the stats with unit-specific counter names.
func (s Stats) MarshalJSON() ([]byte, error) {
	unit := s.Unit
	if unit == "" {
		unit = "units"
	}
	missing := s.MissingAttachmentFilenames
	if missing == nil {
		missing = []string{}
	}
	return json.Marshal(map[string]any{
		unit + "_processed":            s.UnitsProcessed,
		"total_" + unit:                s.TotalUnits,
		"messages_imported":            s.MessagesImported,
		"messages_created":             s.MessagesCreated,
		"messages_updated":             s.MessagesUpdated,
		"attachments_found":            s.AttachmentsFound,
		"attachments_missing":          s.AttachmentsMissing,
		"missing_attachment_filenames": missing,
		"errors":                       s.Errors,
		"cancelled":                    s.Cancelled,
	})
}
