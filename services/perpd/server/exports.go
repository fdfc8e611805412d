package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"hedgeline/integrations/exports"
)

type exportFormat struct {
	contentType string
	extension   string
	render      func([]exports.Row) ([]byte, string, error)
}

var exportFormats = map[string]exportFormat{
	"csv":     {contentType: "text/csv", extension: "csv", render: exports.PositionsCSV},
	"jsonl":   {contentType: "application/x-ndjson", extension: "jsonl", render: exports.PositionsJSONL},
	"parquet": {contentType: "application/vnd.apache.parquet", extension: "parquet", render: exports.PositionsParquet},
}

// handleExportPositions snapshots every open position. Rows are priced at
// ?rate= when given and at the oracle's lower rate otherwise.
func (s *Server) handleExportPositions(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if name == "" {
		name = "csv"
	}
	format, ok := exportFormats[name]
	if !ok {
		s.fail(w, r, badRequest("unknown export format %q", name))
		return
	}
	rate, err := parseOptionalAmount("rate", r.URL.Query().Get("rate"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rate == nil {
		rate, err = s.stack.Oracle.ReadLower(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}
	asOf := time.Now().UTC()
	rows, err := exports.BuildRows(s.stack.Engine.ListPerpetuals(), s.stack.Engine, rate, asOf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, checksum, err := format.render(rows)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=positions-%s.%s", asOf.Format("20060102T150405Z"), format.extension))
	w.Header().Set("X-Checksum-Blake3", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
