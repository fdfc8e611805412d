package exports

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "owner", "approved", "margin", "committed", "entry_rate", "entry_timestamp",
	"created_at", "leverage", "mark_rate", "cash_out", "reached_maintenance", "as_of",
}

// PositionsCSV renders rows as CSV and returns the payload with its checksum.
func PositionsCSV(rows []Row) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatUint(row.ID, 10),
			row.Owner,
			row.Approved,
			row.Margin,
			row.Committed,
			row.EntryRate,
			strconv.FormatUint(row.EntryTimestamp, 10),
			strconv.FormatUint(row.CreatedAt, 10),
			strconv.FormatUint(row.Leverage, 10),
			row.MarkRate,
			row.CashOut,
			strconv.FormatBool(row.ReachedMaintenance),
			row.AsOf.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, Checksum(data), nil
}
