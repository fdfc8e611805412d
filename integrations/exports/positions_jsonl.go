package exports

import (
	"bytes"
	"encoding/json"
	"time"
)

type jsonRow struct {
	ID                 uint64 `json:"id"`
	Owner              string `json:"owner"`
	Approved           string `json:"approved,omitempty"`
	Margin             string `json:"margin"`
	Committed          string `json:"committed"`
	EntryRate          string `json:"entryRate"`
	EntryTimestamp     uint64 `json:"entryTimestamp"`
	CreatedAt          uint64 `json:"createdAt"`
	Leverage           uint64 `json:"leverage"`
	MarkRate           string `json:"markRate,omitempty"`
	CashOut            string `json:"cashOut,omitempty"`
	ReachedMaintenance bool   `json:"reachedMaintenance"`
	AsOf               string `json:"asOf"`
}

// PositionsJSONL renders one JSON object per line.
func PositionsJSONL(rows []Row) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		payload := jsonRow{
			ID:                 row.ID,
			Owner:              row.Owner,
			Approved:           row.Approved,
			Margin:             row.Margin,
			Committed:          row.Committed,
			EntryRate:          row.EntryRate,
			EntryTimestamp:     row.EntryTimestamp,
			CreatedAt:          row.CreatedAt,
			Leverage:           row.Leverage,
			MarkRate:           row.MarkRate,
			CashOut:            row.CashOut,
			ReachedMaintenance: row.ReachedMaintenance,
			AsOf:               row.AsOf.UTC().Format(time.RFC3339),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, Checksum(data), nil
}
