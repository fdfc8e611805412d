package exports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Amounts stay strings: collateral values routinely exceed int64.
type parquetRow struct {
	ID                 int64  `parquet:"name=id, type=INT64"`
	Owner              string `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	Approved           string `parquet:"name=approved, type=BYTE_ARRAY, convertedtype=UTF8"`
	Margin             string `parquet:"name=margin, type=BYTE_ARRAY, convertedtype=UTF8"`
	Committed          string `parquet:"name=committed, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntryRate          string `parquet:"name=entry_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntryTimestamp     int64  `parquet:"name=entry_timestamp, type=INT64"`
	CreatedAt          int64  `parquet:"name=created_at, type=INT64"`
	Leverage           int64  `parquet:"name=leverage, type=INT64"`
	MarkRate           string `parquet:"name=mark_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
	CashOut            string `parquet:"name=cash_out, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReachedMaintenance bool   `parquet:"name=reached_maintenance, type=BOOLEAN"`
	AsOf               string `parquet:"name=as_of, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// PositionsParquet renders rows as a snappy compressed parquet file.
func PositionsParquet(rows []Row) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			ID:                 int64(row.ID),
			Owner:              row.Owner,
			Approved:           row.Approved,
			Margin:             row.Margin,
			Committed:          row.Committed,
			EntryRate:          row.EntryRate,
			EntryTimestamp:     int64(row.EntryTimestamp),
			CreatedAt:          int64(row.CreatedAt),
			Leverage:           int64(row.Leverage),
			MarkRate:           row.MarkRate,
			CashOut:            row.CashOut,
			ReachedMaintenance: row.ReachedMaintenance,
			AsOf:               row.AsOf.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	data := buffer.Bytes()
	return data, Checksum(data), nil
}
