package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type cycleRow struct {
	CycleID     string `parquet:"name=cycle_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Cycle       int64  `parquet:"name=cycle, type=INT64"`
	Reward      string `parquet:"name=reward, type=BYTE_ARRAY, convertedtype=UTF8"`
	AddedStable string `parquet:"name=added_stable, type=BYTE_ARRAY, convertedtype=UTF8"`
	AddedLP     string `parquet:"name=added_lp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Depositors  int32  `parquet:"name=depositors, type=INT32"`
	RecordedAt  string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportCycles writes every journaled compounding cycle, oldest first, to w
// as a Snappy-compressed parquet file and returns the number of rows written.
// Amounts stay decimal strings so values beyond 64 bits survive.
func (j *Journal) ExportCycles(ctx context.Context, w io.Writer) (int, error) {
	if j == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT cycle_id, cycle, reward, added_stable, added_lp, depositors, recorded_at
        FROM compound_cycles
        ORDER BY id ASC
    `)
	if err != nil {
		return 0, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(w), new(cycleRow), 1)
	if err != nil {
		return 0, fmt.Errorf("parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	count := 0
	for rows.Next() {
		var (
			row        cycleRow
			number     string
			recordedAt time.Time
		)
		if err := rows.Scan(&row.CycleID, &number, &row.Reward, &row.AddedStable, &row.AddedLP, &row.Depositors, &recordedAt); err != nil {
			pw.WriteStop()
			return 0, fmt.Errorf("scan cycle: %w", err)
		}
		row.Cycle, err = strconv.ParseInt(number, 10, 64)
		if err != nil {
			pw.WriteStop()
			return 0, fmt.Errorf("parse cycle number: %w", err)
		}
		row.RecordedAt = recordedAt.UTC().Format(time.RFC3339Nano)
		if err := pw.Write(&row); err != nil {
			pw.WriteStop()
			return 0, fmt.Errorf("parquet write: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		pw.WriteStop()
		return 0, fmt.Errorf("iterate cycles: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		return 0, fmt.Errorf("parquet flush: %w", err)
	}
	return count, nil
}
