// Package report renders admin analytics as spreadsheet-friendly CSV.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shinyyama/komemarche-backend/internal/service"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

var statsHeader = []string{"農家ID", "受取枠", "受取日時", "確定", "キャンセル", "未決済", "確定重量(kg)", "キャンセル率(%)"}

// WriteStatsCSV writes rows as CSV. With sjis set the output is Shift_JIS encoded so Excel
// opens it without garbling the Japanese header.
func WriteStatsCSV(w io.Writer, rows []service.OccurrenceStats, sjis bool) error {
	out := w
	var enc io.WriteCloser
	if sjis {
		enc = transform.NewWriter(w, japanese.ShiftJIS.NewEncoder())
		out = enc
	}
	cw := csv.NewWriter(out)
	cw.UseCRLF = true
	if err := cw.Write(statsHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.FormatUint(r.FarmID, 10),
			r.SlotCode,
			r.EventStart.Format("2006-01-02 15:04"),
			strconv.FormatInt(r.Confirmed, 10),
			strconv.FormatInt(r.Cancelled, 10),
			strconv.FormatInt(r.Pending, 10),
			strconv.FormatInt(r.ConfirmedWeightKg, 10),
			fmt.Sprintf("%.1f", r.CancellationRate*100),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if enc != nil {
		return enc.Close()
	}
	return nil
}

// StatsFilename names an export covering [from, to).
func StatsFilename(from, to time.Time) string {
	return fmt.Sprintf("reservation-stats_%s_%s.csv", from.Format("20060102"), to.Format("20060102"))
}
