package e2e

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// CallLog renders call as a timestamped .txt log with a closing system line.
func CallLog(call Call) []byte {
	var b strings.Builder
	sec := 0
	for _, t := range call.Turns {
		fmt.Fprintf(&b, "[%02d:%02d:%02d] %s: %s\n", sec/3600, sec/60%60, sec%60, t.Speaker, t.Text)
		sec += 17
	}
	fmt.Fprintf(&b, "[%02d:%02d:%02d] *** LLAMADA FINALIZADA ***\n", sec/3600, sec/60%60, sec%60)
	return []byte(b.String())
}

// WriteWorkbook saves calls as a dataset workbook with a title row above the header.
func WriteWorkbook(path string, calls []Call) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Exportación de llamadas"},
		{"ID_Llamada", "Transcripción", "Fecha", "Duración"},
	}
	for _, c := range calls {
		rows = append(rows, []any{c.ID, c.Text(), c.Date, len(c.Turns) * 17})
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cellRef, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
