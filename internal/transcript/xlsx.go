package transcript

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/pkg/utils"
	"github.com/xuri/excelize/v2"
)

// Header names recognized by LoadXLSX, compared after accent folding.
var (
	idHeaders       = []string{"id", "transcript_id", "call_id", "id_llamada"}
	textHeaders     = []string{"text", "transcript", "transcripcion", "texto"}
	dateHeaders     = []string{"date", "fecha"}
	durationHeaders = []string{"duration", "duration_seconds", "duracion"}
)

// MetaDate is the metadata key for a dataset's call date column.
const MetaDate = "date"

type columns struct {
	id, text, date, duration int
}

// LoadXLSX reads transcripts from the first sheet of the workbook at path. The first row
// holding both an id and a text header is the header row; later rows become records.
func LoadXLSX(path string) ([]models.Transcript, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

// ReadXLSX is LoadXLSX over an already open reader.
func ReadXLSX(r io.Reader) ([]models.Transcript, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

func readWorkbook(f *excelize.File) ([]models.Transcript, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	headerRow := -1
	var cols columns
	for i, row := range rows {
		if c, ok := detectColumns(row); ok {
			headerRow, cols = i, c
			break
		}
	}
	if headerRow < 0 {
		return nil, fmt.Errorf("sheet %q: no header row with id and text columns", sheets[0])
	}

	var out []models.Transcript
	for _, row := range rows[headerRow+1:] {
		id := strings.TrimSpace(cell(row, cols.id))
		text := strings.TrimSpace(cell(row, cols.text))
		if id == "" && text == "" {
			continue
		}
		meta := map[string]string{MetaSource: sheets[0]}
		if v := strings.TrimSpace(cell(row, cols.date)); v != "" {
			meta[MetaDate] = v
		}
		if v := strings.TrimSpace(cell(row, cols.duration)); v != "" {
			meta[MetaDuration] = v
		}
		out = append(out, models.Transcript{ID: id, Text: text, Metadata: meta})
	}
	return out, nil
}

func detectColumns(row []string) (columns, bool) {
	c := columns{id: -1, text: -1, date: -1, duration: -1}
	for i, h := range row {
		h = utils.FoldAccents(strings.TrimSpace(h))
		switch {
		case c.id < 0 && slices.Contains(idHeaders, h):
			c.id = i
		case c.text < 0 && slices.Contains(textHeaders, h):
			c.text = i
		case c.date < 0 && slices.Contains(dateHeaders, h):
			c.date = i
		case c.duration < 0 && slices.Contains(durationHeaders, h):
			c.duration = i
		}
	}
	return c, c.id >= 0 && c.text >= 0
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
