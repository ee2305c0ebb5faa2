package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"LeadScanner/internal/domain"
)

func sampleTable() domain.LeadTable {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return domain.NewLeadTable([]domain.ObservedItem{
		{Fingerprint: "fp-1", SourceRef: "kenya-car-parts", Text: "WTB clutch kit, Subaru", Quality: domain.QualityHot, Replied: true, EngagementScore: 0.5, CreatedAt: created},
		{Fingerprint: "fp-2", SourceRef: "kenya-car-parts", Text: "need \"OEM\" mirror", Quality: domain.QualityWarm, CreatedAt: created.Add(time.Hour)},
	})
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleTable(), FormatCSV))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, domain.LeadColumns, records[0])
	assert.Equal(t, []string{"fp-1", "kenya-car-parts", "WTB clutch kit, Subaru", "true", "2025-03-14T09:30:00Z", "0.50", "hot"}, records[1])
	assert.Equal(t, `need "OEM" mirror`, records[2][2])
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleTable(), FormatXLSX))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, domain.LeadColumns, rows[0])
	assert.Equal(t, "fp-2", rows[2][0])
	assert.Equal(t, "warm", rows[2][6])

	replied, err := f.GetCellValue(SheetName, "D2")
	require.NoError(t, err)
	assert.Equal(t, "TRUE", replied)
}

func TestWriteEmptyTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, domain.NewLeadTable(nil)))
	assert.Equal(t, "fingerprint,source,text,replied,timestamp,engagement_score,quality\n", buf.String())
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("pdf")
	require.Error(t, err)
	require.Error(t, Write(&bytes.Buffer{}, domain.LeadTable{}, Format("pdf")))
}
