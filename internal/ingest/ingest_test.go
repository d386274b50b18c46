package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

const sampleCSV = `transaction_id,bank_id,customer_id,amount,transaction_date,transaction_type
T1,BNK001,C1,100.00,2025-01-01,TRANSFER
T2,BNK001,,250.50,2025-01-01,
`

func TestReadCSV(t *testing.T) {
	batch, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"transaction_id", "bank_id", "customer_id", "amount", "transaction_date", "transaction_type"}, batch.Columns)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, "100.00", batch.Records[0]["amount"])
	assert.Nil(t, batch.Records[1]["customer_id"])
	assert.Nil(t, batch.Records[1]["transaction_type"])
	_, present := batch.Records[1]["customer_id"]
	assert.True(t, present)
}

func TestReadCSVEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		records int
	}{
		{name: "empty input", input: "", records: 0},
		{name: "header only", input: "bank_id,amount\n", records: 0},
		{name: "bom header", input: "\ufeffbank_id,amount\nB1,1\n", records: 1},
		{name: "ragged row", input: "bank_id,amount\nB1\n", wantErr: "line 2"},
		{name: "duplicate header", input: "amount,amount\n1,2\n", wantErr: "duplicate header"},
		{name: "blank header", input: "bank_id,\nB1,2\n", wantErr: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := ReadCSV(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.records, batch.Len())
			if tt.name == "bom header" {
				assert.True(t, batch.HasColumn("bank_id"))
			}
		})
	}
}

func TestReadJSON(t *testing.T) {
	input := `[
		{"transaction_id": "T1", "bank_id": "BNK001", "amount": 100.5, "transaction_date": "2025-01-01"},
		{"transaction_id": "T2", "bank_id": "BNK002", "customer_id": null, "amount": "12", "memo": "x"}
	]`

	batch, err := ReadJSON(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"transaction_id", "bank_id", "amount", "transaction_date", "customer_id", "memo"}, batch.Columns)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, json.Number("100.5"), batch.Records[0]["amount"])
	assert.Equal(t, "12", batch.Records[1]["amount"])
	assert.Nil(t, batch.Records[1]["customer_id"])
}

func TestReadJSONWrapped(t *testing.T) {
	for _, key := range []string{"records", "transactions"} {
		batch, err := ReadJSON(strings.NewReader(`{"` + key + `": [{"bank_id": "B1"}]}`))
		require.NoError(t, err, key)
		assert.Equal(t, 1, batch.Len(), key)
	}
}

func TestReadJSONErrors(t *testing.T) {
	_, err := ReadJSON(strings.NewReader(`[1, 2]`))
	assert.Error(t, err)

	_, err = ReadJSON(strings.NewReader(`{"records": [`))
	assert.Error(t, err)

	batch, err := ReadJSON(strings.NewReader("  "))
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Len())
}

func TestFormatDetection(t *testing.T) {
	f, err := FormatForPath("/tmp/batch.CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = FormatForContentType("application/json; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = FormatForPath("batch.xlsx")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = FormatForContentType("text/plain")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	batch, sum, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Len())
	assert.Equal(t, Checksum([]byte(sampleCSV)), sum)
	assert.Len(t, sum, 64)

	_, _, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	batch := models.NewBatch([]string{"transaction_id", "amount", "note"}, []models.RawRecord{
		{"transaction_id": "T1", "amount": 100.5, "note": "a, b"},
		{"transaction_id": "T2", "amount": nil, "note": json.Number("7")},
		{"transaction_id": "T3", "amount": -100.0},
	})

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, batch))
	assert.Equal(t, "transaction_id,amount,note\nT1,100.5,\"a, b\"\nT2,,7\nT3,-100,\n", buf.String())

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, batch.Columns, back.Columns)
	require.Equal(t, 3, back.Len())
	assert.Nil(t, back.Records[1]["amount"])
	assert.Nil(t, back.Records[2]["note"])
	assert.Equal(t, "a, b", back.Records[0]["note"])
}
