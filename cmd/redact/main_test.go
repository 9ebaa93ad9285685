package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/etl"
)

func TestScanCommand(t *testing.T) {
	cmd := newScanCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{`{"name": "Jane Doe", "phone": "9876543210", "age": 40}`})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, `{"name":"JXXX DXXX","phone":"98XXXXXX10","age":40}`+"\n", out.String())
}

func TestScanCommandStdin(t *testing.T) {
	cmd := newScanCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("{\"comment\": \"nothing here\"}\n"))
	cmd.SetArgs([]string{"--findings"})

	require.NoError(t, cmd.Execute())
	assert.JSONEq(t, `{"redacted":{"comment":"nothing here"},"has_pii":false,"findings":[]}`, out.String())
}

func TestScanCommandMalformed(t *testing.T) {
	cmd := newScanCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{`{not json`})

	assert.Error(t, cmd.Execute())
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "records.csv")
	output := filepath.Join(dir, "redacted.jsonl")
	report := filepath.Join(dir, "report.yaml")

	csv := "record_id,data_json\n" +
		`1,"{""phone"": ""9876543210""}"` + "\n" +
		`2,"{""comment"": ""hello""}"` + "\n"
	require.NoError(t, os.WriteFile(input, []byte(csv), 0o644))

	cmd := newRunCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--input", input, "--output", output, "--report", report, "--workers", "2"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Total records:   2")
	assert.Contains(t, out.String(), "PII records:     1 (50.0%)")
	assert.Contains(t, out.String(), "=== Sample PII Records ===\n1  {\"phone\":\"98XXXXXX10\"}\n")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t,
		`{"record_id":"1","redacted_data_json":"{\"phone\":\"98XXXXXX10\"}","is_pii":true}`+"\n"+
			`{"record_id":"2","redacted_data_json":"{\"comment\":\"hello\"}","is_pii":false}`+"\n",
		string(data))

	assert.FileExists(t, report)
}

func TestRunCommandMissingInput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.csv")

	cmd := newRunCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--input", filepath.Join(dir, "missing.csv"), "--output", output})

	err := cmd.Execute()
	assert.ErrorIs(t, err, etl.ErrInputNotFound)
	assert.NoFileExists(t, output)
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, &etl.Summary{
		RunID:        "run-1",
		Output:       "out.csv",
		TotalRecords: 4,
		PIIRecords:   1,
		PIIRate:      25,
		Malformed:    1,
		Duration:     1500 * time.Millisecond,
	})

	text := out.String()
	assert.Contains(t, text, "PII records:     1 (25.0%)")
	assert.Contains(t, text, "Malformed:       1")
	assert.Contains(t, text, "Duration:        1.5s")
	assert.NotContains(t, text, "Skipped rows")
	assert.NotContains(t, text, "Sample PII Records")
}

func TestRunCommandNoSamples(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "records.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(`{"record_id": "1", "data_json": "{\"phone\": \"9876543210\"}"}`+"\n"), 0o644))

	cmd := newRunCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--input", input, "--output", filepath.Join(dir, "out.csv"), "--samples", "0"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "PII records:     1 (100.0%)")
	assert.NotContains(t, out.String(), "Sample PII Records")
}
