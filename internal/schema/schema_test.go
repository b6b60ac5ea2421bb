package schema

import (
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemas.json")
	content := `[
		{"id":"ds.t1","schema":[
			{"name":"id","type":"STRING","mode":"REQUIRED"},
			{"name":"tags","type":"STRING","mode":"REPEATED"}
		]}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tables, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "ds.t1", tables[0].ID)
	require.Len(t, tables[0].Schema, 2)
	assert.Equal(t, "tags", tables[0].Schema[1].Name)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestBuildRecursesIntoRecords(t *testing.T) {
	columns := []Column{
		{Name: "id", Type: "STRING", Mode: "REQUIRED"},
		{Name: "ios_push", Type: "RECORD", Mode: "NULLABLE", Fields: []Column{
			{Name: "sent", Type: "INTEGER", Mode: "NULLABLE"},
			{Name: "bounces", Type: "INTEGER", Mode: "NULLABLE"},
		}},
		{Name: "tags", Type: "STRING", Mode: "REPEATED"},
	}

	built := Build(columns)
	require.Len(t, built, 3)

	assert.Equal(t, bigquery.StringFieldType, built[0].Type)
	assert.True(t, built[0].Required)

	assert.Equal(t, bigquery.RecordFieldType, built[1].Type)
	require.Len(t, built[1].Schema, 2)
	assert.Equal(t, bigquery.IntegerFieldType, built[1].Schema[0].Type)

	assert.True(t, built[2].Repeated)
	assert.False(t, built[2].Required)
}

func TestRepoSchemaFileParses(t *testing.T) {
	tables, err := LoadFile(filepath.Join("..", "..", "bq_schemas.json"))
	require.NoError(t, err)
	require.Len(t, tables, 3)

	ids := make(map[string]bool)
	for _, table := range tables {
		ids[table.ID] = true
		assert.NotEmpty(t, Build(table.Schema))
	}
	assert.True(t, ids["braze_campaigns.campaign_analytics"])
	assert.True(t, ids["braze_campaigns.campaigns_list"])
	assert.True(t, ids["braze_campaigns.ga_bi_joined_analytics"])
}
