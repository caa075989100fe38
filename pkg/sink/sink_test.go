package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opusatlas/refdata/pkg/models"
)

func sampleEntity() *models.CanonicalEntity {
	return &models.CanonicalEntity{
		Kind:        models.KindComposer,
		DisplayName: "Dvořák, Antonín",
		SortKey:     "dvorak, antonin",
		BirthYear:   1841,
		DeathYear:   1904,
		Sources:     []string{"clmu", "openopus"},
	}
}

func TestRegistryListsBuiltInSinks(t *testing.T) {
	names := List()
	assert.Contains(t, names, "jsonl")
	assert.Contains(t, names, "csv")
	assert.Contains(t, names, "postgres")
	assert.Contains(t, names, "memory")
}

func TestCreateUnknownSink(t *testing.T) {
	_, err := Create("carrier_pigeon", nil, zap.NewNop())
	require.Error(t, err)
}

func TestJSONLSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := Create("jsonl", map[string]string{"path": path}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Accept(ctx, sampleEntity()))

	second := sampleEntity()
	second.SortKey = "faure, gabriel"
	second.DisplayName = "Fauré, Gabriel"
	require.NoError(t, s.Accept(ctx, second))
	require.NoError(t, s.Close(ctx))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []models.CanonicalEntity
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e models.CanonicalEntity
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "Dvořák, Antonín", lines[0].DisplayName)
	assert.Equal(t, 1841, lines[0].BirthYear)
	assert.Equal(t, []string{"clmu", "openopus"}, lines[0].Sources)
	assert.Equal(t, "faure, gabriel", lines[1].SortKey)
}

func TestJSONLSinkAcceptBeforeOpen(t *testing.T) {
	s, err := Create("jsonl", map[string]string{"path": filepath.Join(t.TempDir(), "x.jsonl")}, zap.NewNop())
	require.NoError(t, err)
	require.Error(t, s.Accept(context.Background(), sampleEntity()))
}

func TestCSVSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := Create("csv", map[string]string{"path": path}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	e := sampleEntity()
	require.NoError(t, s.Accept(ctx, e))

	w := &models.CanonicalEntity{
		Kind:        models.KindWork,
		DisplayName: "Symphony No. 9, Op. 95",
		SortKey:     "dvorak, antonin/symphony no. 9",
		Title:       "Symphony No. 9, Op. 95",
		ComposerKey: "dvorak, antonin",
		CatalogNo:   "Op. 95",
		Sources:     []string{"imslp"},
	}
	require.NoError(t, s.Accept(ctx, w))
	require.NoError(t, s.Close(ctx))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 rows
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "composer", rows[1][0])
	assert.Equal(t, "1841", rows[1][3])
	assert.Equal(t, "", rows[1][5], "absent year stays empty, not zero")
	assert.Equal(t, "Op. 95", rows[2][8])
	assert.Equal(t, "imslp", rows[2][10])
}

func TestMemorySinkKeysByIdentity(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	e := sampleEntity()
	require.NoError(t, s.Accept(ctx, e))

	// a second accept for the same identity overwrites, not duplicates
	update := sampleEntity()
	update.FlourishedYear = 0
	update.DeathYear = 1904
	require.NoError(t, s.Accept(ctx, update))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, s.Accepts())

	got, ok := s.Get(models.IdentityKey{Kind: models.KindPerson, SortKey: "dvorak, antonin"})
	require.True(t, ok)
	assert.Equal(t, 1904, got.DeathYear)

	require.NoError(t, s.Close(ctx))
	require.Error(t, s.Accept(ctx, e), "accept after close must fail")
}

func TestPostgresSinkRequiresDSN(t *testing.T) {
	t.Setenv("REFDATA_POSTGRES_DSN", "")
	_, err := Create("postgres", nil, zap.NewNop())
	require.Error(t, err)
}
