package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/surge/internal/clock"
	"github.com/smallbiznis/surge/internal/config"
	householdrepo "github.com/smallbiznis/surge/internal/household/repository"
	"github.com/smallbiznis/surge/internal/storage"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	surgerepo "github.com/smallbiznis/surge/internal/surge/repository"
	"github.com/smallbiznis/surge/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type archiveFixture struct {
	fs         afero.Fs
	store      storage.Storage
	signer     *storage.Signer
	seed       *testutil.Seeder
	surges     surgedomain.Repository
	aggregator *Aggregator
}

func newArchiveFixture(t *testing.T) *archiveFixture {
	t.Helper()

	db := testutil.OpenDB(t)
	fs := afero.NewMemMapFs()
	signer, err := storage.NewSigner("archive-test-secret", "https://surge.test", clock.NewFakeClock(testutil.Epoch))
	require.NoError(t, err)

	f := &archiveFixture{
		fs:     fs,
		store:  storage.NewFromFs(fs),
		signer: signer,
		seed:   testutil.NewSeeder(t, db),
		surges: surgerepo.Provide(),
	}
	f.aggregator = New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Config:     config.Config{Storage: config.StorageConfig{ArchiveURLTTL: 30 * time.Minute}},
		Storage:    f.store,
		Signer:     signer,
		Surges:     f.surges,
		Households: householdrepo.Provide(),
	})
	return f
}

func (f *archiveFixture) storePacket(t *testing.T, s *surgedomain.Surge, householdID snowflake.ID, fileName, body string) {
	t.Helper()
	ctx := context.Background()
	key := surgedomain.PacketKey(s.ID, householdID)
	require.NoError(t, f.store.Put(ctx, key, []byte(body)))
	if fileName == "" {
		return
	}
	require.NoError(t, f.surges.UpsertSnapshot(ctx, f.seed.DB, &surgedomain.Snapshot{
		ID:          f.seed.Node.Generate(),
		OrgID:       s.OrgID,
		SurgeID:     s.ID,
		HouseholdID: householdID,
		StorageKey:  key,
		FileName:    fileName,
		SizeBytes:   int64(len(body)),
		PreparedAt:  testutil.Epoch,
		Reports:     datatypes.NewJSONSlice([]surgedomain.ReportCapture{}),
		Warnings:    datatypes.NewJSONSlice([]surgedomain.WarningCode{}),
		CreatedAt:   testutil.Epoch,
		UpdatedAt:   testutil.Epoch,
	}))
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string]string, len(zr.File))
	for _, file := range zr.File {
		rc, err := file.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[file.Name] = string(body)
	}
	return out
}

func TestNameSet_Claim(t *testing.T) {
	names := newNameSet()
	assert.Equal(t, "smith.pdf", names.claim("smith.pdf"))
	assert.Equal(t, "smith (2).pdf", names.claim("smith.pdf"))
	assert.Equal(t, "smith (3).pdf", names.claim("smith.pdf"))
	assert.Equal(t, "jones.pdf", names.claim("jones.pdf"))
	assert.Equal(t, "README", names.claim("README"))
	assert.Equal(t, "README (2)", names.claim("README"))
}

func TestBuildArchive_StreamsPackets(t *testing.T) {
	ctx := context.Background()
	f := newArchiveFixture(t)

	org := f.seed.Organization(t, "Northwind", "logo.png")
	s := f.seed.Surge(t, org.ID, "Year End", nil, nil, nil)
	first := f.seed.Household(t, org.ID, "Smith Family")
	second := f.seed.Household(t, org.ID, "Smith Family")
	unbuilt := f.seed.Household(t, org.ID, "Jones Family")
	legacy := f.seed.Household(t, org.ID, "Brown Family")

	f.storePacket(t, s, first.ID, "Smith Family - Year End.pdf", "packet-one")
	f.storePacket(t, s, second.ID, "Smith Family - Year End.pdf", "packet-two")
	f.storePacket(t, s, legacy.ID, "", "packet-three")

	ref, err := f.aggregator.BuildArchive(ctx, s.ID, []snowflake.ID{first.ID, unbuilt.ID, second.ID, legacy.ID, 999})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(ref.Key, "surges/"+s.ID.String()+"/archives/year-end-"), ref.Key)
	assert.Equal(t, testutil.Epoch.Add(30*time.Minute), ref.ExpiresAt)

	token := ref.URL[len("https://surge.test/downloads/"):]
	key, err := f.signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, ref.Key, key)

	data, err := f.store.Get(ctx, ref.Key)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Smith Family - Year End.pdf":     "packet-one",
		"Smith Family - Year End (2).pdf": "packet-two",
		"Brown Family - Year End.pdf":     "packet-three",
	}, readZip(t, data))
}

func TestBuildArchive_NothingStored(t *testing.T) {
	f := newArchiveFixture(t)
	org := f.seed.Organization(t, "Northwind", "logo.png")
	s := f.seed.Surge(t, org.ID, "Year End", nil, nil, nil)
	h := f.seed.Household(t, org.ID, "Jones Family")

	_, err := f.aggregator.BuildArchive(context.Background(), s.ID, []snowflake.ID{h.ID})
	require.ErrorIs(t, err, ErrEmptyArchive)

	entries, err := afero.ReadDir(f.fs, "/surges/"+s.ID.String()+"/archives")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildArchive_UnknownSurge(t *testing.T) {
	f := newArchiveFixture(t)
	_, err := f.aggregator.BuildArchive(context.Background(), 12345, nil)
	require.ErrorIs(t, err, surgedomain.ErrSurgeNotFound)
}
