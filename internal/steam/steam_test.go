package steam

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/playwatch/internal/process"
	"github.com/loykin/playwatch/internal/store"
	"github.com/loykin/playwatch/internal/store/sqlite"
)

const hadesACF = `"AppState"
{
	"appid"		"1145360"
	"Universe"		"1"
	"name"		"Hades"
	"StateFlags"		"4"
	"installdir"		"Hades"
}
`

const hollowACF = `"appstate"
{
	"AppID"		"367520"
	"Name"		"Hollow Knight"
	"InstallDir"		"Hollow Knight"
}
`

const brokenACF = `"AppState"
{
	"appid"		"999"
	"name"		"No Install Dir"
}
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// fixture lays out a Steam root with a second library and returns both paths.
func fixture(t *testing.T) (root, lib2 string) {
	t.Helper()
	base := t.TempDir()
	root = filepath.Join(base, "Steam")
	lib2 = filepath.Join(base, "SteamLibrary")
	writeFile(t, filepath.Join(root, "steamapps", "libraryfolders.vdf"), fmt.Sprintf(`"libraryfolders"
{
	"0"
	{
		"path"		"%s"
		"label"		""
		"apps"
		{
			"1145360"		"0"
		}
	}
	"1"
	{
		"path"		"%s"
	}
	"contentstatsid"		"-123"
}
`, root, lib2))
	writeFile(t, filepath.Join(root, "steamapps", "appmanifest_1145360.acf"), hadesACF)
	writeFile(t, filepath.Join(root, "steamapps", "appmanifest_999.acf"), brokenACF)
	writeFile(t, filepath.Join(root, "steamapps", "readme.txt"), "not a manifest")
	writeFile(t, filepath.Join(lib2, "steamapps", "appmanifest_367520.acf"), hollowACF)
	return root, lib2
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(hadesACF))
	require.NoError(t, err)
	assert.Equal(t, InstallManifest{AppID: "1145360", Name: "Hades", InstallDir: "Hades"}, m)
	assert.Equal(t, "steamapps/common/hades", m.GamePath())

	m, err = ParseManifest(strings.NewReader(hollowACF))
	require.NoError(t, err)
	assert.Equal(t, "Hollow Knight", m.Name)
	assert.Equal(t, "steamapps/common/hollow knight", m.GamePath())

	_, err = ParseManifest(strings.NewReader(brokenACF))
	assert.ErrorIs(t, err, ErrManifestParse)

	_, err = ParseManifest(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrManifestParse)
}

func TestAppIDFromFilename(t *testing.T) {
	tests := []struct {
		in   string
		id   string
		want bool
	}{
		{"appmanifest_570.acf", "570", true},
		{"AppManifest_1145360.ACF", "1145360", true},
		{"appmanifest_007.acf", "7", true},
		{"appmanifest_.acf", "", false},
		{"appmanifest_abc.acf", "", false},
		{"appmanifest_570.acf.tmp", "", false},
		{"libraryfolders.vdf", "", false},
	}
	for _, tt := range tests {
		id, ok := AppIDFromFilename(tt.in)
		assert.Equal(t, tt.want, ok, tt.in)
		assert.Equal(t, tt.id, id, tt.in)
	}
}

func TestReadLibraryFolders(t *testing.T) {
	root, lib2 := fixture(t)
	libs, err := ReadLibraryFolders(root)
	require.NoError(t, err)
	assert.Equal(t, []string{root, lib2}, libs)
}

func TestReadLibraryFolders_LegacyFormat(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "Steam")
	lib2 := filepath.Join(base, "Other")
	writeFile(t, filepath.Join(root, "steamapps", "libraryfolders.vdf"), fmt.Sprintf(`"LibraryFolders"
{
	"TimeNextStatsReport"		"1700000000"
	"ContentStatsID"		"-42"
	"1"		"%s"
	"2"		"%s"
}
`, lib2, lib2))
	libs, err := ReadLibraryFolders(root)
	require.NoError(t, err)
	assert.Equal(t, []string{root, lib2}, libs)
}

func TestReadLibraryFolders_Missing(t *testing.T) {
	_, err := ReadLibraryFolders(t.TempDir())
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestNormalizeLibraryPath(t *testing.T) {
	p := normalizeLibraryPath(`relative\\dir`)
	assert.True(t, filepath.IsAbs(p))
	assert.NotContains(t, p, `\\`)
}

func TestLocators(t *testing.T) {
	root, _ := fixture(t)
	ctx := context.Background()

	got, err := StaticLocator{Root: root}.Locate(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	_, err = StaticLocator{Root: t.TempDir()}.Locate(ctx)
	assert.ErrorIs(t, err, ErrClientNotFound)
	_, err = StaticLocator{}.Locate(ctx)
	assert.ErrorIs(t, err, ErrClientNotFound)

	lister := process.ListerFunc(func(context.Context) ([]process.Record, error) {
		return []process.Record{
			{PID: 4, Name: "steam.exe", ExecutablePath: `C:\Windows\steam.exe`, SessionID: 0},
			{PID: 10, Name: "Steam.exe", ExecutablePath: `C:\Program Files (x86)\Steam\steam.exe`, SessionID: 1},
		}, nil
	})
	got, err = ProcessLocator{Lister: lister}.Locate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "C:/Program Files (x86)/Steam", got)

	empty := process.ListerFunc(func(context.Context) ([]process.Record, error) { return nil, nil })
	_, err = ProcessLocator{Lister: empty}.Locate(ctx)
	assert.ErrorIs(t, err, ErrClientNotFound)

	failing := process.ListerFunc(func(context.Context) ([]process.Record, error) { return nil, process.ErrEnumeration })
	_, err = ProcessLocator{Lister: failing}.Locate(ctx)
	assert.ErrorIs(t, err, ErrClientNotFound)
	assert.ErrorIs(t, err, process.ErrEnumeration)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	root, _ := fixture(t)
	c := Chain{StaticLocator{}, RegistryLocator{}, StaticLocator{Root: root}}
	if got, err := c.Locate(ctx); assert.NoError(t, err) {
		assert.Equal(t, root, got)
	}

	none := Chain{StaticLocator{}, LocatorFunc(func(context.Context) (string, error) { return "", errors.New("nope") })}
	_, err := none.Locate(ctx)
	assert.ErrorIs(t, err, ErrClientNotFound)

	_, err = Chain{}.Locate(ctx)
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func newRepo(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func TestScanCatalog(t *testing.T) {
	root, lib2 := fixture(t)
	repo := newRepo(t)
	ctx := context.Background()
	r := NewResolver(StaticLocator{Root: root}, nil)

	res, err := r.ScanCatalog(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, root, res.Root)
	assert.Equal(t, []string{root, lib2}, res.Libraries)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 1, res.Failed)

	hades, err := repo.GetByAppID(ctx, "1145360", store.SourceSteam)
	require.NoError(t, err)
	assert.Equal(t, "Hades", hades.Name)
	assert.Equal(t, "steamapps/common/hades", hades.Path)
	assert.Empty(t, hades.Executable)

	hk, err := repo.GetByPath(ctx, "steamapps/common/hollow knight")
	require.NoError(t, err)
	assert.Equal(t, "367520", hk.AppID)

	_, err = repo.GetByAppID(ctx, "999", store.SourceSteam)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// a rescan keeps executables learned at runtime
	_, err = repo.Upsert(ctx, store.Game{AppID: "1145360", Source: store.SourceSteam, Executable: "hades.exe"})
	require.NoError(t, err)
	_, err = r.ScanCatalog(ctx, repo)
	require.NoError(t, err)
	hades, err = repo.GetByAppID(ctx, "1145360", store.SourceSteam)
	require.NoError(t, err)
	assert.Equal(t, "hades.exe", hades.Executable)
}

func TestScanCatalog_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewResolver(StaticLocator{Root: t.TempDir()}, nil).ScanCatalog(ctx, newRepo(t))
	assert.ErrorIs(t, err, ErrClientNotFound)

	_, err = NewResolver(nil, nil).ScanCatalog(ctx, newRepo(t))
	assert.ErrorIs(t, err, ErrClientNotFound)

	root, _ := fixture(t)
	closed, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, closed.EnsureSchema(ctx))
	require.NoError(t, closed.Close())
	_, err = NewResolver(StaticLocator{Root: root}, nil).ScanCatalog(ctx, closed)
	assert.ErrorIs(t, err, store.ErrWrite)
}

func TestWatch(t *testing.T) {
	root, lib2 := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, []string{root, lib2}, 50*time.Millisecond, nil, func() { fired <- struct{}{} })
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		writeFile(t, filepath.Join(lib2, "steamapps", "appmanifest_570.acf"), hadesACF)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change notification")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_NothingToWatch(t *testing.T) {
	err := Watch(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, 0, nil, func() {})
	assert.Error(t, err)
}
