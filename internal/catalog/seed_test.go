package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/playwatch/internal/store"
	"github.com/loykin/playwatch/internal/store/sqlite"
)

const jsonSeed = `[
  {"appId": 570, "source": "steam", "name": "Dota 2", "executable": "Dota2.exe", "path": "steamapps\\common\\dota 2 beta"},
  {"appId": "1145360", "source": "steam", "name": "Hades", "executable": null, "path": "steamapps/common/Hades"}
]`

const yamlSeed = `
- appId: "lol"
  source: riot
  name: League of Legends
  executable: League of Legends.exe
  path: /Riot Games/League of Legends/
`

func TestParseSeed(t *testing.T) {
	games, err := ParseSeed([]byte(jsonSeed))
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, store.Game{AppID: "570", Source: "steam", Name: "Dota 2", Executable: "dota2.exe", Path: "steamapps/common/dota 2 beta"}, games[0])
	assert.Equal(t, "", games[1].Executable)
	assert.Equal(t, "steamapps/common/hades", games[1].Path)

	games, err = ParseSeed([]byte(yamlSeed))
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "riot games/league of legends", games[0].Path)
	assert.Equal(t, "league of legends.exe", games[0].Executable)
}

func TestParseSeed_Invalid(t *testing.T) {
	_, err := ParseSeed([]byte(`[{"name": "no key"}]`))
	assert.ErrorIs(t, err, store.ErrInvalidGame)

	_, err = ParseSeed([]byte(`{not: [a list`))
	assert.Error(t, err)
}

func TestLoadSeed_FileAndURL(t *testing.T) {
	ctx := context.Background()
	p := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(p, []byte(yamlSeed), 0o644))
	games, err := LoadSeed(ctx, p, nil)
	require.NoError(t, err)
	assert.Len(t, games, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mappings.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(jsonSeed))
	}))
	defer srv.Close()

	games, err = LoadSeed(ctx, srv.URL+"/mappings.json", srv.Client())
	require.NoError(t, err)
	assert.Len(t, games, 2)

	_, err = LoadSeed(ctx, srv.URL+"/missing.json", srv.Client())
	assert.Error(t, err)

	games, err = LoadSeed(ctx, "", nil)
	require.NoError(t, err)
	assert.Nil(t, games)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.EnsureSchema(ctx))

	// a scanned row without executable gets enriched by the seed
	_, err = repo.Upsert(ctx, store.Game{AppID: "570", Source: "steam", Name: "Dota 2", Path: "steamapps/common/dota 2 beta"})
	require.NoError(t, err)

	games, err := ParseSeed([]byte(jsonSeed))
	require.NoError(t, err)
	n, err := Apply(ctx, repo, games)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	g, err := repo.GetByExecutable(ctx, "dota2.exe")
	require.NoError(t, err)
	assert.Equal(t, "570", g.AppID)
	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNormalize(t *testing.T) {
	g := Normalize(store.Game{
		AppID: " 42 ", Source: " epic ", Name: " Fortnite ",
		Executable: " FortniteClient.EXE ", Path: `\Epic Games\Fortnite\`,
	})
	assert.Equal(t, store.Game{AppID: "42", Source: "epic", Name: "Fortnite", Executable: "fortniteclient.exe", Path: "epic games/fortnite"}, g)
}
