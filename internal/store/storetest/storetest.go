// Package storetest holds behavioural checks shared by every store.Repository
// implementation.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/playwatch/internal/store"
)

// Run exercises repo, which must have an empty schema already ensured.
func Run(t *testing.T, repo store.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert then lookup", func(t *testing.T) {
		id, err := repo.Upsert(ctx, store.Game{AppID: "1145360", Source: store.SourceSteam, Name: "Hades", Path: "steamapps/common/hades"})
		require.NoError(t, err)
		require.NotZero(t, id)

		g, err := repo.GetByAppID(ctx, "1145360", store.SourceSteam)
		require.NoError(t, err)
		assert.Equal(t, id, g.ID)
		assert.Equal(t, "Hades", g.Name)
		assert.Empty(t, g.Executable)

		byPath, err := repo.GetByPath(ctx, "steamapps/common/hades")
		require.NoError(t, err)
		assert.Equal(t, id, byPath.ID)
	})

	t.Run("empty fields keep stored values", func(t *testing.T) {
		id1, err := repo.Upsert(ctx, store.Game{AppID: "367520", Source: store.SourceSteam, Name: "Hollow Knight", Path: "steamapps/common/hollow knight"})
		require.NoError(t, err)
		id2, err := repo.Upsert(ctx, store.Game{AppID: "367520", Source: store.SourceSteam, Executable: "hollow_knight.exe"})
		require.NoError(t, err)
		assert.Equal(t, id1, id2)

		g, err := repo.GetByExecutable(ctx, "hollow_knight.exe")
		require.NoError(t, err)
		assert.Equal(t, "Hollow Knight", g.Name)
		assert.Equal(t, "steamapps/common/hollow knight", g.Path)

		// a rescan without executable must not erase enrichment
		_, err = repo.Upsert(ctx, store.Game{AppID: "367520", Source: store.SourceSteam, Name: "Hollow Knight", Path: "steamapps/common/hollow knight"})
		require.NoError(t, err)
		g, err = repo.GetByAppID(ctx, "367520", store.SourceSteam)
		require.NoError(t, err)
		assert.Equal(t, "hollow_knight.exe", g.Executable)

		// non-empty values replace
		_, err = repo.Upsert(ctx, store.Game{AppID: "367520", Source: store.SourceSteam, Name: "Hollow Knight GOTY"})
		require.NoError(t, err)
		g, err = repo.GetByAppID(ctx, "367520", store.SourceSteam)
		require.NoError(t, err)
		assert.Equal(t, "Hollow Knight GOTY", g.Name)
	})

	t.Run("unique per app id and source", func(t *testing.T) {
		a, err := repo.Upsert(ctx, store.Game{AppID: "42", Source: "gog", Name: "Forty Two"})
		require.NoError(t, err)
		b, err := repo.Upsert(ctx, store.Game{AppID: "42", Source: "epic", Name: "Forty Two (Epic)"})
		require.NoError(t, err)
		assert.NotEqual(t, a, b)

		g, err := repo.GetByAppID(ctx, "42", "")
		require.NoError(t, err)
		assert.Equal(t, a, g.ID, "no source means earliest row")

		g, err = repo.GetByAppID(ctx, "42", "epic")
		require.NoError(t, err)
		assert.Equal(t, b, g.ID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByAppID(ctx, "missing", store.SourceSteam)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = repo.GetByPath(ctx, "steamapps/common/missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = repo.GetByExecutable(ctx, "missing.exe")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = repo.GetSetting(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("invalid game", func(t *testing.T) {
		_, err := repo.Upsert(ctx, store.Game{AppID: "  ", Source: store.SourceSteam})
		assert.ErrorIs(t, err, store.ErrInvalidGame)
		_, err = repo.Upsert(ctx, store.Game{AppID: "1"})
		assert.ErrorIs(t, err, store.ErrInvalidGame)
	})

	t.Run("concurrent enrichment and rescan", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := repo.Upsert(ctx, store.Game{AppID: "570", Source: store.SourceSteam, Name: "Dota 2", Path: "steamapps/common/dota 2 beta"})
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, err := repo.Upsert(ctx, store.Game{AppID: "570", Source: store.SourceSteam, Executable: "dota2.exe"})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		g, err := repo.GetByAppID(ctx, "570", store.SourceSteam)
		require.NoError(t, err)
		assert.Equal(t, "Dota 2", g.Name)
		assert.Equal(t, "dota2.exe", g.Executable)
		assert.Equal(t, "steamapps/common/dota 2 beta", g.Path)
	})

	t.Run("get all is ordered by id", func(t *testing.T) {
		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, all)
		for i := 1; i < len(all); i++ {
			assert.Less(t, all[i-1].ID, all[i].ID)
		}
	})

	t.Run("settings", func(t *testing.T) {
		require.NoError(t, repo.SetSetting(ctx, "steam.path", `C:\Steam`))
		require.NoError(t, repo.SetSetting(ctx, "steam.path", `D:\Steam`))
		v, err := repo.GetSetting(ctx, "steam.path")
		require.NoError(t, err)
		assert.Equal(t, `D:\Steam`, v)
	})
}
