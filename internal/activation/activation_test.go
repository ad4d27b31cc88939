package activation

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		query string
		want  Policy
	}{
		{"testmode", "testmode=1", Policy{Enabled: true, ShowHUD: true, Source: SourceQuery}},
		{"debug", "a=b&debug=1", Policy{Enabled: true, ShowHUD: true, Source: SourceQuery}},
		{"other value", "debug=true", Policy{Source: SourceNone}},
		{"absent", "", Policy{Source: SourceNone}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q, err := url.ParseQuery(tc.query)
			require.NoError(t, err)
			got, err := Resolve(q, NewMemoryStore())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOptInSurvivesNavigation(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	first, err := ResolveURL("https://shop.example.com/?testmode=1", store)
	require.NoError(t, err)
	assert.Equal(t, SourceQuery, first.Source)

	next, err := ResolveURL("https://shop.example.com/cart", store)
	require.NoError(t, err)
	assert.True(t, next.Enabled)
	assert.Equal(t, SourceStore, next.Source)
}

func TestNilStore(t *testing.T) {
	t.Parallel()
	p, err := Resolve(url.Values{"debug": {"1"}}, nil)
	require.NoError(t, err)
	assert.True(t, p.Enabled)

	p, err = Resolve(url.Values{}, nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled)
}

type brokenStore struct{}

func (brokenStore) Get(string) (string, bool, error) { return "", false, errors.New("disk gone") }
func (brokenStore) Set(string, string) error         { return errors.New("disk gone") }

func TestStoreFailures(t *testing.T) {
	t.Parallel()
	p, err := Resolve(url.Values{"testmode": {"1"}}, brokenStore{})
	require.Error(t, err)
	assert.True(t, p.Enabled, "query opt-in still enables capture")

	p, err = Resolve(url.Values{}, brokenStore{})
	require.Error(t, err)
	assert.False(t, p.Enabled)
}

func TestFileStoreIsTabScoped(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tabA, err := NewFileStore(dir, "tab-a")
	require.NoError(t, err)
	tabB, err := NewFileStore(dir, "tab-b")
	require.NoError(t, err)

	_, err = ResolveURL("https://app.example.com/?debug=1", tabA)
	require.NoError(t, err)

	again, err := NewFileStore(dir, "tab-a")
	require.NoError(t, err)
	p, err := ResolveURL("https://app.example.com/next", again)
	require.NoError(t, err)
	assert.True(t, p.Enabled)

	p, err = ResolveURL("https://app.example.com/next", tabB)
	require.NoError(t, err)
	assert.False(t, p.Enabled)

	require.NoError(t, tabA.Clear())
	require.NoError(t, tabA.Clear())
	_, statErr := os.Stat(filepath.Join(dir, "tab-a.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileStoreRejectsBadTabIDs(t *testing.T) {
	t.Parallel()
	for _, tab := range []string{"", "..", "a/b", "../escape"} {
		_, err := NewFileStore(t.TempDir(), tab)
		assert.ErrorIs(t, err, ErrInvalidTab, tab)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewFileStore(dir, "tab")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	_, _, err = s.Get(FlagKey)
	assert.Error(t, err)
}
