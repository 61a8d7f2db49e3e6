package hashstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	root  string
	store *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	suite.root = suite.T().TempDir()
	suite.store = New(suite.root, "", zerolog.Nop())
}

func (suite *StoreTestSuite) writeRaw(name, content string) {
	require.NoError(suite.T(), os.WriteFile(filepath.Join(suite.root, name), []byte(content), 0o644))
}

func (suite *StoreTestSuite) TestLoadMissingReturnsEmpty() {
	doc := suite.store.Load()
	require.NotNil(suite.T(), doc)
	assert.True(suite.T(), doc.Empty())
	assert.True(suite.T(), doc.FilesEmpty())
}

func (suite *StoreTestSuite) TestLoadCorruptReturnsEmpty() {
	suite.writeRaw(internal.DefaultHashLogFile, "{not json")

	doc := suite.store.Load()
	assert.True(suite.T(), doc.Empty())
}

func (suite *StoreTestSuite) TestLoadMissingNamespace() {
	suite.writeRaw(internal.DefaultHashLogFile, `{"Archives": {"a.tfa": "abc"}}`)

	doc := suite.store.Load()
	digest, ok := doc.Archive("a.tfa")
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), "abc", digest)
	assert.True(suite.T(), doc.FilesEmpty())

	doc.SetFile("x", "y")
	assert.False(suite.T(), doc.FilesEmpty())
}

func (suite *StoreTestSuite) TestSaveLoadRoundTrip() {
	doc := NewDocument()
	doc.SetArchive(filepath.Join("blueprints", "a.tfa"), "da39a3ee5e6b4b0d3255bfef95601890afd80709")
	doc.SetFile(filepath.Join("blueprints", "foo.blueprint"), "abc123")

	require.NoError(suite.T(), suite.store.Save(doc))

	loaded := suite.store.Load()
	assert.Equal(suite.T(), doc.Archives(), loaded.Archives())
	assert.Equal(suite.T(), doc.Files(), loaded.Files())

	entries, err := os.ReadDir(suite.root)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), entries, 1, "temp files must not be left behind")
}

func (suite *StoreTestSuite) TestSaveCreatesRoot() {
	root := filepath.Join(suite.root, "nested", "install")
	store := New(root, "", zerolog.Nop())

	require.NoError(suite.T(), store.Save(NewDocument()))
	assert.FileExists(suite.T(), filepath.Join(root, internal.DefaultHashLogFile))
}

func (suite *StoreTestSuite) TestSavedDocumentSchema() {
	doc := NewDocument()
	doc.SetFile("f", "1")
	require.NoError(suite.T(), suite.store.Save(doc))

	data, err := os.ReadFile(suite.store.Path())
	require.NoError(suite.T(), err)

	var raw map[string]map[string]string
	require.NoError(suite.T(), json.Unmarshal(data, &raw))
	assert.Equal(suite.T(), map[string]string{}, raw["Archives"])
	assert.Equal(suite.T(), map[string]string{"f": "1"}, raw["Files"])
}

func (suite *StoreTestSuite) TestBackupSurvivesFailedSave() {
	before := NewDocument()
	before.SetArchive("a.tfa", "old")
	require.NoError(suite.T(), suite.store.Save(before))
	original, err := os.ReadFile(suite.store.Path())
	require.NoError(suite.T(), err)

	now := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	name, err := suite.store.Backup(before.Clone(), now)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "EAEHashLogBackup_2024-03-09_14.05.json", name)

	after := before.Clone()
	after.SetArchive("a.tfa", "new")
	suite.store.rename = func(string, string) error { return errors.New("disk full") }
	require.Error(suite.T(), suite.store.Save(after))

	current, err := os.ReadFile(suite.store.Path())
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), original, current)

	backup, err := suite.store.Read(name)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), before.Archives(), backup.Archives())
	assert.Equal(suite.T(), before.Files(), backup.Files())
}

func (suite *StoreTestSuite) TestRemoveAndRestoreBackup() {
	doc := NewDocument()
	doc.SetFile("f", "1")
	name, err := suite.store.Backup(doc, time.Now())
	require.NoError(suite.T(), err)

	require.NoError(suite.T(), suite.store.Restore(name))
	assert.Equal(suite.T(), doc.Files(), suite.store.Load().Files())

	require.NoError(suite.T(), suite.store.RemoveBackup(name))
	assert.NoFileExists(suite.T(), filepath.Join(suite.root, name))
	assert.NoError(suite.T(), suite.store.RemoveBackup(name), "removing twice is harmless")
	assert.NoError(suite.T(), suite.store.RemoveBackup(""))
}

func TestDocumentConcurrentWrites(t *testing.T) {
	doc := NewDocument()

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc.SetFile(filepath.Join("dir", string(rune('a'+i%26)), "f"), "d")
		}()
	}
	wg.Wait()

	_, files := doc.Len()
	assert.Equal(t, 26, files)
}

func TestCloneIsIndependent(t *testing.T) {
	doc := NewDocument()
	doc.SetFile("a", "1")

	clone := doc.Clone()
	doc.SetFile("a", "2")

	digest, _ := clone.File("a")
	assert.Equal(t, "1", digest)
}
