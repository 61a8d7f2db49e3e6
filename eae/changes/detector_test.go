package changes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/digest"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/hashstore"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestBlueprintName(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"Sword_Red_Large_Variant_01.blueprint", "Sword_"},
		{"Sword_Red_Large_Variant_02.blueprint", "Sword_"},
		{"Torch.blueprint", "Torch"},
		{"foo.blueprint", "foo"},
		{"Torch[lit].blueprint", "Torch"},
		{"a_b_c_d.blueprint", "a_b_c_d"},
		{"a_b_c_d_e[x].blueprint", "a_"},
		{filepath.Join("blueprints", "deco", "Chair_Wood.blueprint"), "Chair_Wood"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			assert.Equal(t, tt.want, BlueprintName(tt.file))
		})
	}
}

func TestScope(t *testing.T) {
	all := newScope(nil)
	assert.True(t, all.contains(filepath.Join("any", "dir")))

	s := newScope([]string{filepath.Join("blueprints", "equipment"), "audio"})
	assert.True(t, s.contains(filepath.Join("blueprints", "equipment")))
	assert.True(t, s.contains(filepath.Join("blueprints", "equipment", "swords")))
	assert.True(t, s.contains("audio"))
	assert.False(t, s.contains(filepath.Join("blueprints", "equipment_old")))
	assert.False(t, s.contains("blueprints"))
	assert.False(t, s.contains(""))
}

type DetectorTestSuite struct {
	suite.Suite
	extracted string
	changeDir string
	detector  *Detector
}

func TestDetectorSuite(t *testing.T) {
	suite.Run(t, new(DetectorTestSuite))
}

func (suite *DetectorTestSuite) SetupTest() {
	root := suite.T().TempDir()
	suite.extracted = filepath.Join(root, "Extracted")
	suite.changeDir = filepath.Join(root, "Changed", "2024-03-09_14-05")

	walker := filesystem.NewWalker(filesystem.DefaultWalkOptions(), zerolog.Nop())
	digester := digest.NewDigester(digest.DefaultRetryConfig(), nil, zerolog.Nop())
	suite.detector = NewDetector(Options{
		ExtractedRoot: suite.extracted,
		Batch:         digest.BatchOptions{Workers: 4, YieldEvery: 5, YieldPause: time.Millisecond},
	}, walker, digester, nil, zerolog.Nop())
}

func (suite *DetectorTestSuite) write(rel, content string) string {
	path := filepath.Join(suite.extracted, rel)
	require.NoError(suite.T(), os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (suite *DetectorTestSuite) changeDirFiles() []string {
	var files []string
	if _, err := os.Stat(suite.changeDir); os.IsNotExist(err) {
		return nil
	}
	err := filepath.WalkDir(suite.changeDir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			rel, _ := filepath.Rel(suite.changeDir, path)
			files = append(files, rel)
		}
		return err
	})
	require.NoError(suite.T(), err)
	return files
}

func (suite *DetectorTestSuite) TestFirstRunRecordsWithoutCopies() {
	for i := range 12 {
		suite.write(filepath.Join("blueprints", fmt.Sprintf("item_%02d.blueprint", i)), fmt.Sprint(i))
	}
	doc := hashstore.NewDocument()

	result, err := suite.detector.Detect(context.Background(), doc, nil, suite.changeDir)
	require.NoError(suite.T(), err)

	assert.True(suite.T(), result.Baseline)
	assert.Equal(suite.T(), 12, result.New)
	_, files := doc.Len()
	assert.Equal(suite.T(), 12, files)
	assert.Zero(suite.T(), result.Copied)
	assert.Empty(suite.T(), result.Candidates)
	assert.Empty(suite.T(), suite.changeDirFiles())
}

func (suite *DetectorTestSuite) TestBaselineWithoutExtractedRoot() {
	doc := hashstore.NewDocument()

	result, err := suite.detector.Baseline(context.Background(), doc)
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), result.Files)
	assert.True(suite.T(), doc.FilesEmpty())
}

func (suite *DetectorTestSuite) TestBaselineKeepsExistingDigests() {
	suite.write("a.blueprint", "a")
	suite.write("b.blueprint", "b")
	doc := hashstore.NewDocument()
	doc.SetFile("a.blueprint", "stale")

	result, err := suite.detector.Baseline(context.Background(), doc)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 1, result.New)
	got, _ := doc.File("a.blueprint")
	assert.Equal(suite.T(), "stale", got)
	_, ok := doc.File("b.blueprint")
	assert.True(suite.T(), ok)
}

func (suite *DetectorTestSuite) TestModifiedBlueprintIsCopiedAndQueued() {
	suite.write("foo.blueprint", "def456 content")
	doc := hashstore.NewDocument()
	doc.SetFile("foo.blueprint", "abc123")

	result, err := suite.detector.Detect(context.Background(), doc, nil, suite.changeDir)
	require.NoError(suite.T(), err)

	assert.False(suite.T(), result.Baseline)
	assert.Equal(suite.T(), 1, result.Modified)
	assert.Equal(suite.T(), []string{"foo"}, result.Candidates)
	assert.Equal(suite.T(), []string{"foo.blueprint"}, suite.changeDirFiles())

	want, err := digest.Hash(filepath.Join(suite.extracted, "foo.blueprint"))
	require.NoError(suite.T(), err)
	got, _ := doc.File("foo.blueprint")
	assert.Equal(suite.T(), want, got)

	require.Len(suite.T(), result.Records, 1)
	assert.Equal(suite.T(), Record{Path: "foo.blueprint", OldDigest: "abc123", NewDigest: want, Status: StatusModified}, result.Records[0])
}

func (suite *DetectorTestSuite) TestUnchangedFilesProduceNothing() {
	suite.write(filepath.Join("blueprints", "Torch.blueprint"), "torch")
	suite.write(filepath.Join("audio", "hit.ogg"), "hit")
	doc := hashstore.NewDocument()
	_, err := suite.detector.Baseline(context.Background(), doc)
	require.NoError(suite.T(), err)
	before := doc.Files()

	result, err := suite.detector.Detect(context.Background(), doc, nil, suite.changeDir)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 2, result.Unchanged)
	assert.Zero(suite.T(), result.Copied)
	assert.Empty(suite.T(), result.Candidates)
	assert.Empty(suite.T(), suite.changeDirFiles())
	assert.Equal(suite.T(), before, doc.Files())
}

func (suite *DetectorTestSuite) TestNewFilesAfterBaselineAreCopied() {
	suite.write("old.blueprint", "old")
	doc := hashstore.NewDocument()
	_, err := suite.detector.Baseline(context.Background(), doc)
	require.NoError(suite.T(), err)

	suite.write(filepath.Join("blueprints", "Sword_Red_Large_Variant_01.blueprint"), "1")
	suite.write(filepath.Join("blueprints", "Sword_Red_Large_Variant_02.blueprint"), "2")
	suite.write(filepath.Join("blueprints", "readme.txt"), "r")

	result, err := suite.detector.Detect(context.Background(), doc, nil, suite.changeDir)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 3, result.New)
	assert.Equal(suite.T(), []string{"Sword_"}, result.Candidates, "variants collapse to one candidate")
	assert.ElementsMatch(suite.T(), []string{
		filepath.Join("blueprints", "Sword_Red_Large_Variant_01.blueprint"),
		filepath.Join("blueprints", "Sword_Red_Large_Variant_02.blueprint"),
		filepath.Join("blueprints", "readme.txt"),
	}, suite.changeDirFiles())
}

func (suite *DetectorTestSuite) TestRestrictionToExtractedGroups() {
	suite.write(filepath.Join("blueprints", "a.blueprint"), "a")
	suite.write(filepath.Join("audio", "b.ogg"), "b")
	doc := hashstore.NewDocument()
	_, err := suite.detector.Baseline(context.Background(), doc)
	require.NoError(suite.T(), err)

	suite.write(filepath.Join("blueprints", "a.blueprint"), "a2")
	suite.write(filepath.Join("audio", "b.ogg"), "b2")

	result, err := suite.detector.Detect(context.Background(), doc, []string{"blueprints"}, suite.changeDir)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 1, result.Modified)
	assert.Equal(suite.T(), 1, result.Skipped)
	assert.Equal(suite.T(), []string{filepath.Join("blueprints", "a.blueprint")}, suite.changeDirFiles())
}

func (suite *DetectorTestSuite) TestDetectCancelled() {
	suite.write("a.blueprint", "a")
	doc := hashstore.NewDocument()
	doc.SetFile("x", "y")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := suite.detector.Detect(ctx, doc, nil, suite.changeDir)
	assert.ErrorIs(suite.T(), err, context.Canceled)
}
