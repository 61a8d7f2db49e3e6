package changes

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem"
)

var bracketSuffix = regexp.MustCompile(`\[[^\]]*\]$`)

// BlueprintName derives the catalog filter for a blueprint file. Size and
// variant suffixes collapse to a shared prefix so that every variant of a
// blueprint is cataloged by one request:
//
//	Sword_Red_Large_Variant_01.blueprint -> Sword_
//	Torch[lit].blueprint                 -> Torch
func BlueprintName(fileName string) string {
	name := filepath.Base(fileName)
	if ext := filepath.Ext(name); strings.EqualFold(ext, filesystem.ExtractedAssetExt) {
		name = strings.TrimSuffix(name, ext)
	}
	name = bracketSuffix.ReplaceAllString(name, "")

	if strings.Count(name, "_") >= 4 {
		return name[:strings.Index(name, "_")+1]
	}
	return name
}
