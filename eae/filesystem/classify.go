package filesystem

import (
	"path/filepath"
	"strings"
)

// Kind classifies a file found in the install tree.
type Kind int

const (
	// Other is any file the extractor does not care about.
	Other Kind = iota
	// IndexMarker marks its directory as an archive group.
	IndexMarker
	// DataFile holds archive content; its digest drives re-extraction.
	DataFile
	// ExtractedAsset is an extracted blueprint that can be cataloged.
	ExtractedAsset
)

const (
	IndexMarkerExt    = ".tfi"
	DataFileExt       = ".tfa"
	ExtractedAssetExt = ".blueprint"
)

func (k Kind) String() string {
	switch k {
	case IndexMarker:
		return "index_marker"
	case DataFile:
		return "data_file"
	case ExtractedAsset:
		return "extracted_asset"
	default:
		return "other"
	}
}

// Classify maps a file name (or path) to its Kind by extension.
func Classify(name string) Kind {
	ext := filepath.Ext(name)
	switch {
	case strings.EqualFold(ext, IndexMarkerExt):
		return IndexMarker
	case strings.EqualFold(ext, DataFileExt):
		return DataFile
	case strings.EqualFold(ext, ExtractedAssetExt):
		return ExtractedAsset
	default:
		return Other
	}
}
