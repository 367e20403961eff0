package utils

import (
	"path/filepath"
	"strings"
)

const (
	// MimeTypeQOI is for .qoi "Quite OK Image" for lossless, fast encoding/decoding.
	MimeTypeQOI = "image/qoi"

	// MimeTypeLZFDepth is an lzf compressed float32 depth or uint8 confidence raster.
	MimeTypeLZFDepth = "image/x-lzf-raster"

	// MimeTypeCBOR is for .cbor frame metadata (pose, intrinsics).
	MimeTypeCBOR = "application/cbor"

	// MimeTypeJSON is for session manifests.
	MimeTypeJSON = "application/json"

	// MimeTypePCD is for .pcd pointcloud files.
	MimeTypePCD = "pointcloud/pcd"

	// MimeTypeLAS is for .las pointcloud files.
	MimeTypeLAS = "pointcloud/las"

	// MimeTypePLY is for ascii .ply pointcloud files.
	MimeTypePLY = "pointcloud/ply"
)

// MimeTypeFromPath guesses a mime type from the file extension. The empty string is returned for
// unknown extensions.
func MimeTypeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".qoi":
		return MimeTypeQOI
	case ".lzf":
		return MimeTypeLZFDepth
	case ".cbor":
		return MimeTypeCBOR
	case ".json":
		return MimeTypeJSON
	case ".pcd":
		return MimeTypePCD
	case ".las":
		return MimeTypeLAS
	case ".ply":
		return MimeTypePLY
	default:
		return ""
	}
}
