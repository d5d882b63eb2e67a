package scanner

import "context"

// MediaType is an asset format the engine can carry a manifest for
type MediaType int

const (
	TypeUnknown MediaType = iota
	TypeJPEG
	TypePNG
	TypeGIF
	TypeWebP
	TypeTIFF
	TypeHEIC
	TypeAVIF
	TypeMP4
	TypeQuickTime
	TypeWAV
	TypeMP3
	TypePDF
	TypeSVG
)

// String returns the string representation of MediaType
func (mt MediaType) String() string {
	switch mt {
	case TypeJPEG:
		return "jpeg"
	case TypePNG:
		return "png"
	case TypeGIF:
		return "gif"
	case TypeWebP:
		return "webp"
	case TypeTIFF:
		return "tiff"
	case TypeHEIC:
		return "heic"
	case TypeAVIF:
		return "avif"
	case TypeMP4:
		return "mp4"
	case TypeQuickTime:
		return "mov"
	case TypeWAV:
		return "wav"
	case TypeMP3:
		return "mp3"
	case TypePDF:
		return "pdf"
	case TypeSVG:
		return "svg"
	default:
		return "unknown"
	}
}

// MIME returns the media type name handed to the engine
func (mt MediaType) MIME() string {
	switch mt {
	case TypeJPEG:
		return "image/jpeg"
	case TypePNG:
		return "image/png"
	case TypeGIF:
		return "image/gif"
	case TypeWebP:
		return "image/webp"
	case TypeTIFF:
		return "image/tiff"
	case TypeHEIC:
		return "image/heic"
	case TypeAVIF:
		return "image/avif"
	case TypeMP4:
		return "video/mp4"
	case TypeQuickTime:
		return "video/quicktime"
	case TypeWAV:
		return "audio/wav"
	case TypeMP3:
		return "audio/mpeg"
	case TypePDF:
		return "application/pdf"
	case TypeSVG:
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

// ScannedAsset represents a media file found during scanning
type ScannedAsset struct {
	Path string
	Type MediaType
	Size int64
}

// Scanner interface for detecting and scanning media assets
type Scanner interface {
	// Scan recursively scans a directory for signable assets
	Scan(ctx context.Context, dir string) ([]ScannedAsset, error)

	// DetectType determines the media type of a file
	DetectType(path string) (MediaType, error)
}
