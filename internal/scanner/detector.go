package scanner

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Magic bytes for media detection
var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	gif87     = []byte("GIF87a")
	gif89     = []byte("GIF89a")
	riffMagic = []byte("RIFF")
	tiffLE    = []byte{'I', 'I', 0x2A, 0x00}
	tiffBE    = []byte{'M', 'M', 0x00, 0x2A}
	pdfMagic  = []byte("%PDF-")
	id3Magic  = []byte("ID3")
)

// ISO BMFF brands found in the ftyp box
var (
	heicBrands = []string{"heic", "heix", "hevc", "hevx", "mif1", "msf1"}
	avifBrands = []string{"avif", "avis"}
)

// DetectBytes determines the media type from the start of a file
func DetectBytes(header []byte) MediaType {
	switch {
	case bytes.HasPrefix(header, jpegMagic):
		return TypeJPEG
	case bytes.HasPrefix(header, pngMagic):
		return TypePNG
	case bytes.HasPrefix(header, gif87), bytes.HasPrefix(header, gif89):
		return TypeGIF
	case bytes.HasPrefix(header, tiffLE), bytes.HasPrefix(header, tiffBE):
		return TypeTIFF
	case bytes.HasPrefix(header, pdfMagic):
		return TypePDF
	case bytes.HasPrefix(header, id3Magic):
		return TypeMP3
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return TypeMP3
	}

	if len(header) >= 12 && bytes.HasPrefix(header, riffMagic) {
		switch string(header[8:12]) {
		case "WEBP":
			return TypeWebP
		case "WAVE":
			return TypeWAV
		}
	}

	if len(header) >= 12 && string(header[4:8]) == "ftyp" {
		brand := string(header[8:12])
		switch {
		case contains(avifBrands, brand):
			return TypeAVIF
		case contains(heicBrands, brand):
			return TypeHEIC
		case brand == "qt  ":
			return TypeQuickTime
		default:
			return TypeMP4
		}
	}

	trimmed := bytes.TrimSpace(header)
	if bytes.HasPrefix(trimmed, []byte("<svg")) ||
		(bytes.HasPrefix(trimmed, []byte("<?xml")) && bytes.Contains(header, []byte("<svg"))) {
		return TypeSVG
	}
	return TypeUnknown
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DetectMediaType determines the media type based on magic bytes and file extension
func DetectMediaType(path string) (MediaType, error) {
	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, err
	}
	defer f.Close()

	// Read first 512 bytes for magic byte detection
	header := make([]byte, 512)
	n, err := io.ReadFull(f, header)
	if err != nil && n == 0 && err != io.EOF {
		return TypeUnknown, err
	}
	header = header[:n]

	if t := DetectBytes(header); t != TypeUnknown {
		return t, nil
	}

	// SVG files may open with a long comment or doctype
	if strings.EqualFold(filepath.Ext(path), ".svg") {
		return TypeSVG, nil
	}
	return TypeUnknown, nil
}
