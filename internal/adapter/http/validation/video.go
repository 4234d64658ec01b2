package validation

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

var ErrNotVideo = errors.New("not a video file")

// HeadSize is how many leading bytes DetectVideo looks at.
const HeadSize = 512

// DetectVideo sniffs the container of a file from its first bytes. It
// returns the MIME type and whether it is a video container uploads accept.
func DetectVideo(head []byte) (string, bool) {
	if len(head) > HeadSize {
		head = head[:HeadSize]
	}
	if len(head) == 0 {
		return "application/octet-stream", false
	}

	// EBML header: webm and matroska
	if len(head) >= 4 && head[0] == 0x1A && head[1] == 0x45 && head[2] == 0xDF && head[3] == 0xA3 {
		if strings.Contains(string(head), "matroska") {
			return "video/x-matroska", true
		}
		return "video/webm", true
	}

	// ISO base media: [size]["ftyp"][brand]
	if len(head) >= 12 && string(head[4:8]) == "ftyp" {
		switch string(head[8:12]) {
		case "qt  ":
			return "video/quicktime", true
		case "M4A ", "M4B ":
			return "audio/mp4", false
		default:
			return "video/mp4", true
		}
	}

	mime := http.DetectContentType(head)
	return mime, strings.HasPrefix(mime, "video/")
}

// CheckUploadHead fails with ErrNotVideo unless head starts a video container.
func CheckUploadHead(head []byte) error {
	if mime, ok := DetectVideo(head); !ok {
		return fmt.Errorf("%w: %s", ErrNotVideo, mime)
	}
	return nil
}

// ContentType maps a media directory file to the type it is served as.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
