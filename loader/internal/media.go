package internal

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"tutor/types"
)

var extFormats = map[string]struct {
	kind   types.MediaKind
	format types.Format
}{
	".pdf":  {types.MediaDocument, types.FormatPDF},
	".docx": {types.MediaDocument, types.FormatDOCX},
	".txt":  {types.MediaDocument, types.FormatTXT},
	".png":  {types.MediaImage, types.FormatImage},
	".jpg":  {types.MediaImage, types.FormatImage},
	".jpeg": {types.MediaImage, types.FormatImage},
	".mp3":  {types.MediaAudio, types.FormatAudio},
	".wav":  {types.MediaAudio, types.FormatAudio},
	".ogg":  {types.MediaAudio, types.FormatAudio},
	".mp4":  {types.MediaVideo, types.FormatVideo},
	".avi":  {types.MediaVideo, types.FormatVideo},
	".mov":  {types.MediaVideo, types.FormatVideo},
}

// DetectMediaKind classifies a URL or file path by extension, then by host.
func DetectMediaKind(locator string) (types.MediaKind, types.Format, error) {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", types.ErrUnsupportedMediaKind, locator, err)
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if f, ok := extFormats[ext]; ok {
		return f.kind, f.format, nil
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case hostIs(host, "youtube.com"), hostIs(host, "youtu.be"):
		return types.MediaWebTranscript, types.FormatYouTube, nil
	case hostIs(host, "vimeo.com"):
		return types.MediaWebTranscript, types.FormatVimeo, nil
	}
	return "", "", fmt.Errorf("%w: %q", types.ErrUnsupportedMediaKind, locator)
}

func hostIs(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
