// Package media wraps the yt-dlp and ffmpeg command line tools.
package media

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Info is the subset of `yt-dlp -J` output the bot needs.
type Info struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	Uploader           string      `json:"uploader"`
	Duration           float64     `json:"duration"`
	WebpageURL         string      `json:"webpage_url"`
	Thumbnails         []Thumbnail `json:"thumbnails"`
	RequestedDownloads []Format    `json:"requested_downloads"`
}

// Format describes one downloadable rendition. VCodec/ACodec are "none"
// when the stream has no video/audio.
type Format struct {
	FormatID string `json:"format_id"`
	URL      string `json:"url"`
	Ext      string `json:"ext"`
	VCodec   string `json:"vcodec"`
	ACodec   string `json:"acodec"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

func (f Format) HasVideo() bool { return f.VCodec != "" && f.VCodec != "none" }
func (f Format) HasAudio() bool { return f.ACodec != "" && f.ACodec != "none" }

type Thumbnail struct {
	URL        string `json:"url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Resolution string `json:"resolution"`
}

// size returns the thumbnail dimensions, falling back to the "WxH"
// resolution string.
func (t Thumbnail) size() (int, int, bool) {
	if t.Width > 0 && t.Height > 0 {
		return t.Width, t.Height, true
	}
	w, h, ok := strings.Cut(t.Resolution, "x")
	if !ok {
		return 0, 0, false
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

// VideoMeta is what ffprobe reports about the first video stream.
type VideoMeta struct {
	Width    int
	Height   int
	Duration int
}

// MaxThumbnailSize is the largest edge accepted for audio cover art.
const MaxThumbnailSize = 320

// PickThumbnail returns the largest thumbnail fitting into max×max.
// yt-dlp lists thumbnails from smallest to largest, so the search runs
// backwards.
func PickThumbnail(thumbs []Thumbnail, max int) (Thumbnail, bool) {
	for i := len(thumbs) - 1; i >= 0; i-- {
		w, h, ok := thumbs[i].size()
		if ok && w <= max && h <= max && thumbs[i].URL != "" {
			return thumbs[i], true
		}
	}
	return Thumbnail{}, false
}

// HostMatches reports whether rawURL's host ends with suffix.
func HostMatches(rawURL, suffix string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), strings.ToLower(suffix))
}

// TikTokArgs are extra yt-dlp arguments for TikTok links, which only play
// inline when encoded as h264.
var TikTokArgs = []string{"-S", "vcodec:h264"}

var tagPattern = regexp.MustCompile(`[#@]\S+`)

// CleanTitle strips hashtags and mentions from a caption.
func CleanTitle(title string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(title, ""))
}
