package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/MimeLyc/fetchbot/pkg/file"
)

type FFmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
}

func NewFFmpeg(ffmpegCmd, ffprobeCmd string) *FFmpeg {
	if ffmpegCmd == "" {
		ffmpegCmd = "ffmpeg"
	}
	if ffprobeCmd == "" {
		ffprobeCmd = "ffprobe"
	}
	return &FFmpeg{ffmpegCmd: ffmpegCmd, ffprobeCmd: ffprobeCmd}
}

// Probe reads the dimensions and duration (rounded up to whole seconds)
// of the first video stream.
func (ff *FFmpeg) Probe(ctx context.Context, path string) (VideoMeta, error) {
	out, err := run(ctx, ff.ffprobeCmd, probeArgs(path)...)
	if err != nil {
		return VideoMeta{}, err
	}

	var probe struct {
		Streams []struct {
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			Duration string `json:"duration"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return VideoMeta{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return VideoMeta{}, nil
	}

	stream := probe.Streams[0]
	meta := VideoMeta{Width: stream.Width, Height: stream.Height}
	if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
		meta.Duration = int(math.Ceil(d))
	}
	return meta, nil
}

// Thumbnail grabs the frame at one second, scaled to at most 320px wide,
// and writes it next to video as a .jpg.
func (ff *FFmpeg) Thumbnail(ctx context.Context, video string) (string, error) {
	target := file.ReplaceExt(video, ".jpg")
	if _, err := run(ctx, ff.ffmpegCmd, thumbnailArgs(video, target)...); err != nil {
		return "", err
	}
	return target, nil
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,duration",
		"-of", "json",
		path,
	}
}

func thumbnailArgs(video, target string) []string {
	return []string{
		"-y",
		"-i", video,
		"-ss", "00:00:01",
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-1", MaxThumbnailSize),
		"-q:v", "2",
		target,
	}
}
