package transcoder

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

const (
	PassAnalyze  = 1
	PassCompress = 2
)

// PassInput is everything that varies between jobs when building a pass.
type PassInput struct {
	Pass             int
	InputPath        string
	PassLogPrefix    string // ffmpeg appends "-0.log" and "-0.log.mbtree"
	OutputPath       string // ignored for the analysis pass
	AudioBitrateKbps int
}

// BuildPassArgs constructs the ffmpeg argument vector for one pass.
// Progress is requested as key=value lines on stderr.
func BuildPassArgs(profile EncoderProfile, plan BitratePlan, in PassInput) []string {
	args := []string{
		"-hide_banner",
		"-nostats",
		"-progress", "pipe:2",
		"-v", "error",
	}

	// VAAPI decodes on the GPU and keeps frames there for the encoder.
	if profile.Codec == CodecVAAPI {
		device := profile.Device
		if device == "" {
			device = defaultVAAPIDevice
		}
		args = append(args,
			"-vaapi_device", device,
			"-hwaccel", "vaapi",
			"-hwaccel_output_format", "vaapi",
		)
	}
	args = append(args, "-i", in.InputPath)

	args = append(args, "-c:v", profile.Codec)
	args = append(args, profile.PresetArgs...)
	args = append(args,
		"-b:v", kbps(plan.VideoKbps),
		"-maxrate", kbps(plan.MaxKbps),
		"-bufsize", kbps(plan.BufferKbps),
		"-pass", strconv.Itoa(in.Pass),
		"-passlogfile", in.PassLogPrefix,
	)

	pixFmt := []string{"-pix_fmt", "yuv420p"}
	if profile.Codec == CodecVAAPI {
		pixFmt = nil
	}

	if in.Pass == PassAnalyze {
		args = append(args, pixFmt...)
		return append(args, "-an", "-f", "mp4", "-y", NullDevice())
	}

	audio := in.AudioBitrateKbps
	if audio <= 0 {
		audio = DefaultAudioBitrateKbps
	}
	args = append(args,
		"-c:a", "aac",
		"-b:a", kbps(audio),
		"-movflags", "+faststart",
	)
	args = append(args, pixFmt...)
	return append(args, "-y", in.OutputPath)
}

func kbps(v int) string {
	return strconv.Itoa(v) + "k"
}

// NullDevice is where the analysis pass writes its throwaway output.
func NullDevice() string {
	if runtime.GOOS == "windows" {
		return "NUL"
	}
	return "/dev/null"
}

// PassLogFiles lists the artifacts a two-pass encode leaves behind for prefix,
// including the .temp files the analysis pass writes before renaming them.
func PassLogFiles(prefix string) []string {
	log := prefix + "-0.log"
	return []string{log, log + ".mbtree", log + ".temp", log + ".mbtree.temp"}
}

var (
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
)

const maxOutputBaseLen = 100

// OutputName derives the download file name from the uploaded name.
// The job id suffix keeps two uploads of the same file apart.
func OutputName(originalName, jobID string) string {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	base = unsafeNameChars.ReplaceAllString(base, "")
	base = whitespaceRuns.ReplaceAllString(strings.TrimSpace(base), "_")
	if len(base) > maxOutputBaseLen {
		base = base[:maxOutputBaseLen]
	}

	if base == "" {
		return jobID + ".mp4"
	}
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_%s.mp4", base, short)
}
