package transcoder

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"

	"videra/internal/logging"
)

// Define constants for supported codecs to avoid "magic strings" in the code.
// The resolver picks one of them and args.go turns it into CLI flags.
const (
	CodecNVENC        = "h264_nvenc"
	CodecVAAPI        = "h264_vaapi"
	CodecQSV          = "h264_qsv"
	CodecAMF          = "h264_amf"
	CodecVideoToolbox = "h264_videotoolbox"
	CodecSoftware     = "libx264"
)

// defaultVAAPIDevice is used when VAAPI was chosen from vendor evidence
// rather than from a specific render node.
const defaultVAAPIDevice = "/dev/dri/renderD128"

// EncoderProfile describes the encoder every job on this host uses.
// It is computed once at startup and passed to each job explicitly.
type EncoderProfile struct {
	Codec      string   `json:"codec"`
	HWAccel    string   `json:"hwaccel,omitempty"` // cuda, vaapi, qsv, d3d11va, videotoolbox
	Device     string   `json:"device,omitempty"`  // device node consumed by VAAPI input args
	PresetArgs []string `json:"presetArgs,omitempty"`
	Label      string   `json:"label"`
}

// Hardware reports whether the profile offloads encoding to a GPU.
func (p EncoderProfile) Hardware() bool {
	return p.HWAccel != ""
}

// presetArgs returns the encoder-specific quality flags for codec.
func presetArgs(codec string) []string {
	switch codec {
	case CodecSoftware, CodecQSV:
		return []string{"-preset", "medium"}
	case CodecNVENC:
		return []string{"-preset", "p5", "-tune", "hq"}
	case CodecAMF:
		return []string{"-quality", "balanced"}
	default:
		return nil
	}
}

func newProfile(codec, hwaccel, device, label string) EncoderProfile {
	return EncoderProfile{
		Codec:      codec,
		HWAccel:    hwaccel,
		Device:     device,
		PresetArgs: presetArgs(codec),
		Label:      label,
	}
}

// SoftwareProfile is the libx264 fallback. cpuModel is appended to the
// label when known.
func SoftwareProfile(cpuModel string) EncoderProfile {
	label := "CPU (Software Encode)"
	if cpuModel != "" {
		label = fmt.Sprintf("CPU (Software Encode, %s)", cpuModel)
	}
	return newProfile(CodecSoftware, "", "", label)
}

// Resolver inspects the host once and decides which H.264 encoder to use.
// Host access goes through function fields so tests can fake a machine.
type Resolver struct {
	ffmpegPath string
	allowHW    bool
	goos       string
	logger     *zap.Logger

	listEncoders func(ctx context.Context) (string, error)
	readDir      func(dir string) ([]os.DirEntry, error)
	accessible   func(path string) bool
	vendorInfo   func(ctx context.Context) (string, error)
	cpuModel     func(ctx context.Context) string
}

// NewResolver wires the resolver to the real host.
func NewResolver(ffmpegPath string, allowHW bool, logger *zap.Logger) *Resolver {
	r := &Resolver{
		ffmpegPath: ffmpegPath,
		allowHW:    allowHW,
		goos:       runtime.GOOS,
		logger:     logging.OrNop(logger).Named("encoder"),
		readDir:    os.ReadDir,
		accessible: hasReadWriteAccess,
		cpuModel:   cpuModelName,
	}
	r.listEncoders = func(ctx context.Context) (string, error) {
		return runCommand(ctx, r.ffmpegPath, "-hide_banner", "-encoders")
	}
	r.vendorInfo = func(ctx context.Context) (string, error) {
		return gpuVendorInfo(ctx, r.goos)
	}
	return r
}

// Resolve never fails: every probing problem degrades to the software
// profile.
func (r *Resolver) Resolve(ctx context.Context) (profile EncoderProfile) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("encoder detection panicked, using software encoder", zap.Any("panic", rec))
			profile = SoftwareProfile("")
		}
	}()

	if !r.allowHW {
		profile = r.software(ctx)
		r.logger.Info("hardware acceleration disabled", zap.String("encoder", profile.Codec))
		return profile
	}

	// 1. Ask FFmpeg what it was compiled with. Without this list no
	// hardware candidate can be confirmed.
	out, err := r.listEncoders(ctx)
	if err != nil {
		r.logger.Warn("could not list ffmpeg encoders", zap.Error(err))
		return r.software(ctx)
	}
	encoders := parseEncoderList(out)

	// 2. Look for device or vendor evidence the binary can use.
	if hw, ok := r.detectHardware(ctx, encoders); ok {
		r.logger.Info("hardware encoder selected",
			zap.String("encoder", hw.Codec),
			zap.String("label", hw.Label))
		return hw
	}

	profile = r.software(ctx)
	r.logger.Info("no usable hardware encoder, using software", zap.String("label", profile.Label))
	return profile
}

// H264Encoders lists the H.264 encoders compiled into ffmpeg.
func (r *Resolver) H264Encoders(ctx context.Context) ([]string, error) {
	out, err := r.listEncoders(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for name := range parseEncoderList(out) {
		if strings.HasPrefix(name, "h264") || name == CodecSoftware {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *Resolver) software(ctx context.Context) EncoderProfile {
	model := ""
	if r.cpuModel != nil {
		model = r.cpuModel(ctx)
	}
	return SoftwareProfile(model)
}

func (r *Resolver) detectHardware(ctx context.Context, encoders map[string]bool) (EncoderProfile, bool) {
	if r.goos == "linux" {
		for _, node := range nvidiaNodes() {
			if encoders[CodecNVENC] && r.accessible(node) {
				return newProfile(CodecNVENC, "cuda", "", fmt.Sprintf("NVIDIA GPU (%s)", node)), true
			}
		}
		if encoders[CodecVAAPI] {
			if nodes := r.renderNodes(); len(nodes) > 0 {
				return newProfile(CodecVAAPI, "vaapi", nodes[0], fmt.Sprintf("VAAPI Device (%s)", nodes[0])), true
			}
		}
	}

	if r.goos == "darwin" && encoders[CodecVideoToolbox] {
		return newProfile(CodecVideoToolbox, "videotoolbox", "", "Apple VideoToolbox"), true
	}

	info, err := r.vendorInfo(ctx)
	if err != nil {
		r.logger.Debug("gpu vendor lookup failed", zap.Error(err))
		return EncoderProfile{}, false
	}
	vendor := matchVendor(info)
	if vendor == "" {
		return EncoderProfile{}, false
	}
	for _, c := range vendorProfiles {
		if c.vendor != vendor || (c.goos != "" && c.goos != r.goos) || !encoders[c.codec] {
			continue
		}
		device := ""
		if c.codec == CodecVAAPI {
			device = defaultVAAPIDevice
		}
		return newProfile(c.codec, c.hwaccel, device, c.label), true
	}
	return EncoderProfile{}, false
}
