package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
)

type vendorCandidate struct {
	vendor  string
	goos    string // empty matches any platform
	codec   string
	hwaccel string
	label   string
}

// vendorProfiles is consulted in order once a GPU vendor is known.
var vendorProfiles = []vendorCandidate{
	{vendor: "NVIDIA", codec: CodecNVENC, hwaccel: "cuda", label: "NVIDIA GPU"},
	{vendor: "AMD", goos: "windows", codec: CodecAMF, hwaccel: "d3d11va", label: "AMD GPU (Windows)"},
	{vendor: "AMD", goos: "linux", codec: CodecVAAPI, hwaccel: "vaapi", label: "AMD GPU (Linux)"},
	{vendor: "INTEL", goos: "windows", codec: CodecQSV, hwaccel: "qsv", label: "Intel GPU (Windows)"},
	{vendor: "INTEL", goos: "linux", codec: CodecVAAPI, hwaccel: "vaapi", label: "Intel GPU (Linux)"},
	{vendor: "GENERIC", goos: "linux", codec: CodecVAAPI, hwaccel: "vaapi", label: "VAAPI Device"},
}

// vendorKeywords maps substrings of the system GPU listing to a vendor.
// Order matters when several adapters are present.
var vendorKeywords = []struct{ keyword, vendor string }{
	{"nvidia", "NVIDIA"},
	{"amd", "AMD"},
	{"radeon", "AMD"},
	{"intel", "INTEL"},
}

// matchVendor names the GPU vendor in info. An adapter listing without a
// known keyword is GENERIC; an empty one has no vendor at all.
func matchVendor(info string) string {
	info = strings.ToLower(strings.TrimSpace(info))
	if info == "" {
		return ""
	}
	for _, k := range vendorKeywords {
		if strings.Contains(info, k.keyword) {
			return k.vendor
		}
	}
	return "GENERIC"
}

// parseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// Lines look like " V....D h264_nvenc   NVIDIA NVENC H.264 encoder".
func parseEncoderList(out string) map[string]bool {
	encoders := make(map[string]bool)
	inList := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

func nvidiaNodes() []string {
	nodes := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		nodes = append(nodes, fmt.Sprintf("/dev/nvidia%d", i))
	}
	return nodes
}

// renderNodes lists /dev/dri/renderD* with the highest index first,
// keeping only nodes this process can open read/write.
func (r *Resolver) renderNodes() []string {
	const base = "/dev/dri"
	entries, err := r.readDir(base)
	if err != nil {
		return nil
	}

	type node struct {
		path  string
		index int
	}
	var nodes []node
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "renderD") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "renderD"))
		if err != nil {
			continue
		}
		nodes = append(nodes, node{path: filepath.Join(base, name), index: idx})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].index > nodes[j].index })

	var paths []string
	for _, n := range nodes {
		if r.accessible(n.path) {
			paths = append(paths, n.path)
		}
	}
	return paths
}

// gpuVendorInfo returns the platform's description of installed display
// adapters, or an error when the platform has no lookup command.
func gpuVendorInfo(ctx context.Context, goos string) (string, error) {
	switch goos {
	case "linux":
		out, err := runCommand(ctx, "lspci")
		if err != nil {
			return "", err
		}
		var adapters []string
		for _, line := range strings.Split(out, "\n") {
			lower := strings.ToLower(line)
			if strings.Contains(lower, "vga") || strings.Contains(lower, "3d controller") || strings.Contains(lower, "display controller") {
				adapters = append(adapters, line)
			}
		}
		return strings.Join(adapters, "\n"), nil
	case "windows":
		return runCommand(ctx, "powershell", "-NoProfile", "-Command",
			"Get-CimInstance Win32_VideoController | Select-Object -ExpandProperty Name")
	default:
		return "", fmt.Errorf("no gpu vendor lookup for %s", goos)
	}
}

// cpuModelName gathers the CPU model for the software profile label.
func cpuModelName(ctx context.Context) string {
	info, err := cpu.InfoWithContext(ctx)
	if err != nil || len(info) == 0 {
		return ""
	}
	return strings.TrimSpace(info[0].ModelName)
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w", name, err)
	}
	return out.String(), nil
}
