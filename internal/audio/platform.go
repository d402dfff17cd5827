package audio

import (
	"cmp"
	"errors"
	"log/slog"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Command backend errors.
var (
	ErrNoAudioDevice       = errors.New("no audio input device found")
	ErrUnsupportedPlatform = errors.New("command capture is not supported on this platform")
)

// Platform describes how the command backend captures PCM and lists inputs on one OS.
type Platform struct {
	// Command is the capture executable, "arecord" or "ffmpeg".
	Command string
	// DefaultDevice is used when none is configured. Empty means use the first listed input.
	DefaultDevice string

	ffmpegFormat string // FFmpeg input format; empty when Command is not FFmpeg
	keepStdin    bool   // FFmpeg on Windows is stopped with 'q' on stdin

	listArgs   []string // Command and args that print the input list
	sectionOn  string   // Line that starts the audio section; empty means from the top
	sectionOff string   // Line that ends the audio section
	pattern    *regexp.Regexp
	device     func(m []string) Device // m holds every capture group of pattern
	fallback   []Device
}

var platforms = map[string]*Platform{
	"linux": {
		Command:       "arecord",
		DefaultDevice: "default",
		listArgs:      []string{"arecord", "-l"},
		pattern:       regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
		device: func(m []string) Device {
			return Device{ID: "plughw:CARD=" + m[2], Name: m[3]}
		},
		fallback: []Device{{ID: "default", Name: "System default"}},
	},
	"darwin": {
		Command:       "ffmpeg",
		DefaultDevice: ":0",
		ffmpegFormat:  "avfoundation",
		listArgs:      []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
		sectionOn:     "AVFoundation audio devices:",
		sectionOff:    "AVFoundation video devices:",
		pattern:       regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`),
		device: func(m []string) Device {
			return Device{ID: ":" + m[1], Name: strings.TrimSpace(m[2])}
		},
	},
	"windows": {
		Command:      "ffmpeg",
		ffmpegFormat: "dshow",
		keepStdin:    true,
		listArgs:     []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		// Section headers differ between FFmpeg builds; "(audio)" suffixes do not.
		pattern: regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`),
		device: func(m []string) Device {
			name := strings.TrimSpace(m[1])
			return Device{ID: "audio=" + name, Name: name}
		},
	},
}

// PlatformFor returns the capture description for goos.
func PlatformFor(goos string) (*Platform, error) {
	p, ok := platforms[goos]
	if !ok {
		return nil, ErrUnsupportedPlatform
	}
	return p, nil
}

// UsesFFmpeg reports whether capture runs through FFmpeg.
func (p *Platform) UsesFFmpeg() bool {
	return p.ffmpegFormat != ""
}

// Args returns the arguments that write S16LE mono PCM for device to stdout.
func (p *Platform) Args(device string) []string {
	rate := strconv.Itoa(SampleRate)
	channels := strconv.Itoa(Channels)

	if !p.UsesFFmpeg() {
		return []string{"-D", device, "-f", "S16_LE", "-r", rate, "-c", channels, "-t", "raw", "-q", "-"}
	}

	args := []string{"-f", p.ffmpegFormat, "-i", device}
	if !p.keepStdin {
		args = append(args, "-nostdin")
	}
	return append(args,
		"-hide_banner", "-loglevel", "warning", "-vn",
		"-f", "s16le", "-ac", channels, "-ar", rate,
		"pipe:1",
	)
}

// CaptureCommand returns the executable and arguments for device. An empty
// device selects the platform default, then the first listed input.
func (p *Platform) CaptureCommand(device, ffmpegPath string) (string, []string, error) {
	device = cmp.Or(device, p.DefaultDevice)
	if device == "" {
		devices := p.Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := p.Command
	if p.UsesFFmpeg() && ffmpegPath != "" {
		command = ffmpegPath
	}
	return command, p.Args(device), nil
}

// Devices runs the listing command and returns the inputs it reports.
// Listing failures fall back to the platform's default entries.
func (p *Platform) Devices() []Device {
	output, err := exec.Command(p.listArgs[0], p.listArgs[1:]...).CombinedOutput() //nolint:gosec // Fixed per-platform command
	if err != nil && len(output) == 0 {
		slog.Error("failed to list audio devices", "command", p.listArgs[0], "error", err)
		return p.fallback
	}
	if devices := p.ParseDevices(string(output)); len(devices) > 0 {
		return devices
	}
	return p.fallback
}

// ParseDevices extracts inputs from the listing command's output.
func (p *Platform) ParseDevices(output string) []Device {
	var devices []Device
	inAudio := p.sectionOn == ""

	for line := range strings.SplitSeq(output, "\n") {
		switch {
		case p.sectionOn != "" && strings.Contains(line, p.sectionOn):
			inAudio = true
			continue
		case p.sectionOff != "" && strings.Contains(line, p.sectionOff):
			inAudio = false
			continue
		}
		// DirectShow prints an alternative name under each device.
		if !inAudio || strings.Contains(line, "Alternative name") {
			continue
		}
		if m := p.pattern.FindStringSubmatch(line); m != nil {
			devices = append(devices, p.device(m))
		}
	}
	return devices
}

// BuildCaptureCommand returns the capture command for this OS.
func BuildCaptureCommand(device, ffmpegPath string) (string, []string, error) {
	p, err := PlatformFor(runtime.GOOS)
	if err != nil {
		return "", nil, err
	}
	return p.CaptureCommand(device, ffmpegPath)
}

// Devices returns the inputs the command backend can open on this OS.
func Devices() []Device {
	p, err := PlatformFor(runtime.GOOS)
	if err != nil {
		return nil
	}
	return p.Devices()
}
