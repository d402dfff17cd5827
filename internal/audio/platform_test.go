package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlatformFor(t *testing.T) {
	for _, goos := range []string{"linux", "darwin", "windows"} {
		p, err := PlatformFor(goos)
		require.NoError(t, err, goos)
		require.NotEmpty(t, p.Command)
	}
	_, err := PlatformFor("plan9")
	require.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestPlatformArgs(t *testing.T) {
	linux, _ := PlatformFor("linux")
	require.False(t, linux.UsesFFmpeg())
	require.Equal(t,
		[]string{"-D", "plughw:CARD=PCH", "-f", "S16_LE", "-r", "48000", "-c", "1", "-t", "raw", "-q", "-"},
		linux.Args("plughw:CARD=PCH"))

	darwin, _ := PlatformFor("darwin")
	require.True(t, darwin.UsesFFmpeg())
	args := darwin.Args(":1")
	require.Equal(t, []string{"-f", "avfoundation", "-i", ":1", "-nostdin"}, args[:5])
	require.Equal(t, "pipe:1", args[len(args)-1])

	windows, _ := PlatformFor("windows")
	require.NotContains(t, windows.Args("audio=Mic"), "-nostdin")
}

func TestCaptureCommandUsesFFmpegPath(t *testing.T) {
	darwin, _ := PlatformFor("darwin")
	cmd, args, err := darwin.CaptureCommand("", "/opt/ffmpeg/bin/ffmpeg")
	require.NoError(t, err)
	require.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cmd)
	require.Contains(t, args, ":0")

	linux, _ := PlatformFor("linux")
	cmd, args, err = linux.CaptureCommand("hw:1", "/opt/ffmpeg/bin/ffmpeg")
	require.NoError(t, err)
	require.Equal(t, "arecord", cmd)
	require.Equal(t, "hw:1", args[1])
}

func TestParseDevices(t *testing.T) {
	t.Run("arecord", func(t *testing.T) {
		output := `**** List of CAPTURE Hardware Devices ****
card 0: PCH [HDA Intel PCH], device 0: ALC3246 Analog [ALC3246 Analog]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
card 2: Device [USB PnP Sound Device], device 0: USB Audio [USB Audio]
  Subdevices: 1/1
`
		p, _ := PlatformFor("linux")
		require.Equal(t, []Device{
			{ID: "plughw:CARD=PCH", Name: "HDA Intel PCH"},
			{ID: "plughw:CARD=Device", Name: "USB PnP Sound Device"},
		}, p.ParseDevices(output))
	})

	t.Run("avfoundation", func(t *testing.T) {
		output := `[AVFoundation indev @ 0x1] AVFoundation video devices:
[AVFoundation indev @ 0x1] [0] FaceTime HD Camera
[AVFoundation indev @ 0x1] AVFoundation audio devices:
[AVFoundation indev @ 0x1] [0] MacBook Pro Microphone
[AVFoundation indev @ 0x1] [1] USB Classroom Mic
`
		p, _ := PlatformFor("darwin")
		require.Equal(t, []Device{
			{ID: ":0", Name: "MacBook Pro Microphone"},
			{ID: ":1", Name: "USB Classroom Mic"},
		}, p.ParseDevices(output))
	})

	t.Run("dshow", func(t *testing.T) {
		output := `[dshow @ 0x1] "Integrated Camera" (video)
[dshow @ 0x1] "Microphone Array (Realtek)" (audio)
[dshow @ 0x1]   Alternative name "@device_cm_{33D9A762}\wave_{1}"
[dshow @ 0x1] "Line In (USB Audio)" (audio)
`
		p, _ := PlatformFor("windows")
		devices := p.ParseDevices(output)
		require.Len(t, devices, 2)
		require.Equal(t, "audio=Microphone Array (Realtek)", devices[0].ID)
		require.Equal(t, "Line In (USB Audio)", devices[1].Name)
	})

	t.Run("no matches", func(t *testing.T) {
		p, _ := PlatformFor("linux")
		require.Empty(t, p.ParseDevices("no cards here"))
	})
}
