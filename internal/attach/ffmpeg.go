// ABOUTME: FFmpeg-backed audio extraction shelling out to the system binary
// ABOUTME: Strips video streams (-vn) so only the audio track reaches transcription

package attach

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// FFmpegExtractor implements AudioExtractor by invoking the ffmpeg binary.
type FFmpegExtractor struct{}

// ExtractAudio writes an audio-only copy of src to dst.
func (f *FFmpegExtractor) ExtractAudio(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", src, "-vn", dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, stderr.String())
	}
	return nil
}
