package util

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ConvertImageToPNG 使用ffmpeg把 HEIC/HEIF 等 Go 无法解码的图片转成 PNG
func ConvertImageToPNG(ctx context.Context, srcPath, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var stderr bytes.Buffer
	err := ffmpeg.Input(srcPath).
		Output(dstPath, ffmpeg.KwArgs{
			"frames:v": "1",
			"f":        "image2",
		}).
		OverWriteOutput().
		WithErrorOutput(&stderr).
		Run()
	if err != nil {
		return fmt.Errorf("ffmpeg convert %s: %w: %s", filepath.Base(srcPath), err, stderr.String())
	}
	return nil
}

// FFmpegAvailable 检查 ffmpeg 是否已安装
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}
