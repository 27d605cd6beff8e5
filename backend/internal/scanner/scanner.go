package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // 注册 JPEG 解码
	_ "image/png"  // 注册 PNG 解码
	"io"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
)

var (
	// ErrNoCode 帧中未识别到二维码
	ErrNoCode = errors.New("未识别到二维码")
	// ErrImageTooLarge 上传图片的尺寸超过上限
	ErrImageTooLarge = errors.New("图片尺寸过大")
)

// DefaultMaxImageSide 未配置时上传图片允许的最大边长
const DefaultMaxImageSide = 4096

// FrameSource 图像帧来源（摄像头、上传的图片等）
// 由 Scanner 独占，扫描结束时必定 Close
type FrameSource interface {
	// Next 返回下一帧；没有更多帧时返回 io.EOF
	Next(ctx context.Context) (image.Image, error)
	io.Closer
}

// Decode 从单帧中解码二维码文本
func Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("图像转换失败: %w", err)
	}

	result, err := zxingqr.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		if _, ok := err.(gozxing.NotFoundException); ok {
			return "", ErrNoCode
		}
		// 定位到二维码但校验失败（模糊、残缺）
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return result.GetText(), nil
}

// Scanner 逐帧扫描，直到识别到一个合法的签到二维码
type Scanner struct {
	expectedHost string
}

// New 创建 Scanner，只接受主机名为 expectedHost 的二维码
func New(expectedHost string) *Scanner {
	return &Scanner{expectedHost: expectedHost}
}

// Run 扫描 src 直到：
//   - 识别到合法二维码：返回 Payload
//   - 帧耗尽：返回 ErrNoCode
//   - ctx 取消或读帧出错：返回对应错误
//
// 非法二维码通过 onReject 通知调用方，不中断扫描；无论结果如何都会关闭 src
func (s *Scanner) Run(ctx context.Context, src FrameSource, onReject func(error)) (payload *Payload, err error) {
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("释放图像源失败: %w", cerr)
			payload = nil
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil, ErrNoCode
		}
		if err != nil {
			return nil, err
		}

		text, err := Decode(img)
		if err != nil {
			continue
		}

		p, err := ParsePayload(text, s.expectedHost)
		if err != nil {
			if onReject != nil {
				onReject(err)
			}
			continue
		}
		return p, nil
	}
}

// ── 图像源实现 ──

// ImageSource 由已解码图像组成的有限帧序列
type ImageSource struct {
	frames []image.Image
	pos    int
	closed bool
}

// NewImageSource 创建帧序列
func NewImageSource(frames ...image.Image) *ImageSource {
	return &ImageSource{frames: frames}
}

// NewUploadSource 从上传的图片字节（PNG / JPEG）创建单帧图像源
// 解码前先读取头部尺寸，任一边超过 maxSide（<=0 时取 DefaultMaxImageSide）即拒绝；
// 解码内存按像素数分配，与压缩后的字节数无关
func NewUploadSource(data []byte, maxSide int) (*ImageSource, error) {
	if maxSide <= 0 {
		maxSide = DefaultMaxImageSide
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("无法解码图片: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxSide || cfg.Height > maxSide {
		return nil, fmt.Errorf("%w: %dx%d，上限 %d", ErrImageTooLarge, cfg.Width, cfg.Height, maxSide)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("无法解码图片: %w", err)
	}
	return NewImageSource(img), nil
}

// Next 返回下一帧
func (s *ImageSource) Next(ctx context.Context) (image.Image, error) {
	if s.closed {
		return nil, errors.New("图像源已关闭")
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	img := s.frames[s.pos]
	s.pos++
	return img, nil
}

// Close 释放帧引用
func (s *ImageSource) Close() error {
	s.closed = true
	s.frames = nil
	return nil
}

// Closed 是否已释放
func (s *ImageSource) Closed() bool {
	return s.closed
}
