package processing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/nauuaf/image-service/internal/domain"
)

const (
	// MaxBytes is the largest accepted payload.
	MaxBytes = 10 * 1024 * 1024
	// MaxDimension is the largest accepted width or height in pixels.
	MaxDimension = 4096

	defaultQuality = 85
)

// Metadata describes a validated image payload.
type Metadata struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	Mode      string `json:"mode"`
	SizeBytes int    `json:"file_size"`
}

// Info extends Metadata with derived facts for the detail view.
type Info struct {
	Metadata
	AspectRatio      float64 `json:"aspect_ratio"`
	HasTransparency  bool    `json:"has_transparency"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// Processor is the codec/transform engine. Every operation takes raw bytes
// in and returns freshly encoded bytes out; the input buffer is never
// mutated, so independent calls are safe to run concurrently.
type Processor struct {
	log     *zap.Logger
	quality int
}

// NewProcessor builds a processor that re-encodes lossy output at the given
// quality. A quality outside 1..100 falls back to the default.
func NewProcessor(log *zap.Logger, quality int) *Processor {
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	return &Processor{log: log, quality: quality}
}

// Validate decodes the payload header and rejects payloads that are too
// large, too big in either dimension, or not a decodable image. Each
// rejection carries its specific reason.
func (p *Processor) Validate(data []byte) (*Metadata, error) {
	if len(data) > MaxBytes {
		return nil, domain.Validationf(domain.ErrPayloadTooLarge,
			"file size too large: %d bytes (max: %d bytes)", len(data), MaxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, domain.Validationf(domain.ErrNotAnImage, "invalid image format: %v", err)
	}

	if cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return nil, domain.Validationf(domain.ErrDimensionsTooLarge,
			"image dimensions too large: %dx%d (max: %dx%d)",
			cfg.Width, cfg.Height, MaxDimension, MaxDimension)
	}

	return &Metadata{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
		Mode:      colorModeName(cfg.ColorModel),
		SizeBytes: len(data),
	}, nil
}

// Info returns the validated metadata plus transparency and a rough
// compression ratio against the uncompressed RGB size.
func (p *Processor) Info(data []byte) (*Info, error) {
	meta, err := p.Validate(data)
	if err != nil {
		return nil, err
	}

	img, _, err := decode(data)
	if err != nil {
		return nil, domain.Validationf(domain.ErrNotAnImage, "invalid image format: %v", err)
	}

	info := &Info{Metadata: *meta, HasTransparency: !isOpaque(img)}
	if meta.Height > 0 {
		info.AspectRatio = round2(float64(meta.Width) / float64(meta.Height))
	}
	if meta.SizeBytes > 0 {
		uncompressed := meta.Width * meta.Height * 3
		info.CompressionRatio = round2(float64(uncompressed) / float64(meta.SizeBytes))
	}
	return info, nil
}

// Resize scales the image. With preserveAspect it fits within the target
// bounding box without upscaling a smaller source; otherwise the exact
// target dimensions are forced. Output is re-encoded in the source format.
func (p *Processor) Resize(data []byte, width, height int, preserveAspect bool) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, domain.Validationf(domain.ErrUnsupportedOperation,
			"invalid resize target: %dx%d", width, height)
	}

	img, format, err := decode(data)
	if err != nil {
		return nil, domain.Validationf(domain.ErrNotAnImage, "invalid image format: %v", err)
	}

	var out image.Image
	if preserveAspect {
		out = imaging.Fit(img, width, height, imaging.Lanczos)
	} else {
		out = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	return encode(out, format, p.quality)
}

// Thumbnail produces a square-bounded thumbnail preserving aspect ratio.
func (p *Processor) Thumbnail(data []byte, edge int) ([]byte, error) {
	return p.Resize(data, edge, edge, true)
}

// Rotate rotates counter-clockwise about the center. The canvas expands to
// fit the rotated content; exposed corners are filled white.
func (p *Processor) Rotate(data []byte, degrees float64) ([]byte, error) {
	img, format, err := decode(data)
	if err != nil {
		return nil, domain.Validationf(domain.ErrNotAnImage, "invalid image format: %v", err)
	}

	out := imaging.Rotate(img, degrees, color.White)
	return encode(out, format, p.quality)
}

// ApplyFilter applies one of the named filters. An unknown name fails with
// an error naming the offending value.
func (p *Processor) ApplyFilter(data []byte, name string) ([]byte, error) {
	img, format, err := decode(data)
	if err != nil {
		return nil, domain.Validationf(domain.ErrNotAnImage, "invalid image format: %v", err)
	}

	var out image.Image
	switch strings.ToLower(name) {
	case "blur":
		out = imaging.Blur(img, 2.0)
	case "sharpen":
		out = imaging.Sharpen(img, 1.0)
	case "edge":
		out = imaging.Convolve3x3(img,
			[9]float64{-1, -1, -1, -1, 8, -1, -1, -1, -1}, nil)
	case "emboss":
		out = imaging.Convolve3x3(img,
			[9]float64{-1, 0, 0, 0, 1, 0, 0, 0, 0},
			&imaging.ConvolveOptions{Bias: 128})
	case "grayscale":
		out = imaging.Grayscale(img)
	case "sepia":
		out = colorize(imaging.Grayscale(img), sepiaDark, sepiaLight)
	case "enhance":
		out = imaging.AdjustContrast(imaging.AdjustSaturation(img, 30), 10)
	default:
		return nil, domain.Validationf(domain.ErrUnsupportedFilter, "unknown filter: %s", name)
	}

	return encode(out, format, p.quality)
}

// Convert re-encodes the image into the requested output format at the given
// quality (quality applies to lossy formats only).
func (p *Processor) Convert(data []byte, format string, quality int) ([]byte, error) {
	target, err := formatFor(format)
	if err != nil {
		return nil, domain.Validationf(domain.ErrUnsupportedOperation,
			"unsupported output format: %s", format)
	}
	if quality <= 0 || quality > 100 {
		quality = p.quality
	}

	img, _, err := decode(data)
	if err != nil {
		return nil, domain.Validationf(domain.ErrNotAnImage, "invalid image format: %v", err)
	}

	return encodeAs(img, target, quality)
}

// FilterNames lists the supported filter names.
func FilterNames() []string {
	return []string{"blur", "sharpen", "edge", "emboss", "grayscale", "sepia", "enhance"}
}

func decode(data []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(data))
}

// encode re-encodes in the source format, falling back to JPEG when the
// source format has no encoder.
func encode(img image.Image, format string, quality int) ([]byte, error) {
	target, err := formatFor(format)
	if err != nil {
		target = imaging.JPEG
	}
	return encodeAs(img, target, quality)
}

func encodeAs(img image.Image, target imaging.Format, quality int) ([]byte, error) {
	// JPEG has no alpha channel: flatten translucent content onto opaque
	// white first. Alpha-aware formats are left untouched.
	if target == imaging.JPEG && !isOpaque(img) {
		img = flattenWhite(img)
	}

	buf := new(bytes.Buffer)
	var opts []imaging.EncodeOption
	if target == imaging.JPEG {
		opts = append(opts, imaging.JPEGQuality(quality))
	}
	if err := imaging.Encode(buf, img, target, opts...); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func formatFor(name string) (imaging.Format, error) {
	switch strings.ToLower(name) {
	case "jpeg", "jpg":
		return imaging.JPEG, nil
	case "png":
		return imaging.PNG, nil
	case "gif":
		return imaging.GIF, nil
	case "tiff", "tif":
		return imaging.TIFF, nil
	case "bmp":
		return imaging.BMP, nil
	}
	return 0, fmt.Errorf("no encoder for format %q", name)
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

func flattenWhite(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	bg := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

var (
	sepiaDark  = color.NRGBA{R: 0x70, G: 0x42, B: 0x14, A: 0xff} // brown
	sepiaLight = color.NRGBA{R: 0xc0, G: 0xa8, B: 0x82, A: 0xff} // tan
)

// colorize maps grayscale luminance linearly between a dark and a light
// tone, preserving alpha.
func colorize(gray *image.NRGBA, dark, light color.NRGBA) *image.NRGBA {
	var lutR, lutG, lutB [256]uint8
	for i := 0; i < 256; i++ {
		lutR[i] = uint8((int(dark.R)*(255-i) + int(light.R)*i) / 255)
		lutG[i] = uint8((int(dark.G)*(255-i) + int(light.G)*i) / 255)
		lutB[i] = uint8((int(dark.B)*(255-i) + int(light.B)*i) / 255)
	}

	out := imaging.Clone(gray)
	for i := 0; i < len(out.Pix); i += 4 {
		y := out.Pix[i]
		out.Pix[i] = lutR[y]
		out.Pix[i+1] = lutG[y]
		out.Pix[i+2] = lutB[y]
	}
	return out
}

func colorModeName(model color.Model) string {
	switch model.(type) {
	case color.Palette:
		return "palette"
	}
	switch model {
	case color.YCbCrModel:
		return "ycbcr"
	case color.NYCbCrAModel:
		return "nycbcra"
	case color.RGBAModel:
		return "rgba"
	case color.RGBA64Model:
		return "rgba64"
	case color.NRGBAModel:
		return "nrgba"
	case color.NRGBA64Model:
		return "nrgba64"
	case color.GrayModel:
		return "gray"
	case color.Gray16Model:
		return "gray16"
	case color.CMYKModel:
		return "cmyk"
	}
	return "unknown"
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
