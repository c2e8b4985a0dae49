package main

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// ErrEngineVersion is returned when the recognition engine's major version
// differs from the expected one.
var ErrEngineVersion = errors.New("unsupported OCR engine version")

// Recognition is the text and normalized confidence read from one region.
type Recognition struct {
	Text string

	// Confidence is the engine's mean confidence scaled to [0,1].
	Confidence float64
}

// Engine is a text recognition engine fed with encoded images.
//
// Reset must be called before each Recognize; it discards any state the
// engine adapted from previous images so every call is independent.
type Engine interface {
	Version() string
	Reset() error
	// Recognize returns UTF-8 text and the mean confidence on a 0-100 scale.
	Recognize(png []byte) (string, float64, error)
	Close() error
}

// OCRGateway prepares region images and runs them through an Engine.
type OCRGateway struct {
	engine  Engine
	logger  *slog.Logger
	metrics *StreamMetrics

	// debugDir, when set, receives every prepared region image.
	debugDir string
}

// NewOCRGateway verifies the engine version and returns a gateway.
func NewOCRGateway(engine Engine, expectedMajor string, metrics *StreamMetrics, logger *slog.Logger) (*OCRGateway, error) {
	version := engine.Version()
	if err := checkEngineVersion(version, expectedMajor); err != nil {
		return nil, err
	}
	logger.Debug("OCR engine ready", "version", version)

	return &OCRGateway{
		engine:  engine,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// checkEngineVersion compares the major component of version with expectedMajor.
func checkEngineVersion(version, expectedMajor string) error {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	major, _, _ := strings.Cut(v, ".")
	if major == "" || major != strings.TrimSpace(expectedMajor) {
		return fmt.Errorf("%w: got %q, need major version %s", ErrEngineVersion, version, expectedMajor)
	}
	return nil
}

// SetDebugDir enables dumping prepared region images into dir.
func (g *OCRGateway) SetDebugDir(dir string) {
	g.debugDir = dir
}

// Recognize reads the text of region in frame.
func (g *OCRGateway) Recognize(frame *Frame, region *Region) (Recognition, error) {
	prepared, err := prepareRegionMat(frame, region)
	if err != nil {
		return Recognition{}, err
	}
	defer prepared.Close()

	png, err := encodePNG(prepared)
	if err != nil {
		return Recognition{}, err
	}

	if g.debugDir != "" {
		g.dump(frame, region, png)
	}

	if err := g.engine.Reset(); err != nil {
		return Recognition{}, fmt.Errorf("failed to reset OCR engine: %w", err)
	}

	text, confidence, err := g.engine.Recognize(png)
	g.metrics.ocrCalls.Add(1)
	if err != nil {
		return Recognition{}, fmt.Errorf("failed to recognize region %q: %w", region.Name, err)
	}

	return Recognition{
		Text:       strings.TrimSpace(text),
		Confidence: clamp01(confidence / 100.0),
	}, nil
}

func (g *OCRGateway) dump(frame *Frame, region *Region, png []byte) {
	path := filepath.Join(g.debugDir, fmt.Sprintf("%06d-%s.png", frame.Index, region.Name))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		g.logger.Warn("Failed to write debug image", "path", path, "error", err)
	}
}

// Close releases the engine.
func (g *OCRGateway) Close() error {
	return g.engine.Close()
}

// prepareRegionMat crops region out of frame and applies the region's
// transform and scale. The returned RGB Mat must be closed by the caller.
func prepareRegionMat(frame *Frame, region *Region) (gocv.Mat, error) {
	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer src.Close()

	roi := src.Region(region.Box.Rect())
	defer roi.Close()

	// Clone so the result no longer references frame.Data.
	out := roi.Clone()

	if region.Transform.Kind == TransformContrastStretch {
		stretched := contrastStretch(out, region.Transform.Low, region.Transform.High)
		out.Close()
		out = stretched
	}

	if region.Scale != 1.0 {
		size := image.Point{
			X: max(1, int(float64(region.Box.Width)*region.Scale)),
			Y: max(1, int(float64(region.Box.Height)*region.Scale)),
		}
		resized := gocv.NewMat()
		gocv.Resize(out, &resized, size, 0, 0, gocv.InterpolationNearestNeighbor)
		out.Close()
		out = resized
	}

	return out, nil
}

// contrastStretch converts src to luminance, maps [low,high] linearly onto
// [0,255] with saturation and returns the result as a 3-channel RGB Mat.
func contrastStretch(src gocv.Mat, low, high uint8) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorRGBToGray)

	alpha := 255.0 / float32(int(high)-int(low))
	beta := -float32(low) * alpha
	stretched := gocv.NewMat()
	defer stretched.Close()
	gray.ConvertToWithParams(&stretched, gocv.MatTypeCV8U, alpha, beta)

	// Grey to three channels duplicates the plane, so BGR and RGB coincide.
	out := gocv.NewMat()
	gocv.CvtColor(stretched, &out, gocv.ColorGrayToBGR)
	return out
}

// encodePNG encodes an RGB Mat. OpenCV encoders expect BGR channel order;
// swapping R and B is its own inverse.
func encodePNG(rgb gocv.Mat) ([]byte, error) {
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgb, &bgr, gocv.ColorBGRToRGB)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, bgr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	return buf.GetBytes(), nil
}

const (
	varClassifyEnableLearning gosseract.SettableVariable = "classify_enable_learning"
	varUserDefinedDPI         gosseract.SettableVariable = "user_defined_dpi"
)

// TesseractConfig configures the Tesseract engine.
type TesseractConfig struct {
	// Languages are Tesseract language codes, e.g. {"eng", "jpn"}.
	Languages []string

	// TessdataPrefix is the traineddata directory; empty uses TESSDATA_PREFIX.
	TessdataPrefix string

	// DPI is the input resolution hint.
	DPI int
}

// TesseractEngine implements Engine with gosseract.
type TesseractEngine struct {
	config TesseractConfig
	client *gosseract.Client
}

// NewTesseractEngine creates a configured Tesseract client.
func NewTesseractEngine(config TesseractConfig) (*TesseractEngine, error) {
	if len(config.Languages) == 0 {
		config.Languages = []string{"eng"}
	}
	if config.DPI <= 0 {
		config.DPI = 90
	}

	client, err := newTesseractClient(config)
	if err != nil {
		return nil, err
	}
	return &TesseractEngine{config: config, client: client}, nil
}

func newTesseractClient(config TesseractConfig) (*gosseract.Client, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(config.Languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	if config.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(config.TessdataPrefix); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}

	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	if err := client.SetVariable(varClassifyEnableLearning, "0"); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to disable adaptive learning: %w", err)
	}

	if err := client.SetVariable(varUserDefinedDPI, strconv.Itoa(config.DPI)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set DPI hint: %w", err)
	}

	return client, nil
}

// Version returns the linked Tesseract version.
func (e *TesseractEngine) Version() string {
	return e.client.Version()
}

// Reset replaces the underlying TessBaseAPI with a fresh one. The binding has
// no call to clear the adaptive classifier, so a new instance is the only way
// to drop what the previous recognition taught it. Language dictionaries stay
// in Tesseract's process-wide cache, which keeps this affordable.
func (e *TesseractEngine) Reset() error {
	client, err := newTesseractClient(e.config)
	if err != nil {
		return err
	}
	if e.client != nil {
		e.client.Close()
	}
	e.client = client
	return nil
}

// Recognize runs OCR on a PNG image.
func (e *TesseractEngine) Recognize(png []byte) (string, float64, error) {
	if err := e.client.SetImageFromBytes(png); err != nil {
		return "", 0, fmt.Errorf("failed to set OCR image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("failed to extract text: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get bounding boxes: %w", err)
	}

	return text, meanWordConfidence(boxes), nil
}

// meanWordConfidence averages the confidence of all recognized words.
func meanWordConfidence(boxes []gosseract.BoundingBox) float64 {
	var total float64
	var words int
	for _, box := range boxes {
		if strings.TrimSpace(box.Word) == "" {
			continue
		}
		total += box.Confidence
		words++
	}
	if words == 0 {
		return 0
	}
	return total / float64(words)
}

// Close releases the Tesseract client.
func (e *TesseractEngine) Close() error {
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
