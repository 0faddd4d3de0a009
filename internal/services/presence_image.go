package services

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/beaconlabs/beacon/internal/models"
)

var (
	fontOnce     sync.Once
	parsedGoFont *opentype.Font
	parsedGoErr  error
)

// RenderHourlyChartPNG renders a 24-bar chart of an hourly presence
// aggregate, used for shareable stats images.
func RenderHourlyChartPNG(agg *models.PresenceAggregate, username string) ([]byte, error) {
	const width = 1200
	const height = 630
	const padding = 40
	const headerHeight = 90
	const axisHeight = 30
	const barGap = 6

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{0xFA, 0xF9, 0xF7, 0xFF}}, image.Point{}, draw.Src)

	headerFace, err := newFontFace(32)
	if err != nil {
		return nil, err
	}
	defer func() { _ = headerFace.Close() }()

	labelFace, err := newFontFace(16)
	if err != nil {
		return nil, err
	}
	defer func() { _ = labelFace.Close() }()

	title := fmt.Sprintf("%s's online hours", username)
	subtitle := fmt.Sprintf("Last %d days - %s total, peak at %02d:00",
		agg.Days, models.FormatDuration(agg.TotalSeconds), agg.PeakHour)

	drawText(img, headerFace, padding, 48, title, color.RGBA{0x2D, 0x2D, 0x2D, 0xFF})
	drawText(img, labelFace, padding, 76, subtitle, color.RGBA{0x6B, 0x6B, 0x6B, 0xFF})

	chartLeft := padding
	chartTop := headerHeight + padding
	chartWidth := width - padding*2
	chartHeight := height - chartTop - axisHeight - padding
	barWidth := (chartWidth - barGap*23) / 24

	var maxSeconds int64
	for _, h := range agg.Hours {
		if h.Seconds > maxSeconds {
			maxSeconds = h.Seconds
		}
	}

	barColor := color.RGBA{0x31, 0x82, 0xCE, 0xFF}
	peakColor := color.RGBA{0x1B, 0x4D, 0x3E, 0xFF}
	emptyColor := color.RGBA{0xE8, 0xE6, 0xE1, 0xFF}

	for _, h := range agg.Hours {
		x := chartLeft + h.Hour*(barWidth+barGap)
		barHeight := 0
		if maxSeconds > 0 {
			barHeight = int(int64(chartHeight) * h.Seconds / maxSeconds)
		}
		if barHeight < 2 {
			barHeight = 2
		}

		clr := barColor
		if h.Seconds == 0 {
			clr = emptyColor
		} else if h.Hour == agg.PeakHour {
			clr = peakColor
		}

		rect := image.Rect(x, chartTop+chartHeight-barHeight, x+barWidth, chartTop+chartHeight)
		draw.Draw(img, rect, &image.Uniform{C: clr}, image.Point{}, draw.Src)

		if h.Hour%3 == 0 {
			label := fmt.Sprintf("%02d", h.Hour)
			drawText(img, labelFace, x, chartTop+chartHeight+22, label, color.RGBA{0x6B, 0x6B, 0x6B, 0xFF})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func newFontFace(size float64) (*opentype.Face, error) {
	fontOnce.Do(func() {
		parsedGoFont, parsedGoErr = opentype.Parse(goregular.TTF)
	})
	if parsedGoErr != nil {
		return nil, fmt.Errorf("parse font: %w", parsedGoErr)
	}
	face, err := opentype.NewFace(parsedGoFont, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("load font face: %w", err)
	}
	otFace, ok := face.(*opentype.Face)
	if !ok {
		return nil, fmt.Errorf("load font face: unexpected type")
	}
	return otFace, nil
}

func drawText(img draw.Image, face font.Face, x, y int, text string, clr color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(clr),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
