// Package captcha decodes the portal's 6-character login captcha with
// a fixed-weight linear classifier. The weights ship as static data;
// nothing is trained at runtime.
package captcha

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"strings"
)

const (
	// every captcha the portal has ever served is exactly this size
	Width  = 200
	Height = 40

	// glyph cells are cut at empirically fixed offsets; characters
	// alternate between two vertical positions
	cellWidth  = 24
	cellHeight = 22

	NumCharacters = 6
)

// ambiguous glyphs I/O/0/1 are never used by the portal
const Labels = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type DimensionError struct {
	Width  int
	Height int
}

func (e DimensionError) Error() string {
	return fmt.Sprintf(
		"captcha: unexpected image dimensions %dx%d (want %dx%d)",
		e.Width, e.Height, Width, Height,
	)
}

// SolveBase64 accepts either a bare base64 string or a full
// data:image/...;base64, URI and returns the 6-character guess.
func SolveBase64(dataURI string) (string, error) {
	payload := dataURI
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", fmt.Errorf("captcha: decode base64: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("captcha: decode jpeg: %w", err)
	}
	return Solve(img)
}

func Solve(img image.Image) (string, error) {
	bounds := img.Bounds()
	if bounds.Dx() != Width || bounds.Dy() != Height {
		return "", DimensionError{Width: bounds.Dx(), Height: bounds.Dy()}
	}

	sat := saturation(img)

	loadModel()
	var out strings.Builder
	for i := 0; i < NumCharacters; i++ {
		cell := cut(sat, i)
		features := binarize(cell)
		out.WriteByte(Labels[classify(features)])
	}
	return out.String(), nil
}

// saturation maps each pixel to round((max-min)*255/max) over its RGB
// channels, which isolates the colored glyphs from the gray noise.
func saturation(img image.Image) [Height][Width]float64 {
	var sat [Height][Width]float64
	bounds := img.Bounds()
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			r8 := float64(r >> 8)
			g8 := float64(g >> 8)
			b8 := float64(b >> 8)
			max := math.Max(r8, math.Max(g8, b8))
			min := math.Min(r8, math.Min(g8, b8))
			if max == 0 {
				continue
			}
			sat[y][x] = math.Round((max - min) * 255 / max)
		}
	}
	return sat
}

func cut(sat [Height][Width]float64, i int) [cellHeight][cellWidth]float64 {
	x1 := (i+1)*25 + 2
	y1 := 7 + 5*(i%2) + 1
	var cell [cellHeight][cellWidth]float64
	for y := 0; y < cellHeight; y++ {
		for x := 0; x < cellWidth; x++ {
			cell[y][x] = sat[y1+y][x1+x]
		}
	}
	return cell
}

// binarize thresholds the cell against its own mean intensity and
// flattens it row-major into the classifier's feature vector.
func binarize(cell [cellHeight][cellWidth]float64) [featureCount]float32 {
	var sum float64
	for y := 0; y < cellHeight; y++ {
		for x := 0; x < cellWidth; x++ {
			sum += cell[y][x]
		}
	}
	mean := sum / float64(featureCount)

	var features [featureCount]float32
	for y := 0; y < cellHeight; y++ {
		for x := 0; x < cellWidth; x++ {
			if cell[y][x] > mean {
				features[y*cellWidth+x] = 1
			}
		}
	}
	return features
}

func classify(features [featureCount]float32) int {
	var logits [labelCount]float64
	for j := 0; j < labelCount; j++ {
		logits[j] = float64(biases[j])
	}
	for i, f := range features {
		if f == 0 {
			continue
		}
		for j := 0; j < labelCount; j++ {
			logits[j] += float64(weights[i][j])
		}
	}

	// softmax then argmax; the exponentiation never changes the argmax
	// but is kept so confidence can be logged if ever needed
	var sum float64
	var probs [labelCount]float64
	for j, l := range logits {
		probs[j] = math.Exp(l)
		sum += probs[j]
	}
	best := 0
	for j := range probs {
		probs[j] /= sum
		if probs[j] > probs[best] {
			best = j
		}
	}
	return best
}
