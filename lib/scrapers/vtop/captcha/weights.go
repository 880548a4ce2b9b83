package captcha

import (
	"encoding/binary"
	"math"
	"sync"

	_ "embed"
)

// pretrained classifier parameters, one row per feature, one column
// per symbol in Labels. float32 little-endian, weights then biases.
//
//go:embed weights.bin
var weightsBin []byte

const (
	featureCount = cellHeight * cellWidth
	labelCount   = len(Labels)
)

var loadOnce sync.Once
var weights [featureCount][labelCount]float32
var biases [labelCount]float32

func loadModel() {
	loadOnce.Do(func() {
		if len(weightsBin) != (featureCount*labelCount+labelCount)*4 {
			panic("captcha: embedded weight asset has unexpected size")
		}
		off := 0
		next := func() float32 {
			v := math.Float32frombits(binary.LittleEndian.Uint32(weightsBin[off:]))
			off += 4
			return v
		}
		for i := 0; i < featureCount; i++ {
			for j := 0; j < labelCount; j++ {
				weights[i][j] = next()
			}
		}
		for j := 0; j < labelCount; j++ {
			biases[j] = next()
		}
	})
}
