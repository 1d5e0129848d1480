package inference

import (
	"github.com/flychenzhu/tengen/game"
)

// NumInputPlanes is the number of feature planes fed to the net.
//
// Planes: 0 on-board mask, 1 own stones, 2 opponent stones, 3 ko
// point, 4-6 last three move locations, 7 consecutive-pass count / 2.
const NumInputPlanes = 8

// Featurize encodes the position into [NumInputPlanes][nnYLen][nnXLen]
// floats from the perspective of pla, row-major, plane-major.
func Featurize(b *game.Board, hist *game.History, pla game.Player, nnXLen, nnYLen int, dst []float32) {
	planeSize := nnXLen * nnYLen
	for i := range dst[:NumInputPlanes*planeSize] {
		dst[i] = 0
	}
	opp := game.Opp(pla)
	for y := 0; y < b.YSize; y++ {
		for x := 0; x < b.XSize; x++ {
			loc := b.Loc(x, y)
			p := y*nnXLen + x
			dst[p] = 1
			switch b.Colors[loc] {
			case pla:
				dst[planeSize+p] = 1
			case opp:
				dst[2*planeSize+p] = 1
			}
		}
	}
	if b.KoLoc != game.NullLoc {
		dst[3*planeSize+LocToPos(b.KoLoc, b.XSize, nnXLen, nnYLen)] = 1
	}
	n := len(hist.MoveHistory)
	for i := 0; i < 3 && i < n; i++ {
		loc := hist.MoveHistory[n-1-i].Loc
		if loc >= 0 {
			dst[(4+i)*planeSize+LocToPos(loc, b.XSize, nnXLen, nnYLen)] = 1
		}
	}
	passes := float32(hist.ConsecutivePasses)
	if passes > 2 {
		passes = 2
	}
	for p := 0; p < planeSize; p++ {
		dst[7*planeSize+p] = passes / 2
	}
}
