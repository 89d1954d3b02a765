package puzzle

import (
	"math/rand/v2"
)

// TileSource 随机数来源
type TileSource interface {
	IntN(n int) int
	Float64() float64
}

// NewSource 确定性随机源，相同的种子、流和步数得到相同的序列
func NewSource(seed, stream, step uint64) TileSource {
	return rand.New(rand.NewPCG(seed^(step*0x9e3779b97f4a7c15), stream))
}

// SpawnTile 在随机空格放置一个方块，2的概率为90%，否则为4
func SpawnTile(g *Grid, src TileSource) bool {
	cells := EmptyCells(*g)
	if len(cells) == 0 {
		return false
	}
	cell := cells[src.IntN(len(cells))]
	value := 2
	if src.Float64() >= 0.9 {
		value = 4
	}
	g[cell[0]][cell[1]] = value
	return true
}
