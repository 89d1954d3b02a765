package puzzle

// MoveResult 一次滑动的结果
type MoveResult struct {
	Grid    Grid
	Points  int
	Changed bool
}

// ApplyMove 计算滑动后的棋盘，不产生随机方块
//
// 所有方向都先旋转为向左压缩，合并后再旋转回来。
func ApplyMove(g Grid, d Direction) MoveResult {
	var rotated Grid
	switch d {
	case Left:
		rotated = g
	case Right:
		rotated = RotateCW(RotateCW(g))
	case Up:
		rotated = RotateCCW(g)
	case Down:
		rotated = RotateCW(g)
	default:
		return MoveResult{Grid: g}
	}

	var points int
	for r := 0; r < Size; r++ {
		var gained int
		rotated[r], gained = compressLeft(rotated[r])
		points += gained
	}

	var out Grid
	switch d {
	case Left:
		out = rotated
	case Right:
		out = RotateCW(RotateCW(rotated))
	case Up:
		out = RotateCW(rotated)
	case Down:
		out = RotateCCW(rotated)
	}

	return MoveResult{Grid: out, Points: points, Changed: out != g}
}

// compressLeft 左移并从左到右贪心合并，每个方块每次最多合并一次
func compressLeft(row [Size]int) ([Size]int, int) {
	var out [Size]int
	points, n := 0, 0
	merged := false
	for _, v := range row {
		if v == 0 {
			continue
		}
		if n > 0 && !merged && out[n-1] == v {
			out[n-1] *= 2
			points += out[n-1]
			merged = true
			continue
		}
		out[n] = v
		n++
		merged = false
	}
	return out, points
}
