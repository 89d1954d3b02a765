package puzzle

import (
	"fmt"
	"strings"
)

const (
	// Size 棋盘边长
	Size = 4
	// TargetTile 里程碑方块
	TargetTile = 2048
)

// Grid 4x4棋盘，0表示空格
type Grid [Size][Size]int

// Direction 滑动方向
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// Directions 全部方向
var Directions = []Direction{Up, Down, Left, Right}

// ParseDirection 解析方向字符串
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Up, Down, Left, Right:
		return d, nil
	default:
		return "", fmt.Errorf("无效的方向: %q", s)
	}
}

// Valid 是否为合法方向
func (d Direction) Valid() bool {
	_, err := ParseDirection(string(d))
	return err == nil
}

// RotateCW 顺时针旋转90度
func RotateCW(g Grid) Grid {
	var out Grid
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			out[c][Size-1-r] = g[r][c]
		}
	}
	return out
}

// RotateCCW 逆时针旋转90度
func RotateCCW(g Grid) Grid {
	var out Grid
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			out[Size-1-c][r] = g[r][c]
		}
	}
	return out
}

// HighestTile 最大方块
func HighestTile(g Grid) int {
	best := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g[r][c] > best {
				best = g[r][c]
			}
		}
	}
	return best
}

// EmptyCells 空格坐标，按行优先顺序
func EmptyCells(g Grid) [][2]int {
	cells := make([][2]int, 0, Size*Size)
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g[r][c] == 0 {
				cells = append(cells, [2]int{r, c})
			}
		}
	}
	return cells
}

// IsTerminal 无空格且无相邻相等方块
func IsTerminal(g Grid) bool {
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			v := g[r][c]
			if v == 0 {
				return false
			}
			if c+1 < Size && g[r][c+1] == v {
				return false
			}
			if r+1 < Size && g[r+1][c] == v {
				return false
			}
		}
	}
	return true
}

// Rows 转为切片形式，用于JSON输出
func (g Grid) Rows() [][]int {
	rows := make([][]int, Size)
	for r := 0; r < Size; r++ {
		rows[r] = append([]int(nil), g[r][:]...)
	}
	return rows
}

// GridFromRows 从切片还原棋盘
func GridFromRows(rows [][]int) (Grid, error) {
	var g Grid
	if len(rows) != Size {
		return g, fmt.Errorf("棋盘行数错误: %d", len(rows))
	}
	for r := range rows {
		if len(rows[r]) != Size {
			return g, fmt.Errorf("第%d行列数错误: %d", r, len(rows[r]))
		}
		copy(g[r][:], rows[r])
	}
	return g, nil
}
