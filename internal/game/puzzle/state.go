package puzzle

// State 单个玩家的棋局状态
type State struct {
	Grid          Grid `json:"grid"`
	Score         int  `json:"score"`
	MoveCount     int  `json:"move_count"`
	HighestTile   int  `json:"highest_tile"`
	GameOver      bool `json:"game_over"`
	ReachedTarget bool `json:"reached_target"`
}

// NewGame 空棋盘加两个随机方块
func NewGame(src TileSource) State {
	var s State
	SpawnTile(&s.Grid, src)
	SpawnTile(&s.Grid, src)
	s.refresh()
	return s
}

// Move 执行一步；棋盘未变化时返回原状态
func (s State) Move(d Direction, src TileSource) (State, MoveResult) {
	res := ApplyMove(s.Grid, d)
	if !res.Changed {
		return s, res
	}
	next := s
	next.Grid = res.Grid
	SpawnTile(&next.Grid, src)
	next.Score += res.Points
	next.MoveCount++
	next.refresh()
	return next, res
}

func (s *State) refresh() {
	s.HighestTile = HighestTile(s.Grid)
	s.GameOver = IsTerminal(s.Grid)
	if s.HighestTile >= TargetTile {
		s.ReachedTarget = true
	}
}
