package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wfunc/tile-arena/internal/game/puzzle"
)

// BaseModel 公共字段
type BaseModel struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GridJSON 以JSON文本存储的棋盘
type GridJSON puzzle.Grid

// Value 实现driver.Valuer
func (g GridJSON) Value() (driver.Value, error) {
	data, err := json.Marshal(puzzle.Grid(g).Rows())
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现sql.Scanner
func (g *GridJSON) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*g = GridJSON{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("无法解析棋盘数据: %T", value)
	}
	if len(data) == 0 {
		*g = GridJSON{}
		return nil
	}

	var rows [][]int
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	grid, err := puzzle.GridFromRows(rows)
	if err != nil {
		return err
	}
	*g = GridJSON(grid)
	return nil
}

// StringsJSON 以JSON文本存储的字符串列表
type StringsJSON []string

// Value 实现driver.Valuer
func (s StringsJSON) Value() (driver.Value, error) {
	if s == nil {
		s = StringsJSON{}
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现sql.Scanner
func (s *StringsJSON) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("无法解析列表数据: %T", value)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*s = out
	return nil
}
