package utils

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

const (
	// 去掉了容易混淆的 I、O 和 0、1
	roomCodeLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	roomCodeDigits  = "23456789"
)

var roomCodePattern = regexp.MustCompile(`^[A-Z]{3}[2-9]{3}$`)

// GenerateRoomCode 生成6位房间码，三个字母加三个数字
func GenerateRoomCode() string {
	var b strings.Builder
	b.Grow(6)
	for i := 0; i < 3; i++ {
		b.WriteByte(roomCodeLetters[rand.IntN(len(roomCodeLetters))])
	}
	for i := 0; i < 3; i++ {
		b.WriteByte(roomCodeDigits[rand.IntN(len(roomCodeDigits))])
	}
	return b.String()
}

// NormalizeRoomCode 去掉分隔符并转大写
func NormalizeRoomCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// ValidateRoomCode 校验房间码格式
func ValidateRoomCode(code string) bool {
	return roomCodePattern.MatchString(NormalizeRoomCode(code))
}

// FormatRoomCode 展示格式 ABC-234
func FormatRoomCode(code string) string {
	code = NormalizeRoomCode(code)
	if len(code) != 6 {
		return code
	}
	return code[:3] + "-" + code[3:]
}
