// Package base62 把數字 ID 編碼成只含 0-9A-Za-z 的短字串
//
// 房間 ID 以 snowflake 數值產生，對外顯示與放進 URL 路徑時使用 base62 形式。
package base62

import (
	"errors"
	"math"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = 62

var (
	// ErrInvalidCharacter 輸入包含非 Base62 字符
	ErrInvalidCharacter = errors.New("invalid character in base62 string")

	// ErrOverflow 解碼結果超過 uint64
	ErrOverflow = errors.New("decoded value exceeds uint64 range")
)

// index 字符到數值的查表，非法字符為 -1
var index [256]int8

func init() {
	for i := range index {
		index[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		index[alphabet[i]] = int8(i)
	}
}

// Encode 將數字編碼為 Base62
//
//	Encode(0)  → "0"
//	Encode(61) → "z"
//	Encode(62) → "10"
func Encode(num uint64) string {
	if num == 0 {
		return "0"
	}

	var buf [11]byte // 62^11 > 2^64
	i := len(buf)
	for num > 0 {
		i--
		buf[i] = alphabet[num%base]
		num /= base
	}
	return string(buf[i:])
}

// Decode 將 Base62 字串解碼為數字
func Decode(s string) (uint64, error) {
	var result uint64
	for i := 0; i < len(s); i++ {
		v := index[s[i]]
		if v < 0 {
			return 0, ErrInvalidCharacter
		}
		if result > (math.MaxUint64-uint64(v))/base {
			return 0, ErrOverflow
		}
		result = result*base + uint64(v)
	}
	return result, nil
}

// IsValid 檢查字串是否只含 Base62 字符
func IsValid(s string) bool {
	for i := 0; i < len(s); i++ {
		if index[s[i]] < 0 {
			return false
		}
	}
	return s != ""
}
