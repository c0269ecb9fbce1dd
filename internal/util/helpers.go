package util

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const stampLayout = "20060102_150405"

var stampPrefix = regexp.MustCompile(`^\d{8}_\d{6}__`)

// Timestamped генерирует имя файла с меткой времени
func Timestamped(name string) string {
	ts := time.Now().Format(stampLayout)
	return fmt.Sprintf("%s__%s", ts, name)
}

// TruncateRunes — безопасное усечение по рунам
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n])
}

// DocStem — имя документа без каталога, расширения и метки времени
func DocStem(path string) string {
	base := filepath.Base(strings.TrimSpace(path))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	base = stampPrefix.ReplaceAllString(base, "")
	return strings.TrimSuffix(base, filepath.Ext(base))
}
