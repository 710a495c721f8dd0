package utils

import (
	"time"
)

// time.go - время торговой сессии и timestamp из внешних источников

// DayEndIn возвращает конец календарного дня t в часовом поясе loc
// (23:59:59.999999999). nil означает UTC.
//
// Используется как срок действия DAY ордеров.
func DayEndIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, loc)
}

// FormatDuration округляет продолжительность до секунд для логов и /health
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	return d.Round(time.Second).String()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time (UTC).
// 0 - время не передано, возвращается нулевое время.
func FromUnixMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
