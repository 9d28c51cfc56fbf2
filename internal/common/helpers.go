// Package common содержит общие утилиты, используемые во всём проекте:
// форматирование денежных сумм и работу со временем.
package common

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale: количество знаков после запятой у денежных сумм.
const MoneyScale = 2

// RoundMoney округляет сумму до копеек (банковское округление).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

// FormatMoney форматирует сумму с разделителями тысяч (пробелами).
//
// Примеры:
//
//	FormatMoney(decimal.RequireFromString("2350"))     → "2 350.00"
//	FormatMoney(decimal.RequireFromString("-1200.5"))  → "-1 200.50"
func FormatMoney(d decimal.Decimal) string {
	s := d.StringFixed(MoneyScale)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}

	intPart, frac, _ := strings.Cut(s, ".")

	// Расставляем пробелы справа налево по три цифры
	var sb strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(' ')
		}
		sb.WriteRune(r)
	}

	return sign + sb.String() + "." + frac
}

// FormatSignedMoney создаёт строку вида "+100.00" или "-50.00".
func FormatSignedMoney(d decimal.Decimal) string {
	if d.Sign() >= 0 {
		return "+" + FormatMoney(d)
	}
	return FormatMoney(d)
}

// Location возвращает часовой пояс по имени, при ошибке: UTC+3.
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// FormatDateTime форматирует время в "02.01.2006 15:04" в заданном поясе.
func FormatDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02.01.2006 15:04")
}
