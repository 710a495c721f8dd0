package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// math.go - математические утилиты исполнения ордеров
//
// Все функции чистые. Денежные округления идут через decimal,
// чтобы половинные значения (82.125) не зависели от двоичного представления.

// RoundHalfUp округляет значение до places знаков, половину - от нуля.
//
// Примеры:
//   - RoundHalfUp(82.125, 2) = 82.13
//   - RoundHalfUp(82.124, 2) = 82.12
func RoundHalfUp(value float64, places int32) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	f, _ := decimal.NewFromFloat(value).Round(places).Float64()
	return f
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Clamp01 ограничивает значение диапазоном [0, 1]. NaN считается нулём.
func Clamp01(value float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	return Clamp(value, 0, 1)
}

// ClampInt64 ограничивает целое значение диапазоном [min, max].
func ClampInt64(value, min, max int64) int64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// MinInt64 возвращает минимум из двух чисел.
func MinInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// FloorShare возвращает floor(total × weight) для weight в [0, 1].
//
// Используется при распределении объёма по весам брокеров: сумма долей
// никогда не превышает total, остаток распределяет вызывающий.
func FloorShare(total int64, weight float64) int64 {
	if total <= 0 || weight <= 0 {
		return 0
	}
	if weight >= 1 {
		return total
	}
	share := decimal.NewFromInt(total).Mul(decimal.NewFromFloat(weight)).Floor()
	return share.IntPart()
}

// WeightedAvgPrice пересчитывает среднюю цену исполнения после нового fill.
//
//	avg' = (avg × filled + price × qty) / (filled + qty)
func WeightedAvgPrice(avg float64, filled int64, price float64, qty int64) float64 {
	if qty <= 0 {
		return avg
	}
	if filled <= 0 {
		return price
	}
	total := decimal.NewFromInt(filled + qty)
	sum := decimal.NewFromFloat(avg).Mul(decimal.NewFromInt(filled)).
		Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty)))
	f, _ := sum.Div(total).Float64()
	return f
}

// NotionalValue возвращает qty × price.
func NotionalValue(qty int64, price float64) float64 {
	if qty <= 0 || price <= 0 {
		return 0
	}
	return float64(qty) * price
}
