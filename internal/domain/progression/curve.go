package progression

import "math"

// ══════════════════════════════════════════════════════════════════════════════
// КРИВАЯ УРОВНЕЙ
// Чистые детерминированные функции без состояния и I/O. Все функции тотальны
// для totalXP >= 0 и никогда не возвращают отрицательных значений.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// CurveBaseCost - базовая стоимость шага: уровень 1 стоит 50 XP.
	CurveBaseCost = 50.0

	// CurveExponent - показатель нелинейности кривой.
	CurveExponent = 1.8
)

// XPRequiredForLevel возвращает стоимость шага с уровня level на level+1.
// Формула: round(50 * level^1.8). Строго возрастает по level.
func XPRequiredForLevel(level int) int {
	if level < 1 {
		level = 1
	}
	return int(math.Round(CurveBaseCost * math.Pow(float64(level), CurveExponent)))
}

// TotalXPForLevel возвращает суммарный XP, необходимый для достижения
// уровня level: сумма стоимостей шагов 1..level-1. Для уровня 1 равен 0.
func TotalXPForLevel(level int) int {
	total := 0
	for i := 1; i < level; i++ {
		total += XPRequiredForLevel(i)
	}
	return total
}

// LevelFromXP возвращает наименьший уровень L, такой что
// TotalXPForLevel(L+1) > totalXP. Минимальный уровень - 1.
// Закрытой формулы нет - идём вверх по монотонной кривой.
func LevelFromXP(totalXP int) int {
	if totalXP < 0 {
		totalXP = 0
	}

	level := 1
	for TotalXPForLevel(level+1) <= totalXP {
		level++
	}
	return level
}

// LevelProgress описывает прогресс внутри текущего уровня.
type LevelProgress struct {
	// Current - XP, заработанный внутри текущего уровня.
	Current int

	// Required - стоимость шага текущего уровня.
	Required int
}

// ProgressInLevel возвращает прогресс внутри уровня для данного totalXP.
func ProgressInLevel(totalXP int) LevelProgress {
	if totalXP < 0 {
		totalXP = 0
	}

	level := LevelFromXP(totalXP)
	return LevelProgress{
		Current:  totalXP - TotalXPForLevel(level),
		Required: XPRequiredForLevel(level),
	}
}
