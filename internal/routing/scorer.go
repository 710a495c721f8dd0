// Package routing выбирает брокеров и способ исполнения ордера.
//
// Пакет не обращается к сети: он строит решение маршрутизации и конечные
// последовательности дочерних шагов (Sequence), которые исполняет execution.Runner.
package routing

import (
	"sort"

	"orderexec/internal/metrics"
	"orderexec/internal/models"
	"orderexec/pkg/utils"
)

// Веса компонентов балла
const (
	weightPrice       = 0.30
	weightSpeed       = 0.25
	weightReliability = 0.25
	weightCost        = 0.20

	// Время исполнения, при котором скорость оценивается нулём
	speedCeilingMs = 5000.0
	// Улучшение цены (%), дающее максимальную оценку
	priceImprovementCap = 2.0
)

// Eligibility - фильтр допуска брокера к маршрутизации
type Eligibility struct {
	MinHealth              float64 // default 0.70
	MaxConsecutiveFailures int     // default 3 (допуск строго меньше)
	MaxLoad                float64 // default 0.85 (допуск строго меньше)
}

// DefaultEligibility возвращает пороги по умолчанию
func DefaultEligibility() Eligibility {
	return Eligibility{
		MinHealth:              0.70,
		MaxConsecutiveFailures: 3,
		MaxLoad:                0.85,
	}
}

// Scorer фильтрует и ранжирует брокеров
type Scorer struct {
	eligibility Eligibility
}

// NewScorer создаёт scorer с заданным фильтром
func NewScorer(e Eligibility) *Scorer {
	return &Scorer{eligibility: e}
}

// Eligible - брокер проходит фильтр допуска
func (s *Scorer) Eligible(p models.BrokerPerformance) bool {
	return p.Health >= s.eligibility.MinHealth &&
		p.ConsecutiveFailures < s.eligibility.MaxConsecutiveFailures &&
		p.LoadFraction < s.eligibility.MaxLoad
}

// Score рассчитывает балл брокера в диапазоне [0, 100].
//
//	score = 100 × (0.30·price + 0.25·speed + 0.25·reliability + 0.20·cost)
//
// Каждая компонента ограничена [0, 1], результат округляется до 2 знаков.
func Score(p models.BrokerPerformance) float64 {
	price := utils.Clamp01(p.PriceImprovementPct / priceImprovementCap)
	speed := utils.Clamp01((speedCeilingMs - p.ExecutionTimeMs) / speedCeilingMs)
	reliability := utils.Clamp01((p.SuccessRatePct + p.UptimePct) / 200)
	cost := utils.Clamp01(1 - p.FeePct)

	raw := 100 * (weightPrice*price + weightSpeed*speed + weightReliability*reliability + weightCost*cost)
	return utils.RoundHalfUp(utils.Clamp(raw, 0, 100), 2)
}

// Rank фильтрует брокеров и сортирует по баллу (по убыванию, затем по имени).
// Пустой результат - ошибка NoEligibleBrokers.
func (s *Scorer) Rank(perfs []models.BrokerPerformance) ([]models.ScoredBroker, error) {
	ranked := make([]models.ScoredBroker, 0, len(perfs))
	for _, p := range perfs {
		if !s.Eligible(p) {
			continue
		}
		score := Score(p)
		p.OverallScore = score
		ranked = append(ranked, models.ScoredBroker{Name: p.Name, Score: score, Performance: p})
		metrics.SetBrokerScore(p.Name, score)
	}
	if len(ranked) == 0 {
		return nil, models.NoEligibleBrokers()
	}

	sortRanked(ranked)
	return ranked, nil
}

func sortRanked(ranked []models.ScoredBroker) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Name < ranked[j].Name
	})
}
