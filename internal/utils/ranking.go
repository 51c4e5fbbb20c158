package utils

import (
	"math"
	"time"
)

type RankConfig struct {
	Gravity        float64 // 时间重力 (1.2)
	WeightLike     float64 // 1.0
	WeightDislike  float64 // 1.5
	ScaleFactor    float64 // 放大系数 (100)
	AgeOffsetHours float64 // 新回答的起始年龄 (2)
}

var DefaultRankConfig = RankConfig{
	Gravity:        1.2,
	WeightLike:     1.0,
	WeightDislike:  1.5,
	ScaleFactor:    100.0,
	AgeOffsetHours: 2,
}

// AnswerScore ranks an answer by its votes, decayed by age at now.
// Answers with more dislikes than likes score zero.
func AnswerScore(createdAt, now time.Time, likes, dislikes int) float64 {
	return DefaultRankConfig.Score(createdAt, now, likes, dislikes)
}

func (c RankConfig) Score(createdAt, now time.Time, likes, dislikes int) float64 {
	hours := now.Sub(createdAt).Hours()
	if hours < 0 {
		hours = 0
	}

	// 1. 加权投票
	weighted := float64(likes)*c.WeightLike - float64(dislikes)*c.WeightDislike
	if weighted < 0 {
		weighted = 0
	}

	// 2. 对数平滑，weighted=0 时结果为 0
	numerator := math.Log10(weighted+1) * c.ScaleFactor

	// 3. 时间衰减
	decay := math.Pow(hours+c.AgeOffsetHours, c.Gravity)

	return numerator / decay
}
